package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/definitions"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "tick-schedule",
			Usage:   "Cron schedule of the engine sweep",
			Value:   scheduler.DefaultSpec,
			Sources: cli.EnvVars("TICK_SCHEDULE"),
		},
		&cli.DurationFlag{
			Name:    "tick-timeout",
			Usage:   "Upper bound for one sweep (defaults to the sweep lease TTL)",
			Sources: cli.EnvVars("TICK_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "definitions-path",
			Usage:   "YAML file or directory of automation definitions to load on start",
			Sources: cli.EnvVars("DEFINITIONS_PATH"),
		},
	}
	flags = append(flags, cmd.LogFlags()...)
	flags = append(flags, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "crmflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run automations for CRM events and the periodic sweep",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("crmflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing crmflow worker")

			rt, err := cmd.NewRuntime(ctx, cmd.RuntimeConfigFrom(command, "crmflow-worker"), logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = rt.Close(context.WithoutCancel(ctx))
			}()

			if path := command.String("definitions-path"); path != "" {
				file, err := definitions.Load(path)
				if err != nil {
					return err
				}

				if _, err := definitions.Seed(ctx, rt.Engine, file, logger); err != nil {
					return fmt.Errorf("failed to load definitions: %w", err)
				}
			}

			runner, err := scheduler.New(rt.Engine, rt.Locker, scheduler.Options{
				Spec:    command.String("tick-schedule"),
				Timeout: command.Duration("tick-timeout"),
			}, logger)
			if err != nil {
				return err
			}

			worker := NewWorkerManager(workerID, rt.Engine, rt.Bus, runner, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to run worker", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
