package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "sync-events",
			Usage:   "Run submitted events in the request instead of publishing them to the workers",
			Sources: cli.EnvVars("SYNC_EVENTS"),
		},
	}
	flags = append(flags, cmd.LogFlags()...)
	flags = append(flags, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "crmflow-api",
		Usage:                 "Accept CRM events and manage automations",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("crmflow-api")
			logger.InfoContext(ctx, "Initializing crmflow API")

			rt, err := cmd.NewRuntime(ctx, cmd.RuntimeConfigFrom(command, "crmflow-api"), logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = rt.Close(context.WithoutCancel(ctx))
			}()

			var sink web.EventSink
			if rt.Bus != nil && !command.Bool("sync-events") {
				sink = web.NewBusSink(rt.Bus)
			}

			api := NewAPI(logger, rt.Engine, sink, rt.Registry)

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				<-sigChan

				logger.InfoContext(ctx, "Shutting down API...")

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmd.ShutdownTimeout)
				defer cancel()

				if err := api.Shutdown(shutdownCtx); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down API", "error", err)
				}
			}()

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
