package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "crmflow",
		Usage:                 "Validate, load and sweep CRM automations",
		EnableShellCompletion: true,
		Flags:                 cmd.LogFlags(),
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Check a definitions file or directory without touching any store",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("validate expects exactly one path", 2)
					}

					return runValidate(ctx, os.Stdout, command.Args().First())
				},
			},
			{
				Name:      "load",
				Aliases:   []string{"l"},
				Usage:     "Validate definitions and save them to the store",
				ArgsUsage: "<path>",
				Flags:     cmd.RuntimeFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("load expects exactly one path", 2)
					}

					return withRuntime(ctx, command, func(rt *cmd.Runtime) error {
						return runLoad(ctx, os.Stdout, rt.Engine, command.Args().First())
					})
				},
			},
			{
				Name:    "tick",
				Aliases: []string{"t"},
				Usage:   "Run one engine sweep and exit",
				Flags:   cmd.RuntimeFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withRuntime(ctx, command, func(rt *cmd.Runtime) error {
						return runTick(ctx, os.Stdout, rt.Engine)
					})
				},
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withRuntime(ctx context.Context, command *cli.Command, fn func(rt *cmd.Runtime) error) error {
	logger := log.WithModule("crmflow")

	rt, err := cmd.NewRuntime(ctx, cmd.RuntimeConfigFrom(command, "crmflow"), logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = rt.Close(context.WithoutCancel(ctx))
	}()

	return fn(rt)
}
