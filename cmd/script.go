package cmd

import (
	"context"
	"fmt"
	"strings"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/script"
	"fabrik/internal/task"

	"github.com/spf13/cobra"
)

func newScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "script [name] [key=value ...]",
		Short: "Run a script of the host or of the fabfile, or list them without a name",
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			if len(args) == 0 {
				names := script.Names(h, a.svc.Scripts())
				if len(names) == 0 {
					printf("No scripts found for %s\n", h.ConfigName())
					return nil
				}
				printf("Available scripts for %s:\n  %s\n", h.ConfigName(), strings.Join(names, "\n  "))
				return nil
			}

			s, err := script.Find(h, a.svc.Scripts(), args[0])
			if err != nil {
				return err
			}
			tc := task.New(h, a.svc.Settings()).With(map[string]any{
				"arguments": config.ParseArguments(args[1:]),
			})
			printf("🚀 Running script %s on %s\n", s.Name, h.Label())
			result, err := script.NewRunner(a.logger).Run(ctx, tc, s)
			if err != nil {
				return err
			}
			if result != nil && result.Failed() {
				return fmt.Errorf("script %s finished with exit code %d", s.Name, result.ExitCode)
			}
			printf("✅ Script %s finished\n", s.Name)
			return nil
		}),
	}
}
