package cmd

import (
	"context"
	"strings"

	"fabrik/internal/host"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the host configurations of the fabfile grouped by category",
		Args:  cobra.NoArgs,
		RunE: appRunE(func(ctx context.Context, a *app, args []string) error {
			hosts, err := a.registry.Hosts(ctx)
			cats, groups := host.ByCategory(hosts)
			for _, c := range cats {
				printf("%s\n", c.Label)
				for _, h := range groups[c.ID] {
					if d := h.Description(); d != "" {
						printf("  - %s: %s\n", h.Label(), d)
					} else {
						printf("  - %s\n", h.Label())
					}
				}
			}
			if err != nil {
				printf("\n⚠️  Some host configurations are invalid:\n%v\n", err)
			}
			return nil
		}),
	}
}

func newListBlueprintsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list:blueprints",
		Short: "List the blueprint variants available per host configuration",
		Args:  cobra.NoArgs,
		RunE: appRunE(func(ctx context.Context, a *app, args []string) error {
			names := a.svc.HostNames()
			if opts.config != "" {
				names = []string{opts.config}
			}
			found := false
			for _, name := range names {
				available := a.svc.AvailableVariants(name)
				if len(available) == 0 {
					continue
				}
				found = true
				printf("%s\n", name)
				printf("  %s\n", strings.Join(available, "\n  "))
			}
			if !found {
				printf("No blueprint variants found.\n")
			}
			return nil
		}),
	}
}
