package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/variants"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

var errNoConfig = errors.New("no host configuration given, use --config <name>")

// selectHost resolves --config and --blueprint. Without --config the user
// picks a host when stdin is a terminal.
func (a *app) selectHost(ctx context.Context) (*host.HostConfig, error) {
	if opts.blueprint != "" {
		return a.registry.FromBlueprint(ctx, opts.config, opts.blueprint)
	}
	name := opts.config
	if name == "" {
		picked, err := a.pickHost(ctx)
		if err != nil {
			return nil, err
		}
		name = picked
	}
	return a.registry.Get(ctx, name)
}

func (a *app) pickHost(ctx context.Context) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errNoConfig
	}
	hosts, err := a.registry.Hosts(ctx)
	if err != nil {
		a.logger.Warn("some host configurations are invalid", map[string]interface{}{"error": err.Error()})
	}
	if len(hosts) == 0 {
		return "", errNoConfig
	}
	cats, groups := host.ByCategory(hosts)
	var labels, names []string
	for _, c := range cats {
		for _, h := range groups[c.ID] {
			labels = append(labels, fmt.Sprintf("%s (%s)", h.Label(), c.Label))
			names = append(names, h.ConfigName())
		}
	}
	prompt := promptui.Select{
		Label: "Select a host configuration",
		Items: labels,
		Size:  10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("host selection cancelled: %w", err)
	}
	return names[idx], nil
}

// runVariants re-runs the current command once per requested variant.
func (a *app) runVariants(ctx context.Context) error {
	available := a.svc.AvailableVariants(opts.config)
	if len(available) == 0 {
		return fmt.Errorf("could not find variants for `%s` in `blueprints`", opts.config)
	}
	names, err := config.ParseVariants(opts.variants, available)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate the fabrik executable: %w", err)
	}

	plans := variants.BuildPlans(exe, os.Args[1:], a.svc.FabfilePath(), names)
	printf("🚀 Running %d variant(s):\n", len(plans))
	ok, err := variants.Confirm(os.Stdout, plans, opts.force)
	if err != nil {
		return err
	}
	if !ok {
		printf("Cancelled.\n")
		return nil
	}

	runner := &variants.Runner{
		MaxParallel: a.settings.Variants.MaxParallel,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Logger:      a.logger,
	}
	outcomes := runner.Run(ctx, plans)
	for _, o := range outcomes {
		if o.ExitCode == 0 {
			printf("✅ %s\n", o.Variant)
		} else {
			printf("❌ %s exited with %d\n", o.Variant, o.ExitCode)
		}
	}
	if code := variants.ExitCode(outcomes); code != 0 {
		return fmt.Errorf("at least one variant failed, highest exit code %d", code)
	}
	return nil
}
