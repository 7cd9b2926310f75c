package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/logging"
	"fabrik/internal/secrets"
	"fabrik/internal/settings"
	"fabrik/internal/util"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X fabrik/cmd.Version=...".
var Version = "0.1.0"

var (
	opts    = &hostOptions{}
	rootCmd = &cobra.Command{
		Use:           "fabrik",
		Short:         "Run tasks against hosts described in a fabfile",
		Long:          `fabrik reads fabfile.yaml, resolves inheritance and blueprints and runs commands on local, ssh and kubectl hosts.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

func init() {
	addHostFlags(rootCmd.PersistentFlags(), opts)
	rootCmd.AddCommand(newAboutCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newListBlueprintsCmd())
	rootCmd.AddCommand(newScriptCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newPutFileCmd())
	rootCmd.AddCommand(newGetFileCmd())
	rootCmd.AddCommand(newCopyFromCmd())
	rootCmd.AddCommand(newStartRemoteAccessCmd())
	rootCmd.AddCommand(newSSHTunnelCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the command tree and prints a failure the way every command
// reports errors.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		var ve *config.ValidationErrors
		if errors.As(err, &ve) {
			fmt.Fprintln(os.Stderr, "💡 Run `fabrik about --config <name>` after fixing the host configuration")
		}
	}
	return err
}

// app bundles everything a command needs for one invocation.
type app struct {
	settings *settings.Settings
	svc      *config.Service
	registry *host.Registry
	secrets  *secrets.Store
	logger   *logging.Logger
}

func loadApp(ctx context.Context) (*app, error) {
	s, err := settings.Load(opts.settingsFile)
	if err != nil {
		return nil, err
	}
	if err := configureLogging(s); err != nil {
		return nil, err
	}

	svc, err := config.NewService(ctx, config.Options{
		Fabfile:     opts.fabfile,
		Names:       s.Fabfile.Names,
		Offline:     opts.offline || s.Offline,
		CacheDir:    s.Cache.Dir,
		HTTPTimeout: s.HTTP.Timeout,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store := secrets.NewStore(secrets.Options{
		File:         s.Secrets.File,
		Dir:          svc.FabfileDir(),
		IdentityFile: s.Secrets.IdentityFile,
		Declared:     svc.Document().Child("secrets"),
		Prompt:       secrets.TerminalPrompt(),
	})
	logger := logging.WithFields(map[string]interface{}{"fabfile": svc.FabfilePath()})
	registry := host.NewRegistry(svc, host.Options{
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Stdin:   os.Stdin,
		Secrets: store,
	})
	return &app{settings: s, svc: svc, registry: registry, secrets: store, logger: logger}, nil
}

func configureLogging(s *settings.Settings) error {
	levelName := s.Log.Level
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}
	lvl, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	format := s.Log.Format
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	logging.Init(os.Stderr, lvl, map[string]interface{}{"app": "fabrik"})
	logging.SetFormat(logging.ParseFormat(format))
	return nil
}

func (a *app) close() {
	a.registry.Terminate()
}

// hostRunE loads the fabfile, fans out over --variants when requested and
// otherwise hands the selected host to fn.
func hostRunE(fn func(ctx context.Context, a *app, h *host.HostConfig, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if opts.variants != "" {
			return a.runVariants(ctx)
		}
		h, err := a.selectHost(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, h, args)
	}
}

// appRunE is hostRunE for commands that do not need a host.
func appRunE(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, args)
	}
}

func printf(format string, args ...interface{}) { util.Default.Printf(format, args...) }
