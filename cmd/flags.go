package cmd

import (
	"fabrik/internal/settings"

	"github.com/spf13/pflag"
)

// hostOptions are the flags shared by every command.
type hostOptions struct {
	config       string
	fabfile      string
	blueprint    string
	variants     string
	force        bool
	offline      bool
	settingsFile string
	logLevel     string
	logFormat    string
}

func addHostFlags(fs *pflag.FlagSet, o *hostOptions) {
	fs.StringVarP(&o.config, "config", "c", "", "Host configuration to use")
	fs.StringVar(&o.fabfile, "fabfile", "", "Path to the fabfile, searched upwards from the working directory when empty")
	fs.StringVar(&o.blueprint, "blueprint", "", "Create the host configuration from the blueprint of --config for this variant")
	fs.StringVar(&o.variants, "variants", "", "Run the command for all variants or a comma separated list of them")
	fs.BoolVar(&o.force, "force", false, "Do not ask for confirmation")
	fs.BoolVar(&o.offline, "offline", false, "Only use cached copies of remote configuration sources")
	fs.StringVar(&o.settingsFile, "settings", settings.DefaultPath(), "Settings file of the tool")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
}
