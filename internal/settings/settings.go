// Package settings holds the configuration of the tool itself, as opposed to
// the fabfile describing hosts.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the resolved tool configuration.
type Settings struct {
	Log      LogSettings      `mapstructure:"log"`
	Offline  bool             `mapstructure:"offline"`
	Cache    CacheSettings    `mapstructure:"cache"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Secrets  SecretsSettings  `mapstructure:"secrets"`
	Variants VariantsSettings `mapstructure:"variants"`
	Fabfile  FabfileSettings  `mapstructure:"fabfile"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CacheSettings struct {
	// Dir keeps compressed copies of remote configuration sources.
	Dir string `mapstructure:"dir"`
}

type HTTPSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type SecretsSettings struct {
	// IdentityFile is an age identity used to decrypt the secrets file.
	IdentityFile string `mapstructure:"identityFile"`
	// File is the encrypted secrets file, relative to the fabfile.
	File string `mapstructure:"file"`
}

type VariantsSettings struct {
	MaxParallel int `mapstructure:"maxParallel"`
}

type FabfileSettings struct {
	Names []string `mapstructure:"names"`
}

// DefaultPath is the user settings file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fabrik", "settings.yaml")
}

func homeDir(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(append([]string{home}, parts...)...)
}

// Load reads defaults, the optional settings file and FABRIK_* environment
// overrides. A missing file is not an error, a malformed one is.
func Load(path string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("offline", false)
	v.SetDefault("cache.dir", homeDir(".fabrik", "cache"))
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("secrets.identityFile", homeDir(".fabrik", "age-identity.txt"))
	v.SetDefault("secrets.file", "secrets.age")
	v.SetDefault("variants.maxParallel", 4)
	v.SetDefault("fabfile.names", []string{"fabfile.yaml", "fabfile.yml", ".fabfile.yaml"})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse settings file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FABRIK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if s.Variants.MaxParallel <= 0 {
		s.Variants.MaxParallel = 1
	}
	return &s, nil
}
