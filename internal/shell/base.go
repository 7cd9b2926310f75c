package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"fabrik/internal/config"
	"fabrik/internal/logging"
)

var errDirStackEmpty = errors.New("working directory stack is empty")

var executableMarker = regexp.MustCompile(`#!([A-Za-z0-9_-]+)`)

// base holds the state every provider shares: host data, collaborators and
// the working directory stack.
type base struct {
	kind   Kind
	host   *config.Node
	opts   Options
	logger *logging.Logger
	dirs   []string
}

func newBase(kind Kind, host *config.Node, opts Options) base {
	if host == nil {
		host = config.NewNode()
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithFields(nil)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	root := host.String("rootFolder", ".")
	return base{
		kind:   kind,
		host:   host,
		opts:   opts,
		logger: opts.Logger.WithFields(map[string]interface{}{"host": host.String("configName", ""), "shell": string(kind)}).WithPrefix(newPrefix()),
		dirs:   []string{root},
	}
}

func newPrefix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func (b *base) Kind() Kind { return b.kind }

func (b *base) Host() *config.Node { return b.host }

func (b *base) WorkingDir() string {
	if len(b.dirs) == 0 {
		return "."
	}
	return b.dirs[len(b.dirs)-1]
}

func (b *base) Cd(dir string) {
	if len(b.dirs) == 0 {
		b.dirs = append(b.dirs, dir)
		return
	}
	b.dirs[len(b.dirs)-1] = dir
}

func (b *base) PushWorkingDir(dir string) {
	b.dirs = append(b.dirs, dir)
}

func (b *base) PopWorkingDir() error {
	if len(b.dirs) <= 1 {
		return errDirStackEmpty
	}
	b.dirs = b.dirs[:len(b.dirs)-1]
	return nil
}

// shellQuote single quotes s for a POSIX shell. A leading ~/ stays
// unquoted so the remote shell still expands it.
func shellQuote(s string) string {
	if s == "~" {
		return s
	}
	if rest, ok := strings.CutPrefix(s, "~/"); ok {
		return "~/" + shellQuote(rest)
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExpandCommand replaces #!name markers with the executable configured for
// the host (`executables.name` or `nameExecutable`), or the bare name.
func (b *base) ExpandCommand(command string) string {
	return executableMarker.ReplaceAllStringFunc(command, func(m string) string {
		name := m[2:]
		if exe := b.host.String("executables."+name, ""); exe != "" {
			return exe
		}
		if exe := b.host.String(name+"Executable", ""); exe != "" {
			return exe
		}
		return name
	})
}

func (b *base) resolveSecrets(ctx context.Context, s string) (string, error) {
	if b.opts.Secrets == nil || !strings.Contains(s, "%secret.") {
		return s, nil
	}
	return b.opts.Secrets.ResolveSecrets(ctx, s)
}

// environment returns the export commands for the host's `environment`.
func (b *base) environment(ctx context.Context) ([]string, error) {
	env := b.host.Child("environment")
	if env.Len() == 0 {
		return nil, nil
	}
	env = b.opts.Replacements.ApplyToNode(env)
	var cmds []string
	for _, key := range env.Keys() {
		value, err := b.resolveSecrets(ctx, env.String(key, ""))
		if err != nil {
			return nil, fmt.Errorf("environment variable %s: %w", key, err)
		}
		cmds = append(cmds, fmt.Sprintf(`export %s="%s"`, key, strings.ReplaceAll(value, `"`, `\"`)))
	}
	return cmds, nil
}

// relayCopy downloads src from the other provider into a temporary local
// file and uploads it with put.
func relayCopy(ctx context.Context, from Provider, src, dest string, put func(ctx context.Context, src, dest string) error) error {
	tmpDir, err := os.MkdirTemp("", "fabrik-copy-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	tmp := filepath.Join(tmpDir, filepath.Base(src))
	if err := from.GetFile(ctx, src, tmp); err != nil {
		return fmt.Errorf("could not download %s: %w", src, err)
	}
	if err := put(ctx, tmp, dest); err != nil {
		return fmt.Errorf("could not upload %s: %w", dest, err)
	}
	return nil
}

// copyWithFallback tries direct first and relays through a local temporary
// file when it fails. Only the outcome of the last attempt is reported.
func copyWithFallback(ctx context.Context, logger *logging.Logger, warning string, direct, relay func(ctx context.Context) error) error {
	if direct != nil {
		err := direct(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(warning, map[string]interface{}{"error": err.Error()})
	}
	return relay(ctx)
}
