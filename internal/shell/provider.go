// Package shell runs commands on hosts through long lived shell processes.
//
// Every transport (local bash, ssh, kubectl exec) keeps one process open and
// frames each command with a unique sentinel so the exit code can be read
// back from the output stream.
package shell

import (
	"context"
	"io"

	"fabrik/internal/config"
	"fabrik/internal/logging"
)

// Kind identifies a transport and is the value of the `shellProvider` host key.
type Kind string

const (
	KindLocal    Kind = "local"
	KindSSH      Kind = "ssh"
	KindKubectl  Kind = "kubectl"
	KindSubShell Kind = "sub-shell"
)

// ShellOptions tweaks the interactive shell command of a provider.
type ShellOptions struct {
	Tty bool
	// ShellProvided means the program already starts a shell, so the
	// provider must not append its own shell executable.
	ShellProvided bool
}

// Provider is the execution protocol every transport implements. A provider
// is not safe for concurrent use; commands are serialized on one process.
type Provider interface {
	Kind() Kind
	Host() *config.Node

	WorkingDir() string
	Cd(dir string)
	PushWorkingDir(dir string)
	PopWorkingDir() error

	// Run executes command in the current working directory. A failed
	// command returns its result together with a *CommandFailedError. The
	// result is nil when the shell cannot be started, a secret cannot be
	// resolved or ctx is done.
	Run(ctx context.Context, command string, captureOutput, throwOnError bool) (*CommandResult, error)
	Exists(ctx context.Context, path string) (bool, error)

	PutFile(ctx context.Context, src, dest string) error
	GetFile(ctx context.Context, src, dest string) error
	// CopyFileFrom copies src on the from provider to dest on this one.
	CopyFileFrom(ctx context.Context, from Provider, src, dest string) error
	GetFileContents(ctx context.Context, path string) (string, error)
	PutFileContents(ctx context.Context, path, content string) error
	RealPath(ctx context.Context, path string) (string, error)

	StartRemoteAccess(ctx context.Context, ip string, port int, publicIP string, publicPort int) error
	CreateTunnelProcess(ctx context.Context, target *config.Node, prefix []string) (*Tunnel, error)

	StartSubShell(ctx context.Context, command []string) (Provider, error)
	ExpandCommand(command string) string
	WrapCommandInLoginShell(command []string) []string
	ShellCommand(program []string, opts ShellOptions) ([]string, error)
	RunProcess(ctx context.Context, command []string, interactive bool) (*CommandResult, error)

	// Terminate kills the underlying process; the next Run starts a new one.
	Terminate()
}

// SecretResolver replaces %secret.NAME% references.
type SecretResolver interface {
	ResolveSecrets(ctx context.Context, s string) (string, error)
}

// Options are the collaborators a provider needs besides its host config.
type Options struct {
	Logger  *logging.Logger
	Stdout  io.Writer
	Stderr  io.Writer
	Stdin   io.Reader
	Secrets SecretResolver
	// Replacements expand %settings.x% and %host.x% in the environment.
	Replacements   config.Replacements
	FabfileDir     string
	PreventTimeout bool
	// KnownHosts are ensured before the first ssh connection, in addition to
	// the host's own `knownHosts` entries.
	KnownHosts []string
}

// WithWorkingDir runs fn with dir pushed on the directory stack of p and
// always pops it again.
func WithWorkingDir(p Provider, dir string, fn func() error) (err error) {
	p.PushWorkingDir(dir)
	defer func() {
		if perr := p.PopWorkingDir(); perr != nil && err == nil {
			err = perr
		}
	}()
	return fn()
}
