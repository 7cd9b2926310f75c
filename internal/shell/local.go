package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"fabrik/internal/config"
)

// LocalProvider runs commands in a bash process on this machine.
type LocalProvider struct {
	base
	shell *persistentShell
}

var _ Provider = (*LocalProvider)(nil)

func NewLocalProvider(host *config.Node, opts Options) *LocalProvider {
	p := &LocalProvider{base: newBase(KindLocal, host, opts)}
	p.shell = newPersistentShell(&p.base, p.startProcess, p.setupCommands)
	return p
}

func (p *LocalProvider) startProcess(ctx context.Context) (*exec.Cmd, error) {
	args, err := p.ShellCommand(nil, ShellOptions{})
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = processEnv(nil)
	return cmd, nil
}

func (p *LocalProvider) setupCommands(ctx context.Context) ([]string, error) {
	return p.environment(ctx)
}

func (p *LocalProvider) Run(ctx context.Context, command string, captureOutput, throwOnError bool) (*CommandResult, error) {
	return p.shell.run(ctx, &p.base, command, captureOutput, throwOnError)
}

func (p *LocalProvider) localPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.WorkingDir(), path)
}

func (p *LocalProvider) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(p.localPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PutFile copies src to dest relative to the fabfile directory.
func (p *LocalProvider) PutFile(ctx context.Context, src, dest string) error {
	dir := p.opts.FabfileDir
	if dir == "" {
		dir = p.WorkingDir()
	}
	return WithWorkingDir(p, dir, func() error {
		_, err := p.Run(ctx, fmt.Sprintf(`cp -r "%s" "%s"`, src, dest), false, true)
		return err
	})
}

func (p *LocalProvider) GetFile(ctx context.Context, src, dest string) error {
	return p.PutFile(ctx, src, dest)
}

func (p *LocalProvider) CopyFileFrom(ctx context.Context, from Provider, src, dest string) error {
	if from.Kind() == KindLocal {
		return p.PutFile(ctx, src, dest)
	}
	return from.GetFile(ctx, src, p.localPath(dest))
}

func (p *LocalProvider) GetFileContents(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(p.localPath(path))
	return string(b), err
}

func (p *LocalProvider) PutFileContents(_ context.Context, path, content string) error {
	return os.WriteFile(p.localPath(path), []byte(content), 0o644)
}

func (p *LocalProvider) RealPath(_ context.Context, path string) (string, error) {
	abs, err := filepath.Abs(p.localPath(path))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func (p *LocalProvider) StartRemoteAccess(context.Context, string, int, string, int) error {
	return &UnsupportedOperationError{Kind: KindLocal, Op: "startRemoteAccess"}
}

func (p *LocalProvider) CreateTunnelProcess(context.Context, *config.Node, []string) (*Tunnel, error) {
	return nil, &UnsupportedOperationError{Kind: KindLocal, Op: "tunnels"}
}

func (p *LocalProvider) StartSubShell(ctx context.Context, command []string) (Provider, error) {
	return startSubShell(ctx, p, p.shell, &p.base, command)
}

func (p *LocalProvider) WrapCommandInLoginShell(command []string) []string {
	return append([]string{"/bin/bash", "--login", "-c"}, command...)
}

// ShellCommand returns program, or the configured shell when program is empty.
func (p *LocalProvider) ShellCommand(program []string, _ ShellOptions) ([]string, error) {
	if len(program) == 0 {
		return []string{p.host.String("shellExecutable", "/bin/bash")}, nil
	}
	return program, nil
}

func (p *LocalProvider) RunProcess(ctx context.Context, command []string, interactive bool) (*CommandResult, error) {
	return runProcess(ctx, &p.base, command, interactive)
}

func (p *LocalProvider) Terminate() { p.shell.terminate() }
