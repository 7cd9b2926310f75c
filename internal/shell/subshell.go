package shell

import (
	"context"
	"fmt"
	"io"
	"strings"

	"fabrik/internal/config"
)

// SubShellProvider runs commands inside a shell that was started from the
// persistent shell of its parent, e.g. `docker exec -i web sh`. It shares the
// parent's process and sentinel but keeps its own directory stack.
type SubShellProvider struct {
	base
	parent Provider
	shell  *persistentShell
}

var _ Provider = (*SubShellProvider)(nil)

func startSubShell(ctx context.Context, parent Provider, shell *persistentShell, parentBase *base, command []string) (Provider, error) {
	if err := shell.sendRaw(ctx, parentBase, strings.Join(command, " ")); err != nil {
		return nil, err
	}
	sub := &SubShellProvider{
		base:   newBase(KindSubShell, parent.Host(), parentBase.opts),
		parent: parent,
		shell:  shell,
	}
	sub.dirs = []string{"."}
	return sub, nil
}

func (p *SubShellProvider) Parent() Provider { return p.parent }

func (p *SubShellProvider) Run(ctx context.Context, command string, captureOutput, throwOnError bool) (*CommandResult, error) {
	if !p.shell.running() {
		return nil, &TransportError{Op: "run", Err: ErrShellTerminated}
	}
	return p.shell.run(ctx, &p.base, command, captureOutput, throwOnError)
}

func (p *SubShellProvider) Exists(ctx context.Context, path string) (bool, error) {
	result, err := p.Run(ctx, fmt.Sprintf("stat %s > /dev/null 2>&1", path), true, false)
	if err != nil {
		return false, err
	}
	return result.Succeeded(), nil
}

func (p *SubShellProvider) unsupported(op string) error {
	return &UnsupportedOperationError{Kind: KindSubShell, Op: op}
}

func (p *SubShellProvider) PutFile(context.Context, string, string) error {
	return p.unsupported("putFile")
}

func (p *SubShellProvider) GetFile(context.Context, string, string) error {
	return p.unsupported("getFile")
}

func (p *SubShellProvider) CopyFileFrom(context.Context, Provider, string, string) error {
	return p.unsupported("copyFileFrom")
}

func (p *SubShellProvider) GetFileContents(ctx context.Context, path string) (string, error) {
	return remoteFileContents(ctx, p, path)
}

func (p *SubShellProvider) PutFileContents(context.Context, string, string) error {
	return p.unsupported("putFileContents")
}

func (p *SubShellProvider) RealPath(ctx context.Context, path string) (string, error) {
	return remoteRealPath(ctx, p, path)
}

func (p *SubShellProvider) StartRemoteAccess(context.Context, string, int, string, int) error {
	return p.unsupported("startRemoteAccess")
}

func (p *SubShellProvider) CreateTunnelProcess(context.Context, *config.Node, []string) (*Tunnel, error) {
	return nil, p.unsupported("tunnels")
}

func (p *SubShellProvider) StartSubShell(ctx context.Context, command []string) (Provider, error) {
	return startSubShell(ctx, p, p.shell, &p.base, command)
}

func (p *SubShellProvider) WrapCommandInLoginShell(command []string) []string {
	return p.parent.WrapCommandInLoginShell(command)
}

func (p *SubShellProvider) ShellCommand(program []string, opts ShellOptions) ([]string, error) {
	return p.parent.ShellCommand(program, opts)
}

func (p *SubShellProvider) RunProcess(ctx context.Context, command []string, interactive bool) (*CommandResult, error) {
	return p.parent.RunProcess(ctx, command, interactive)
}

// Terminate leaves the sub shell; the parent shell keeps running.
func (p *SubShellProvider) Terminate() {
	if p.shell.running() {
		p.logger.Info("Leaving sub shell", nil)
		_, _ = io.WriteString(p.shell.proc.stdin, "exit\n")
	}
}
