package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"fabrik/internal/config"
)

// KubectlProvider runs commands in a pod through `kubectl exec -i`.
type KubectlProvider struct {
	base
	shell *persistentShell
}

var _ Provider = (*KubectlProvider)(nil)

var errNoPod = errors.New("could not get shell, as podForCli is empty")

func NewKubectlProvider(host *config.Node, opts Options) *KubectlProvider {
	p := &KubectlProvider{base: newBase(KindKubectl, host, opts)}
	p.shell = newPersistentShell(&p.base, p.startProcess, p.setupCommands)
	return p
}

// KubectlCommand returns the kubectl invocation with the configured options,
// kubeconfig and namespace.
func KubectlCommand(host *config.Node, executable string) []string {
	cmd := []string{executable}
	opts := host.Child("kubectlOptions")
	opts.Iterate(func(k string, v any) bool {
		cmd = append(cmd, k)
		if s := opts.String(k, ""); s != "" {
			cmd = append(cmd, s)
		}
		return true
	})
	for _, key := range []string{"kubeconfig", "namespace"} {
		if v := host.String("kube."+key, ""); v != "" {
			cmd = append(cmd, "--"+key, v)
		}
	}
	return cmd
}

func (p *KubectlProvider) kubeCmd() []string {
	return KubectlCommand(p.host, p.host.String("kubectlExecutable", "kubectl"))
}

func (p *KubectlProvider) pod() string {
	return p.host.String("kube.podForCli", "")
}

// resolvePod looks up the first pod matching `kube.podSelector` when no
// `kube.podForCli` is configured.
func (p *KubectlProvider) resolvePod(ctx context.Context) error {
	if p.pod() != "" {
		return nil
	}
	selector := p.host.Child("kube.podSelector")
	if selector.Len() == 0 {
		return errNoPod
	}
	var parts []string
	for _, k := range selector.Keys() {
		parts = append(parts, k+"="+selector.String(k, ""))
	}
	sort.Strings(parts)
	cmd := append(p.kubeCmd(), "get", "pods", "-l", strings.Join(parts, ","), "-o", "jsonpath={.items[0].metadata.name}")
	result, err := runProcess(ctx, &p.base, cmd, false)
	if err != nil {
		return fmt.Errorf("could not find pod for %s: %w", strings.Join(parts, ","), err)
	}
	pod := strings.TrimSpace(result.Text())
	if pod == "" {
		return fmt.Errorf("no pod matches %s", strings.Join(parts, ","))
	}
	p.host.SetPath("kube.podForCli", pod)
	return nil
}

func (p *KubectlProvider) startProcess(ctx context.Context) (*exec.Cmd, error) {
	if err := p.resolvePod(ctx); err != nil {
		return nil, err
	}
	args, err := p.ShellCommand([]string{p.host.String("shellExecutable", "/bin/sh")}, ShellOptions{})
	if err != nil {
		return nil, err
	}
	env := map[string]string{}
	kubeEnv := p.host.Child("kube.environment")
	for _, k := range kubeEnv.Keys() {
		env[k] = kubeEnv.String(k, "")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = processEnv(env)
	return cmd, nil
}

func (p *KubectlProvider) setupCommands(ctx context.Context) ([]string, error) {
	exports, err := p.environment(ctx)
	if err != nil {
		return nil, err
	}
	return append(profileCommands(), exports...), nil
}

func (p *KubectlProvider) Run(ctx context.Context, command string, captureOutput, throwOnError bool) (*CommandResult, error) {
	return p.shell.run(ctx, &p.base, command, captureOutput, throwOnError)
}

func (p *KubectlProvider) Exists(ctx context.Context, path string) (bool, error) {
	result, err := p.Run(ctx, fmt.Sprintf("stat %s > /dev/null 2>&1", shellQuote(path)), true, false)
	if err != nil {
		return false, err
	}
	return result.Succeeded(), nil
}

func (p *KubectlProvider) PutFileCommand(src, dest string) []string {
	return append(p.kubeCmd(), "cp", strings.TrimSpace(src), p.pod()+":"+strings.TrimSpace(dest))
}

func (p *KubectlProvider) GetFileCommand(src, dest string) []string {
	return append(p.kubeCmd(), "cp", p.pod()+":"+strings.TrimSpace(src), strings.TrimSpace(dest))
}

func (p *KubectlProvider) PutFile(ctx context.Context, src, dest string) error {
	if err := p.resolvePod(ctx); err != nil {
		return err
	}
	_, err := p.RunProcess(ctx, p.PutFileCommand(src, dest), false)
	return err
}

func (p *KubectlProvider) GetFile(ctx context.Context, src, dest string) error {
	if err := p.resolvePod(ctx); err != nil {
		return err
	}
	_, err := p.RunProcess(ctx, p.GetFileCommand(src, dest), false)
	return err
}

func (p *KubectlProvider) CopyFileFrom(ctx context.Context, from Provider, src, dest string) error {
	return relayCopy(ctx, from, src, dest, p.PutFile)
}

func (p *KubectlProvider) GetFileContents(ctx context.Context, path string) (string, error) {
	return remoteFileContents(ctx, p, path)
}

func (p *KubectlProvider) PutFileContents(ctx context.Context, path, content string) error {
	return remotePutFileContents(ctx, p, path, content)
}

func (p *KubectlProvider) RealPath(ctx context.Context, path string) (string, error) {
	return remoteRealPath(ctx, p, path)
}

func (p *KubectlProvider) StartRemoteAccess(context.Context, string, int, string, int) error {
	return &UnsupportedOperationError{Kind: KindKubectl, Op: "startRemoteAccess"}
}

func (p *KubectlProvider) CreateTunnelProcess(context.Context, *config.Node, []string) (*Tunnel, error) {
	return nil, &UnsupportedOperationError{Kind: KindKubectl, Op: "tunnels"}
}

func (p *KubectlProvider) StartSubShell(ctx context.Context, command []string) (Provider, error) {
	return startSubShell(ctx, p, p.shell, &p.base, command)
}

func (p *KubectlProvider) WrapCommandInLoginShell(command []string) []string {
	return append([]string{"/bin/bash", "--login", "-c"}, command...)
}

// ShellCommand builds `kubectl exec -i[t] <pod> -- ...`. An interactive
// session gets the configured shell unless program already provides one.
func (p *KubectlProvider) ShellCommand(program []string, opts ShellOptions) ([]string, error) {
	if p.pod() == "" {
		return nil, errNoPod
	}
	cmd := append(p.kubeCmd(), "exec")
	if opts.Tty {
		cmd = append(cmd, "-it")
	} else {
		cmd = append(cmd, "-i")
	}
	cmd = append(cmd, p.pod(), "--")
	if opts.Tty && !opts.ShellProvided {
		cmd = append(cmd, p.host.String("shellExecutable", "/bin/sh"))
	}
	return append(cmd, program...), nil
}

func (p *KubectlProvider) RunProcess(ctx context.Context, command []string, interactive bool) (*CommandResult, error) {
	return runProcess(ctx, &p.base, command, interactive)
}

func (p *KubectlProvider) Terminate() { p.shell.terminate() }
