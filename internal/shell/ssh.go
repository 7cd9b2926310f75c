package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"fabrik/internal/config"
	"fabrik/internal/sshclient"
)

const (
	sshExecutable        = "/usr/bin/ssh"
	defaultScpExecutable = "/usr/bin/scp"
)

// SSHProvider runs commands through a persistent `ssh` process. Hosts with
// an `sshTunnel` get their forward started before the first connection.
type SSHProvider struct {
	base
	shell *persistentShell

	tunnel          *Tunnel
	knownHostsReady bool
}

var _ Provider = (*SSHProvider)(nil)

func NewSSHProvider(host *config.Node, opts Options) *SSHProvider {
	p := &SSHProvider{base: newBase(KindSSH, host, opts)}
	p.shell = newPersistentShell(&p.base, p.startProcess, p.setupCommands)
	return p
}

func (p *SSHProvider) port() string {
	return p.host.String("port", "22")
}

func (p *SSHProvider) target() string {
	return p.host.String("user", "") + "@" + p.host.String("host", "")
}

func (p *SSHProvider) nativeSSH() bool {
	return p.host.Bool("useNativeSsh", false)
}

// commandOptions returns the options that disable known hosts checking.
func (p *SSHProvider) commandOptions(override bool) []string {
	if override || p.host.Bool("disableKnownHosts", false) {
		return []string{"-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null"}
	}
	return nil
}

func (p *SSHProvider) startProcess(ctx context.Context) (*exec.Cmd, error) {
	if err := p.prepareConnection(ctx); err != nil {
		return nil, err
	}
	args, err := p.ShellCommand(nil, ShellOptions{})
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = processEnv(nil)
	return cmd, nil
}

// prepareConnection starts the tunnel and records known hosts.
func (p *SSHProvider) prepareConnection(ctx context.Context) error {
	if p.host.Child("sshTunnel") != nil && p.tunnel == nil {
		if err := p.resolveDockerDestHost(ctx); err != nil {
			return err
		}
		t, err := p.CreateTunnelProcess(ctx, p.host, nil)
		if err != nil {
			return err
		}
		p.tunnel = t
	}
	if p.knownHostsReady || p.host.Bool("disableKnownHosts", false) {
		return nil
	}
	entries := append(append([]string{}, p.opts.KnownHosts...), p.host.Strings("knownHosts")...)
	added, err := sshclient.EnsureKnownHosts(ctx, "", entries, 10*time.Second)
	if err != nil {
		return fmt.Errorf("could not update known hosts: %w", err)
	}
	for _, a := range added {
		p.logger.Info("Added "+a+" to known hosts", nil)
	}
	p.knownHostsReady = true
	return nil
}

// resolveDockerDestHost asks the bridge host for the ip of the docker
// container named in `sshTunnel.destHostFromDockerContainer`.
func (p *SSHProvider) resolveDockerDestHost(ctx context.Context) error {
	container := p.host.String("sshTunnel.destHostFromDockerContainer", "")
	if container == "" || p.host.String("sshTunnel.destHost", "") != "" {
		return nil
	}
	inspect := fmt.Sprintf(
		"docker inspect --format '{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}' %s", shellQuote(container))
	var out string
	var err error
	if p.nativeSSH() {
		out, err = p.bridgeOutputNative(ctx, inspect)
	} else {
		out, err = p.bridgeOutput(ctx, inspect)
	}
	if err != nil {
		return fmt.Errorf("could not get ip of docker container %s: %w", container, err)
	}
	ip := strings.TrimSpace(out)
	if ip == "" {
		return fmt.Errorf("docker container %s has no ip address", container)
	}
	p.host.SetPath("sshTunnel.destHost", ip)
	return nil
}

// bridgeOutput runs command on the tunnel bridge host through ssh.
func (p *SSHProvider) bridgeOutput(ctx context.Context, command string) (string, error) {
	bridge := config.NewNode()
	bridge.Set("configName", p.host.String("configName", "")+"-bridge")
	bridge.Set("host", p.host.String("sshTunnel.bridgeHost", ""))
	bridge.Set("port", p.host.String("sshTunnel.bridgePort", "22"))
	bridge.Set("user", p.host.String("sshTunnel.bridgeUser", ""))
	bridge.Set("disableKnownHosts", p.host.Bool("disableKnownHosts", false))

	bp := NewSSHProvider(bridge, p.opts)
	defer bp.Terminate()
	result, err := bp.Run(ctx, command, true, true)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// bridgeOutputNative runs command on the tunnel bridge host with the built in
// ssh client.
func (p *SSHProvider) bridgeOutputNative(ctx context.Context, command string) (string, error) {
	c, err := sshclient.NewSSHClient(sshclient.Config{
		User:              p.host.String("sshTunnel.bridgeUser", ""),
		Host:              p.host.String("sshTunnel.bridgeHost", ""),
		Port:              p.host.Int("sshTunnel.bridgePort", 22),
		IdentityFile:      p.host.String("identityFile", ""),
		DisableKnownHosts: p.host.Bool("disableKnownHosts", false),
	})
	if err != nil {
		return "", err
	}
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		return "", &TransportError{Op: "connect", Err: err}
	}
	return c.RunCommandWithOutput(command)
}

func (p *SSHProvider) setupCommands(ctx context.Context) ([]string, error) {
	exports, err := p.environment(ctx)
	if err != nil {
		return nil, err
	}
	return append(profileCommands(), exports...), nil
}

// profileCommands source the login profiles of a remote shell.
func profileCommands() []string {
	return []string{
		"if [ -f /etc/profile ]; then . /etc/profile > /dev/null 2>&1; fi; true",
		"if [ -f ~/.bashrc ]; then . ~/.bashrc > /dev/null 2>&1; fi; true",
	}
}

func (p *SSHProvider) Run(ctx context.Context, command string, captureOutput, throwOnError bool) (*CommandResult, error) {
	return p.shell.run(ctx, &p.base, command, captureOutput, throwOnError)
}

func (p *SSHProvider) Exists(ctx context.Context, path string) (bool, error) {
	result, err := p.Run(ctx, fmt.Sprintf("stat %s > /dev/null 2>&1", shellQuote(path)), true, false)
	if err != nil {
		return false, err
	}
	return result.Succeeded(), nil
}

func (p *SSHProvider) scpExecutable() string {
	return p.host.String("scpExecutable", defaultScpExecutable)
}

func (p *SSHProvider) scpCommand() []string {
	cmd := []string{p.scpExecutable(), "-P", p.port()}
	return append(cmd, p.commandOptions(false)...)
}

func (p *SSHProvider) PutFile(ctx context.Context, src, dest string) error {
	if p.nativeSSH() {
		return p.withClient(ctx, func(c *sshclient.SSHClient) error { return c.UploadFile(src, dest) })
	}
	cmd := append(p.scpCommand(), src, p.target()+":"+dest)
	_, err := p.RunProcess(ctx, cmd, false)
	return err
}

func (p *SSHProvider) GetFile(ctx context.Context, src, dest string) error {
	if p.nativeSSH() {
		return p.withClient(ctx, func(c *sshclient.SSHClient) error { return c.DownloadFile(dest, src) })
	}
	cmd := append(p.scpCommand(), p.target()+":"+src, dest)
	_, err := p.RunProcess(ctx, cmd, false)
	return err
}

func (p *SSHProvider) clientConfig() sshclient.Config {
	return sshclient.Config{
		User:              p.host.String("user", ""),
		Host:              p.host.String("host", ""),
		Port:              p.host.Int("port", 22),
		IdentityFile:      p.host.String("identityFile", ""),
		DisableKnownHosts: p.host.Bool("disableKnownHosts", false),
	}
}

func (p *SSHProvider) withClient(ctx context.Context, fn func(c *sshclient.SSHClient) error) error {
	if err := p.prepareConnection(ctx); err != nil {
		return err
	}
	c, err := sshclient.NewSSHClient(p.clientConfig())
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	return fn(c)
}

// CopyFileFrom runs scp on this host to pull the file straight from another
// ssh host and relays through a local temporary file if that fails.
func (p *SSHProvider) CopyFileFrom(ctx context.Context, from Provider, src, dest string) error {
	relay := func(ctx context.Context) error {
		return relayCopy(ctx, from, src, dest, p.PutFile)
	}
	other, ok := from.(*SSHProvider)
	if !ok {
		return relay(ctx)
	}
	direct := func(ctx context.Context) error {
		cmd := []string{p.scpExecutable(), "-o", "PasswordAuthentication=no", "-P", other.port()}
		cmd = append(cmd, p.commandOptions(true)...)
		cmd = append(cmd, other.target()+":"+src, dest)
		_, err := p.Run(ctx, strings.Join(cmd, " "), false, false)
		return err
	}
	return copyWithFallback(ctx, p.logger, "Could not copy file via SSH, try fallback", direct, relay)
}

func (p *SSHProvider) GetFileContents(ctx context.Context, path string) (string, error) {
	return remoteFileContents(ctx, p, path)
}

func (p *SSHProvider) PutFileContents(ctx context.Context, path, content string) error {
	return remotePutFileContents(ctx, p, path, content)
}

func (p *SSHProvider) RealPath(ctx context.Context, path string) (string, error) {
	return remoteRealPath(ctx, p, path)
}

// tunnelCommand forwards publicIP:publicPort to ip:port through the host
// described by cfg.
func (p *SSHProvider) tunnelCommand(ip string, port int, publicIP string, publicPort int, cfg *config.Node) []string {
	cmd := []string{
		sshExecutable,
		"-A",
		fmt.Sprintf("-L%s:%d:%s:%d", publicIP, publicPort, ip, port),
		"-p",
		cfg.String("port", "22"),
		cfg.String("user", "") + "@" + cfg.String("host", ""),
	}
	return append(cmd, p.commandOptions(true)...)
}

func (p *SSHProvider) StartRemoteAccess(ctx context.Context, ip string, port int, publicIP string, publicPort int) error {
	_, err := p.RunProcess(ctx, p.tunnelCommand(ip, port, publicIP, publicPort, p.host), true)
	return err
}

// CreateTunnelProcess forwards target's host:port to its sshTunnel
// destination through the bridge host.
func (p *SSHProvider) CreateTunnelProcess(ctx context.Context, target *config.Node, prefix []string) (*Tunnel, error) {
	tunnel := target.Child("sshTunnel")
	if tunnel == nil {
		return nil, fmt.Errorf("host %s has no sshTunnel configuration", target.String("configName", ""))
	}
	bridge := config.NewNode()
	bridge.Set("host", tunnel.String("bridgeHost", ""))
	bridge.Set("port", tunnel.String("bridgePort", "22"))
	bridge.Set("user", tunnel.String("bridgeUser", ""))

	if target.Bool("useNativeSsh", false) && len(prefix) == 0 {
		return p.nativeTunnel(ctx, target, bridge)
	}

	cmd := p.tunnelCommand(
		tunnel.String("destHost", ""),
		tunnel.Int("destPort", 0),
		target.String("host", ""),
		target.Int("port", 0),
		bridge,
	)
	cmd = append(cmd, "-v", "-N", "-o", "PasswordAuthentication=no")
	if len(prefix) > 0 {
		cmd = append(append([]string{}, prefix...), strings.Join(cmd, " "))
	}
	return startTunnelProcess(ctx, &p.base, cmd)
}

func (p *SSHProvider) nativeTunnel(ctx context.Context, target, bridge *config.Node) (*Tunnel, error) {
	c, err := sshclient.NewSSHClient(sshclient.Config{
		User:              bridge.String("user", ""),
		Host:              bridge.String("host", ""),
		Port:              bridge.Int("port", 22),
		DisableKnownHosts: true,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, &TunnelError{Output: err.Error()}
	}
	local := target.String("host", "localhost") + ":" + strconv.Itoa(target.Int("port", 0))
	remote := target.String("sshTunnel.destHost", "") + ":" + strconv.Itoa(target.Int("sshTunnel.destPort", 0))
	st := sshclient.NewSSHTunnel(c, local, remote)
	logger := p.logger
	st.Logf = func(format string, args ...interface{}) { logger.Debug(fmt.Sprintf(format, args...), nil) }
	if err := st.Start(); err != nil {
		c.Close()
		return nil, &TunnelError{Output: err.Error()}
	}
	p.logger.Info("Started native tunnel "+local+" -> "+remote, nil)

	t := &Tunnel{Command: []string{"native", local, remote}, done: make(chan struct{})}
	t.stop = func() error {
		err := st.Stop()
		c.Close()
		close(t.done)
		return err
	}
	return t, nil
}

func (p *SSHProvider) StartSubShell(ctx context.Context, command []string) (Provider, error) {
	return startSubShell(ctx, p, p.shell, &p.base, command)
}

func (p *SSHProvider) WrapCommandInLoginShell(command []string) []string {
	return append([]string{"/bin/bash", "--login", "-c"}, command...)
}

func (p *SSHProvider) ShellCommand(program []string, opts ShellOptions) ([]string, error) {
	cmd := []string{p.host.String("shellProviderExecutable", sshExecutable), "-A", "-p", p.port()}
	cmd = append(cmd, p.commandOptions(false)...)
	if opts.Tty {
		cmd = append(cmd, "-t")
	}
	cmd = append(cmd, p.target())
	return append(cmd, program...), nil
}

func (p *SSHProvider) RunProcess(ctx context.Context, command []string, interactive bool) (*CommandResult, error) {
	return runProcess(ctx, &p.base, command, interactive)
}

// Terminate closes the shell and the tunnel started for it.
func (p *SSHProvider) Terminate() {
	p.shell.terminate()
	if p.tunnel != nil {
		_ = p.tunnel.Close()
		p.tunnel = nil
	}
}
