package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"fabrik/internal/host"
	"fabrik/internal/pty"
	"fabrik/internal/shell"
	"fabrik/internal/util"

	"github.com/spf13/cobra"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on the host",
		Args:  cobra.NoArgs,
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			sh := h.Shell()
			// Starts tunnels and known hosts handling before the interactive session.
			if _, err := sh.Run(ctx, "true", true, true); err != nil {
				return err
			}
			argv, dir, err := interactiveShellCommand(h)
			if err != nil {
				return err
			}
			a.logger.Info(strings.Join(argv, " "), nil)
			printf("🔗 Connecting to %s\n", h.Label())

			c := exec.Command(argv[0], argv[1:]...)
			c.Dir = dir
			c.Env = os.Environ()
			util.Default.Suspend()
			defer util.Default.Resume()
			err = pty.Run(ctx, c, os.Stdin, os.Stdout)
			if code := pty.ExitCode(err); code > 0 {
				a.logger.Debug("interactive shell exited", map[string]interface{}{"exit": code})
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}),
	}
}

// interactiveShellCommand returns the command line of a login shell in the
// host's root folder and the local directory to start it in.
func interactiveShellCommand(h *host.HostConfig) ([]string, string, error) {
	sh := h.Shell()
	root := h.String("rootFolder", "")
	switch h.Kind() {
	case shell.KindLocal:
		argv, err := sh.ShellCommand(nil, shell.ShellOptions{Tty: true})
		return argv, root, err
	case shell.KindKubectl:
		program := []string{h.String("shellExecutable", "/bin/sh")}
		if root != "" {
			program = []string{"/bin/sh", "-c", fmt.Sprintf("cd %s && exec %s", quote(root), program[0])}
		}
		argv, err := sh.ShellCommand(program, shell.ShellOptions{Tty: true, ShellProvided: true})
		return argv, "", err
	default:
		var program []string
		if root != "" {
			program = []string{fmt.Sprintf("cd %s && exec $SHELL -l", quote(root))}
		}
		argv, err := sh.ShellCommand(program, shell.ShellOptions{Tty: true})
		return argv, "", err
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func newStartRemoteAccessCmd() *cobra.Command {
	var (
		ip         string
		port       int
		publicIP   string
		publicPort int
	)
	cmd := &cobra.Command{
		Use:   "start-remote-access",
		Short: "Forward a port reachable from the host to this machine",
		Args:  cobra.NoArgs,
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			printf("🔗 Forwarding %s:%d of %s to %s:%d, press Ctrl+C to stop\n", ip, port, h.ConfigName(), publicIP, publicPort)
			err := h.Shell().StartRemoteAccess(ctx, ip, port, publicIP, publicPort)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&ip, "ip", "localhost", "Address to forward, as seen from the host")
	cmd.Flags().IntVar(&port, "port", 80, "Port to forward")
	cmd.Flags().StringVar(&publicIP, "public-ip", "localhost", "Local address to listen on")
	cmd.Flags().IntVar(&publicPort, "public-port", 8888, "Local port to listen on")
	return cmd
}

func newSSHTunnelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh-tunnel",
		Short: "Open the sshTunnel of the host and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			t, err := h.Shell().CreateTunnelProcess(ctx, h.Raw(), nil)
			if err != nil {
				return err
			}
			defer t.Close()
			printf("🔗 Tunnel for %s listening on %s:%d, press Ctrl+C to stop\n", h.ConfigName(), h.String("host", "localhost"), h.Raw().Int("port", 0))
			select {
			case <-ctx.Done():
				return nil
			case <-t.Done():
				return t.Wait()
			}
		}),
	}
}
