package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// runProcess runs a one-off process next to the persistent shell. An
// interactive process is attached to the terminal, otherwise stdout is
// collected into the result and stderr is forwarded.
func runProcess(ctx context.Context, b *base, command []string, interactive bool) (*CommandResult, error) {
	if len(command) == 0 {
		return nil, errors.New("empty command")
	}
	b.logger.Info(strings.Join(command, " "), nil)

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = processEnv(nil)
	cmd.Stderr = b.opts.Stderr

	var output []string
	if interactive {
		cmd.Stdin = b.opts.Stdin
		cmd.Stdout = b.opts.Stdout
		if err := cmd.Run(); err != nil {
			return exitResult(command, nil, err)
		}
		return NewCommandResult(0, nil), nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "run process", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "run process", Err: err}
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		output = append(output, sc.Text())
	}
	if err := cmd.Wait(); err != nil {
		return exitResult(command, output, err)
	}
	return NewCommandResult(0, output), nil
}

func exitResult(command []string, output []string, err error) (*CommandResult, error) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, &TransportError{Op: "run process", Err: err}
	}
	result := NewCommandResult(exitErr.ExitCode(), output)
	return result, &CommandFailedError{Command: strings.Join(command, " "), Result: result}
}

// Tunnel is a running port forward. Close stops it.
type Tunnel struct {
	Command []string

	stop func() error
	done chan struct{}
	once sync.Once
	err  error
}

// Done is closed when the tunnel exits.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Wait blocks until the tunnel exits and returns its error.
func (t *Tunnel) Wait() error {
	<-t.done
	return t.err
}

func (t *Tunnel) Close() error {
	var err error
	t.once.Do(func() {
		if t.stop != nil {
			err = t.stop()
		}
	})
	return err
}

const tunnelReadyMarker = "Entering interactive session"

// startTunnelProcess spawns an ssh forward and waits until ssh reports the
// interactive session or exits.
func startTunnelProcess(ctx context.Context, b *base, command []string) (*Tunnel, error) {
	b.logger.Info("Starting tunnel with "+strings.Join(command, " "), nil)

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = processEnv(nil)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TransportError{Op: "start tunnel", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "start tunnel", Err: err}
	}

	t := &Tunnel{
		Command: command,
		done:    make(chan struct{}),
		stop: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
	}
	ready := make(chan struct{})
	var mu sync.Mutex
	var diag strings.Builder
	logger := b.logger
	go func() {
		var readyOnce sync.Once
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			logger.Debug(line, nil)
			mu.Lock()
			diag.WriteString(line + "\n")
			mu.Unlock()
			if strings.Contains(line, tunnelReadyMarker) {
				readyOnce.Do(func() { close(ready) })
			}
		}
		t.err = cmd.Wait()
		close(t.done)
	}()

	select {
	case <-ready:
		return t, nil
	case <-t.done:
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() != 0 {
			mu.Lock()
			defer mu.Unlock()
			return nil, &TunnelError{Output: diag.String()}
		}
		return t, nil
	case <-ctx.Done():
		_ = t.Close()
		<-t.done
		return nil, fmt.Errorf("waiting for tunnel: %w", ctx.Err())
	}
}
