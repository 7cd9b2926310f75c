// Package pty runs interactive commands inside a pseudo terminal bridged to
// the terminal of the current process.
package pty

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/term"
)

// PTY is a small, cross-platform abstraction over a pseudo-terminal running
// one child process.
type PTY interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Wait() error
	SetSize(rows, cols int) error
}

// outputGrace bounds how long Run keeps copying output after the child
// exited.
const outputGrace = 2 * time.Second

// Run starts cmd in a pseudo terminal, copies stdin to it and its output to
// stdout until the child exits. When stdin is a terminal it is switched to
// raw mode for the duration and size changes are forwarded.
func Run(ctx context.Context, cmd *exec.Cmd, stdin io.Reader, stdout io.Writer) error {
	p, err := Start(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	if f, ok := stdout.(*os.File); ok {
		if rows, cols, err := TerminalSize(f); err == nil {
			_ = p.SetSize(rows, cols)
		}
		stop := watchSize(f, p)
		defer stop()
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err == nil {
			defer term.Restore(int(f.Fd()), old)
		}
	}

	go func() { _, _ = io.Copy(p, stdin) }()
	outDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(stdout, p)
		close(outDone)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.Wait() }()

	select {
	case err = <-waitErr:
	case <-ctx.Done():
		_ = p.Close()
		<-waitErr
		return ctx.Err()
	}
	select {
	case <-outDone:
	case <-time.After(outputGrace):
	}
	return err
}

// ExitCode extracts the exit code of a finished child, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
