//go:build !windows

package pty

import (
	"os"
	"os/exec"
	"os/signal"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

type unixPTY struct {
	f   *os.File
	cmd *exec.Cmd
}

// Start runs cmd with a new pseudo terminal as its controlling terminal.
func Start(cmd *exec.Cmd) (PTY, error) {
	f, err := creackpty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f, cmd: cmd}, nil
}

func (p *unixPTY) Wait() error                 { return p.cmd.Wait() }
func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }

func (p *unixPTY) Close() error {
	err := p.f.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return err
}

func (p *unixPTY) SetSize(rows, cols int) error {
	return creackpty.Setsize(p.f, &creackpty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// TerminalSize returns the window size of the terminal behind f.
func TerminalSize(f *os.File) (rows, cols int, err error) {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Row), int(ws.Col), nil
}

// watchSize forwards SIGWINCH size changes of f to p.
func watchSize(f *os.File, p PTY) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				if rows, cols, err := TerminalSize(f); err == nil {
					_ = p.SetSize(rows, cols)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
