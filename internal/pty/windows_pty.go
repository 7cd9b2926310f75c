//go:build windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	widepty "github.com/aymanbagabas/go-pty"
	"golang.org/x/sys/windows"
)

// winConPTY runs the child in a ConPTY.
type winConPTY struct {
	c     widepty.Pty
	child *widepty.Cmd
}

func Start(cmd *exec.Cmd) (PTY, error) {
	p, err := widepty.New()
	if err != nil {
		return nil, fmt.Errorf("pty: failed to create PTY: %w", err)
	}
	name := cmd.Path
	var args []string
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
		args = cmd.Args[1:]
	}
	c := p.Command(name, args...)
	c.Env = cmd.Env
	c.Dir = cmd.Dir
	if err := c.Start(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("pty: failed to start command in PTY: %w", err)
	}
	return &winConPTY{c: p, child: c}, nil
}

func (w *winConPTY) Wait() error                  { return w.child.Wait() }
func (w *winConPTY) Read(b []byte) (int, error)   { return w.c.Read(b) }
func (w *winConPTY) Write(b []byte) (int, error)  { return w.c.Write(b) }
func (w *winConPTY) Close() error                 { return w.c.Close() }
func (w *winConPTY) SetSize(rows, cols int) error { return w.c.Resize(cols, rows) }

// TerminalSize returns the visible window of the console behind f.
func TerminalSize(f *os.File) (rows, cols int, err error) {
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(windows.Handle(f.Fd()), &info); err != nil {
		return 0, 0, err
	}
	w := info.Window
	return int(w.Bottom-w.Top) + 1, int(w.Right-w.Left) + 1, nil
}

// watchSize polls the console size, Windows has no resize signal.
func watchSize(f *os.File, p PTY) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(250 * time.Millisecond)
		defer t.Stop()
		lastRows, lastCols, _ := TerminalSize(f)
		for {
			select {
			case <-t.C:
				rows, cols, err := TerminalSize(f)
				if err != nil || (rows == lastRows && cols == lastCols) {
					continue
				}
				lastRows, lastCols = rows, cols
				_ = p.SetSize(rows, cols)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
