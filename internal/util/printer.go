package util

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Printer serializes user facing output. It can be suspended while an
// interactive session owns the terminal.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	suspended bool
}

var Default = &Printer{}

func (p *Printer) writer() io.Writer {
	if p.out == nil {
		return os.Stdout
	}
	return p.out
}

// SetOutput redirects the printer, nil restores stdout.
func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

func (p *Printer) emit(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended {
		return
	}
	fmt.Fprint(p.writer(), msg)
}

func (p *Printer) Printf(format string, a ...interface{}) { p.emit(fmt.Sprintf(format, a...)) }

func (p *Printer) Suspend() {
	p.mu.Lock()
	p.suspended = true
	p.mu.Unlock()
}

func (p *Printer) Resume() {
	p.mu.Lock()
	p.suspended = false
	p.mu.Unlock()
}
