//go:build !windows

package pty

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRunCopiesOutputAndExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	var out bytes.Buffer
	err := Run(context.Background(), exec.Command("/bin/sh", "-c", "echo hello from pty; exit 3"), strings.NewReader(""), &out)
	if code := ExitCode(err); code != 3 {
		t.Fatalf("expected exit code 3, got %d (%v)", code, err)
	}
	if !strings.Contains(out.String(), "hello from pty") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, exec.Command("/bin/sh", "-c", "exec sleep 10"), strings.NewReader(""), &bytes.Buffer{})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("Run did not return after cancel")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error must map to 0")
	}
	if ExitCode(os.ErrNotExist) != -1 {
		t.Fatalf("non exit errors must map to -1")
	}
}
