package shell

import (
	"fmt"
	"strings"
)

// CommandResult is the outcome of one command sent to a shell.
type CommandResult struct {
	ExitCode int
	Output   []string
}

func NewCommandResult(exitCode int, output []string) *CommandResult {
	return &CommandResult{ExitCode: exitCode, Output: output}
}

func (r *CommandResult) Succeeded() bool { return r.ExitCode == 0 }

func (r *CommandResult) Failed() bool { return r.ExitCode != 0 }

// Text joins the output lines.
func (r *CommandResult) Text() string { return strings.Join(r.Output, "\n") }

// Fail builds the error a caller raises for this result.
func (r *CommandResult) Fail(message string) error {
	return &CommandFailedError{Result: r, Message: message}
}

func (r *CommandResult) String() string {
	return fmt.Sprintf("exit code %d, %d line(s) of output", r.ExitCode, len(r.Output))
}
