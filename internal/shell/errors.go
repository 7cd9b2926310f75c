package shell

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCommandFailed   = errors.New("shell command failed")
	ErrShellTerminated = errors.New("shell terminated unexpectedly")
	ErrTunnelFailed    = errors.New("ssh tunnel creation failed")
	ErrUnsupported     = errors.New("operation not supported by shell provider")
)

// CommandFailedError carries the result of a command with a non-zero exit
// code. Err is set when the failure was caused by the transport.
type CommandFailedError struct {
	Command string
	Result  *CommandResult
	Message string
	Err     error
}

func (e *CommandFailedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("`%s` failed!", e.Command)
	}
	if e.Result != nil {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.Result.ExitCode)
		if len(e.Result.Output) > 0 {
			msg += "\n" + strings.Join(e.Result.Output, "\n")
		}
	}
	return msg
}

func (e *CommandFailedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCommandFailed, e.Err}
	}
	return []error{ErrCommandFailed}
}

// TransportError reports a process level failure: the shell could not be
// spawned or died while a command was running.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// TunnelError is returned when an ssh tunnel exits before it is established.
type TunnelError struct {
	Output string
}

func (e *TunnelError) Error() string {
	return "SSH-Tunnel creation failed with \n" + e.Output
}

func (e *TunnelError) Is(target error) bool { return target == ErrTunnelFailed }

type UnsupportedOperationError struct {
	Kind Kind
	Op   string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s shells cannot handle %s!", capitalize(string(e.Kind)), e.Op)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupported }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
