package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fabrik/internal/logging"
	"fabrik/internal/util"
)

const (
	pollInterval   = 50 * time.Millisecond
	heartbeatAfter = 10 * time.Second
	stderrBacklog  = 200
	killTimeout    = 500 * time.Millisecond
)

type processFactory func(ctx context.Context) (*exec.Cmd, error)

type setupFactory func(ctx context.Context) ([]string, error)

// persistentShell keeps one shell process alive and frames every command
// with a sentinel followed by the exit code of the command.
type persistentShell struct {
	b              *base
	start          processFactory
	setup          setupFactory
	preventTimeout bool
	heartbeatAfter time.Duration
	heartbeats     int

	sentinel string
	exitRe   *regexp.Regexp

	proc    *shellProcess
	capture atomic.Bool
}

type shellProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	quit   chan struct{}
	done   chan struct{}
	logger *logging.Logger

	mu     sync.Mutex
	stderr []string
}

func newPersistentShell(b *base, start processFactory, setup setupFactory) *persistentShell {
	sentinel := "##RESULT-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ":"
	return &persistentShell{
		b:              b,
		start:          start,
		setup:          setup,
		preventTimeout: b.opts.PreventTimeout,
		heartbeatAfter: heartbeatAfter,
		sentinel:       sentinel,
		exitRe:         regexp.MustCompile(regexp.QuoteMeta(sentinel) + `(\d*)$`),
	}
}

// processEnv returns the environment of a shell process.
func processEnv(extra map[string]string) []string {
	env := append(os.Environ(), "LANG=", "LC_CTYPE=POSIX")
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func (s *persistentShell) running() bool { return s.proc != nil }

func (s *persistentShell) ensure(ctx context.Context) error {
	if s.proc != nil {
		return nil
	}
	cmd, err := s.start(ctx)
	if err != nil {
		return &TransportError{Op: "start shell", Err: err}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Op: "start shell", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Op: "start shell", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Op: "start shell", Err: err}
	}

	s.b.logger.Info("Starting shell with "+strings.Join(cmd.Args, " "), nil)
	if err := cmd.Start(); err != nil {
		return &TransportError{Op: "start shell", Err: fmt.Errorf("could not start shell via `%s`: %w", strings.Join(cmd.Args, " "), err)}
	}

	p := &shellProcess{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: s.b.logger,
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		s.readStderr(p, stderr)
	}()
	go func() {
		wg.Wait()
		_ = cmd.Wait()
		close(p.done)
	}()
	s.proc = p

	if s.setup == nil {
		return nil
	}
	cmds, err := s.setup(ctx)
	if err != nil {
		s.terminate()
		return err
	}
	for _, c := range cmds {
		if _, err := s.send(ctx, c, redactExport(c), true, true); err != nil {
			s.terminate()
			return fmt.Errorf("could not set up shell: %w", err)
		}
	}
	return nil
}

// redactExport hides the value of an export line in the log.
func redactExport(line string) string {
	if !strings.HasPrefix(line, "export ") {
		return line
	}
	if i := strings.Index(line, "="); i > 0 {
		return line[:i] + "=***"
	}
	return line
}

func (p *shellProcess) readStdout(r io.Reader) {
	defer close(p.lines)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case p.lines <- strings.TrimRight(line, "\r\n"):
			case <-p.quit:
				_, _ = io.Copy(io.Discard, br)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *persistentShell) readStderr(p *shellProcess, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		p.mu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > stderrBacklog {
			p.stderr = p.stderr[len(p.stderr)-stderrBacklog:]
		}
		p.mu.Unlock()

		if strings.TrimSpace(line) == "" {
			continue
		}
		if s.capture.Load() {
			p.logger.Debug(strings.TrimSpace(line), nil)
		} else {
			fmt.Fprintln(s.b.opts.Stderr, line)
		}
	}
}

func (p *shellProcess) stderrLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.stderr))
	copy(out, p.stderr)
	return out
}

// drain drops output that arrived between two commands.
func (p *shellProcess) drain() {
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// wait reports whether the process was reaped within killTimeout.
func (p *shellProcess) wait() bool {
	select {
	case <-p.done:
		return true
	case <-time.After(killTimeout):
		return false
	}
}

func (p *shellProcess) kill() {
	close(p.quit)
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.wait()
}

// compose builds the line sent to the shell and the variant that is safe to
// log, which still carries unresolved secret references.
func compose(ctx context.Context, b *base, command string) (line, display string, err error) {
	display = fmt.Sprintf("cd %s && %s", shellQuote(b.WorkingDir()), b.ExpandCommand(command))
	display = strings.TrimSuffix(strings.TrimSpace(display), ";")
	line, err = b.resolveSecrets(ctx, display)
	return line, display, err
}

func (s *persistentShell) run(ctx context.Context, b *base, command string, captureOutput, throwOnError bool) (*CommandResult, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	line, display, err := compose(ctx, b, command)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, line, display, captureOutput, throwOnError)
}

// send writes line followed by the sentinel and blocks until the sentinel
// is read back or the process dies.
func (s *persistentShell) send(ctx context.Context, line, display string, captureOutput, throwOnError bool) (*CommandResult, error) {
	p := s.proc
	s.capture.Store(captureOutput)
	p.drain()
	p.mu.Lock()
	p.stderr = nil
	p.mu.Unlock()

	s.b.logger.Info(display, nil)
	input := fmt.Sprintf("%s\nprintf '%%s%%d\\n' '%s' \"$?\"\n", line, s.sentinel)
	if _, err := io.WriteString(p.stdin, input); err != nil {
		return s.terminated(display)
	}

	var collected []string
	last := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.terminate()
			return nil, ctx.Err()

		case l, ok := <-p.lines:
			if !ok {
				return s.terminated(display)
			}
			last = time.Now()
			collected = append(collected, util.StripANSI(l))
			idx := strings.Index(l, s.sentinel)
			if idx < 0 {
				if !captureOutput {
					fmt.Fprintln(s.b.opts.Stdout, l)
				}
				continue
			}
			if !captureOutput && idx > 0 {
				fmt.Fprintln(s.b.opts.Stdout, l[:idx])
			}
			exitCode, output := s.parseFramed(collected)
			result := NewCommandResult(exitCode, output)
			if result.Failed() && (throwOnError || !captureOutput) {
				return result, &CommandFailedError{Command: display, Result: result}
			}
			return result, nil

		case <-ticker.C:
			if s.preventTimeout && time.Since(last) > s.heartbeatAfter {
				s.b.logger.Info("Sending a space to prevent timeout ...", nil)
				_, _ = io.WriteString(p.stdin, " ")
				s.heartbeats++
				last = time.Now()
			}
		}
	}
}

// parseFramed pops trailing empty lines, reads the exit code from the line
// carrying the sentinel and returns everything before it as output. Text in
// front of the sentinel belongs to the output of the command.
func (s *persistentShell) parseFramed(lines []string) (int, []string) {
	return parseFramed(lines, s.sentinel, s.exitRe)
}

func parseFramed(lines []string, sentinel string, exitRe *regexp.Regexp) (int, []string) {
	output := append([]string(nil), lines...)
	var last string
	for len(output) > 0 {
		last = output[len(output)-1]
		output = output[:len(output)-1]
		if strings.TrimSpace(last) != "" {
			break
		}
	}

	idx := strings.LastIndex(last, sentinel)
	if idx < 0 {
		return -1, append(output, last)
	}
	if idx > 0 {
		output = append(output, last[:idx])
	}
	exitCode := 0
	if m := exitRe.FindStringSubmatch(strings.TrimSpace(last[idx:])); m != nil && m[1] != "" {
		exitCode, _ = strconv.Atoi(m[1])
	}
	return exitCode, output
}

// terminated handles a shell that died while a command was running. The
// process reference is dropped so the next command starts a new shell.
func (s *persistentShell) terminated(display string) (*CommandResult, error) {
	p := s.proc
	s.proc = nil
	exited := p.wait()
	if !exited {
		_ = p.cmd.Process.Kill()
		exited = p.wait()
	}

	s.b.logger.Warn("Shell terminated unexpected, will start a new one!", nil)
	stderr := p.stderrLines()
	for _, l := range stderr {
		if strings.TrimSpace(l) != "" {
			s.b.logger.Error(l, nil)
		}
	}
	exitCode := -1
	if exited && p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	result := NewCommandResult(exitCode, stderr)
	return result, &CommandFailedError{
		Command: display,
		Result:  result,
		Err:     &TransportError{Op: "run", Err: ErrShellTerminated},
	}
}

// sendRaw writes a command without framing, used to enter sub shells.
func (s *persistentShell) sendRaw(ctx context.Context, b *base, command string) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	line, display, err := compose(ctx, b, command)
	if err != nil {
		return err
	}
	s.proc.drain()
	s.b.logger.Info(display, nil)
	if _, err := io.WriteString(s.proc.stdin, line+"\n"); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (s *persistentShell) terminate() {
	if s.proc != nil {
		s.b.logger.Info("Terminating current running shell ...", nil)
		s.proc.kill()
		s.proc = nil
	}
	s.b.logger = s.b.logger.WithPrefix(newPrefix())
}
