// Package variants runs one sub-process of the tool per blueprint variant.
package variants

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"

	"fabrik/internal/logging"
	"fabrik/internal/util"
)

// Plan is the command line executed for one variant.
type Plan struct {
	Variant string
	Command []string
}

func (p Plan) String() string { return strings.Join(p.Command, " ") }

// StripFlags removes the given long flags, in `--name value` and
// `--name=value` form, from args. Flags listed in bools never take a
// separate value.
func StripFlags(args []string, names, bools []string) []string {
	drop := map[string]bool{}
	for _, n := range names {
		drop["--"+n] = true
	}
	isBool := map[string]bool{}
	for _, n := range bools {
		drop["--"+n] = true
		isBool["--"+n] = true
	}
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if name, _, ok := strings.Cut(a, "="); ok && drop[name] {
			continue
		}
		if drop[a] {
			if !isBool[a] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// BuildPlans returns one plan per variant: executable, args without the
// variant selection flags, then --fabfile and --blueprint.
func BuildPlans(executable string, args []string, fabfile string, variants []string) []Plan {
	base := StripFlags(args, []string{"variants", "blueprint", "fabfile"}, []string{"force"})
	plans := make([]Plan, 0, len(variants))
	for _, v := range variants {
		cmd := append([]string{executable}, base...)
		cmd = append(cmd, "--fabfile", fabfile, "--blueprint", v)
		plans = append(plans, Plan{Variant: v, Command: cmd})
	}
	return plans
}

// Confirm prints the plans and asks whether to run them. force skips the
// question.
func Confirm(w io.Writer, plans []Plan, force bool) (bool, error) {
	for _, p := range plans {
		fmt.Fprintf(w, "  %-20s %s\n", p.Variant, p)
	}
	if force {
		return true, nil
	}
	prompt := promptui.Prompt{Label: "Do you want to run these commands", IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Outcome is the result of one plan.
type Outcome struct {
	Variant  string
	ExitCode int
	Err      error
}

type Runner struct {
	MaxParallel int
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      *logging.Logger
}

// Run executes plans with at most MaxParallel processes at once. Every
// output line is prefixed with the variant name.
func (r *Runner) Run(ctx context.Context, plans []Plan) []Outcome {
	logger := r.Logger
	if logger == nil {
		logger = logging.WithFields(nil)
	}
	var mu sync.Mutex
	outcomes := make([]Outcome, len(plans))
	tasks := make([]util.ConcurrentTask, len(plans))
	for i, p := range plans {
		i, p := i, p
		outcomes[i].Variant = p.Variant
		tasks[i] = func(ctx context.Context) error {
			logger.Info("starting variant", map[string]interface{}{"variant": p.Variant, "command": p.String()})
			code, err := r.runOne(ctx, p, &mu)
			outcomes[i].ExitCode = code
			return err
		}
	}
	for i, err := range util.RunAll(ctx, tasks, r.MaxParallel) {
		outcomes[i].Err = err
		if err != nil && outcomes[i].ExitCode == 0 {
			outcomes[i].ExitCode = 1
		}
	}
	return outcomes
}

func (r *Runner) runOne(ctx context.Context, p Plan, mu *sync.Mutex) (int, error) {
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 1, err
	}
	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("starting variant %s: %w", p.Variant, err)
	}

	var wg sync.WaitGroup
	copyLines := func(src io.Reader, dst io.Writer) {
		defer wg.Done()
		sc := bufio.NewScanner(src)
		for sc.Scan() {
			mu.Lock()
			fmt.Fprintf(dst, "[%s] %s\n", p.Variant, sc.Text())
			mu.Unlock()
		}
	}
	wg.Add(2)
	go copyLines(stdout, r.Stdout)
	go copyLines(stderr, r.Stderr)
	wg.Wait()

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 1, err
	}
	return 0, nil
}

// ExitCode is the highest exit code of outcomes.
func ExitCode(outcomes []Outcome) int {
	code := 0
	for _, o := range outcomes {
		if o.ExitCode > code {
			code = o.ExitCode
		}
	}
	return code
}
