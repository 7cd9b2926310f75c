package script

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"fabrik/internal/config"
	"fabrik/internal/logging"
	"fabrik/internal/shell"
	"fabrik/internal/task"
)

var missingArgumentRe = regexp.MustCompile(`%arguments\.([A-Za-z0-9_\-]+)%`)

// Runner executes scripts line by line on the shell of a task context.
type Runner struct {
	logger *logging.Logger
}

func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.WithFields(nil)
	}
	return &Runner{logger: logger}
}

// Run executes s. Exit codes of every line are added to the `exitCode`
// results of tc. The result of the last executed line is returned.
func (r *Runner) Run(ctx context.Context, tc *task.Context, s *Script) (*shell.CommandResult, error) {
	sh := tc.Shell()
	if sh == nil {
		return nil, errors.New("no shell available to run the script")
	}
	lines, err := r.expand(tc, s)
	if err != nil {
		return nil, err
	}

	root := s.RootFolder
	if root == "" {
		root = sh.WorkingDir()
	}
	logger := r.logger.WithFields(map[string]interface{}{"script": s.Name})

	var last *shell.CommandResult
	err = shell.WithWorkingDir(sh, root, func() error {
		for _, line := range lines {
			if dir, ok := cdTarget(line); ok {
				if !path.IsAbs(dir) {
					dir = path.Join(sh.WorkingDir(), dir)
				}
				sh.Cd(dir)
				continue
			}
			result, err := sh.Run(ctx, line, false, false)
			if result != nil {
				last = result
				tc.Results().Add("exitCode", strconv.Itoa(result.ExitCode))
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, shell.ErrCommandFailed) || errors.Is(err, shell.ErrShellTerminated) {
				return err
			}
			if s.BreakOnFirstError {
				return fmt.Errorf("script %s stopped: %w", s.Name, err)
			}
			logger.Warn("command failed, continuing", map[string]interface{}{"command": line, "exit": result.ExitCode})
		}
		return nil
	})
	return last, err
}

// expand replaces %arguments.x%, %host.x% and %settings.x% placeholders
// and reports arguments the caller did not provide.
func (r *Runner) expand(tc *task.Context, s *Script) ([]string, error) {
	args := map[string]any{}
	for k, v := range s.Defaults {
		args[k] = v
	}
	for k, v := range tc.Arguments() {
		args[k] = v
	}
	trees := map[string]*config.Node{
		"arguments": config.NodeFromMap(args),
		"settings":  tc.Settings(),
	}
	if h := tc.Host(); h != nil {
		trees["host"] = h.Raw()
	}
	replacements := config.ExpandVariables(trees)

	out := make([]string, 0, len(s.Lines))
	missing := map[string]bool{}
	var names []string
	for _, line := range s.Lines {
		expanded := replacements.Apply(line)
		for _, m := range missingArgumentRe.FindAllStringSubmatch(expanded, -1) {
			if !missing[m[1]] {
				missing[m[1]] = true
				names = append(names, m[1])
			}
		}
		out = append(out, expanded)
	}
	if len(names) > 0 {
		return nil, fmt.Errorf("missing arguments for script %s: %s", s.Name, strings.Join(names, ", "))
	}
	return out, nil
}

func cdTarget(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "cd" {
		return "", false
	}
	return fields[1], true
}
