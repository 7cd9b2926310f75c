// Package script runs named command lists from the fabfile on a host shell.
package script

import (
	"errors"
	"fmt"
	"sort"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/util"
)

var ErrScriptNotFound = errors.New("script not found")

// Script is one entry of a `scripts` section. It is either a list of
// lines, a multi-line string, or a mapping with `script`, `defaults`,
// `breakOnFirstError` and `rootFolder`.
type Script struct {
	Name              string
	Lines             []string
	Defaults          map[string]string
	BreakOnFirstError bool
	RootFolder        string
}

// Parse builds a script from its configuration value.
func Parse(name string, raw any) (*Script, error) {
	s := &Script{Name: name, BreakOnFirstError: true, Defaults: map[string]string{}}
	body := raw
	if n, ok := raw.(*config.Node); ok {
		var found bool
		if body, found = n.Get("script"); !found {
			return nil, fmt.Errorf("script %s: missing key `script`", name)
		}
		s.BreakOnFirstError = n.Bool("breakOnFirstError", true)
		s.RootFolder = n.String("rootFolder", "")
		defaults := n.Child("defaults")
		for _, k := range defaults.Keys() {
			s.Defaults[k] = defaults.String(k, "")
		}
	}
	switch b := body.(type) {
	case string:
		s.Lines = util.SplitScriptLines(b)
	case []any:
		for _, line := range config.AsStrings(b) {
			s.Lines = append(s.Lines, util.SplitScriptLines(line)...)
		}
	default:
		return nil, fmt.Errorf("script %s: expected a list of commands, got %T", name, body)
	}
	return s, nil
}

// Find looks the script up in the host's `scripts` first, then in the
// global section.
func Find(h *host.HostConfig, global *config.Node, name string) (*Script, error) {
	for _, section := range []*config.Node{hostScripts(h), global} {
		if raw, ok := section.Get(name); ok && raw != nil {
			return Parse(name, raw)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
}

// Names lists every script available for h, sorted.
func Names(h *host.HostConfig, global *config.Node) []string {
	seen := map[string]bool{}
	var out []string
	for _, section := range []*config.Node{hostScripts(h), global} {
		for _, k := range section.Keys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func hostScripts(h *host.HostConfig) *config.Node {
	if h == nil {
		return nil
	}
	return h.Raw().Child("scripts")
}
