// Package task carries the state of one command invocation: the host, its
// shell, the parsed arguments and the results collected along the way.
package task

import (
	"sort"
	"sync"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/shell"
)

// Results collects named outputs of sub tasks. One Results is shared by a
// context and every scope derived from it.
type Results struct {
	mu     sync.Mutex
	values map[string][]string
}

func NewResults() *Results { return &Results{values: map[string][]string{}} }

func (r *Results) Add(key string, values ...string) {
	r.mu.Lock()
	r.values[key] = append(r.values[key], values...)
	r.mu.Unlock()
}

func (r *Results) Get(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values[key]...)
}

func (r *Results) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Context is an immutable snapshot. With derives a new scope; values of
// the parent are never modified, only Results are shared.
type Context struct {
	host     *host.HostConfig
	shell    shell.Provider
	settings *config.Node
	values   map[string]any
	results  *Results
}

func New(h *host.HostConfig, settings *config.Node) *Context {
	c := &Context{host: h, settings: settings, values: map[string]any{}, results: NewResults()}
	if h != nil {
		c.shell = h.Shell()
	}
	return c
}

// With returns a child scope holding the values of c overlaid by overrides.
func (c *Context) With(overrides map[string]any) *Context {
	child := *c
	child.values = make(map[string]any, len(c.values)+len(overrides))
	for k, v := range c.values {
		child.values[k] = cloneValue(v)
	}
	for k, v := range overrides {
		child.values[k] = cloneValue(v)
	}
	return &child
}

// WithShell returns a child scope running its commands on p.
func (c *Context) WithShell(p shell.Provider) *Context {
	child := c.With(nil)
	child.shell = p
	return child
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *config.Node:
		return t.Clone()
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

func (c *Context) Host() *host.HostConfig { return c.host }

func (c *Context) Shell() shell.Provider { return c.shell }

func (c *Context) Settings() *config.Node { return c.settings }

func (c *Context) Results() *Results { return c.results }

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the value of key when it is a string, def otherwise.
func (c *Context) String(key, def string) string {
	if s, ok := c.values[key].(string); ok {
		return s
	}
	return def
}

// Arguments returns the named script arguments of the scope.
func (c *Context) Arguments() map[string]string {
	args, _ := c.values["arguments"].(map[string]string)
	return args
}
