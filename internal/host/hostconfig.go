// Package host turns resolved fabfile entries into validated host
// configurations, each bound to the shell provider that reaches it.
package host

import (
	"fmt"

	"fabrik/internal/config"
	"fabrik/internal/shell"
)

// Category groups hosts in listings.
type Category struct {
	ID    string
	Label string
}

var unknownCategory = Category{ID: "unknown", Label: "Unknown category"}

// HostConfig is one resolved host. Its data is shared with the shell
// provider, so changes made through Set are visible to the transport.
type HostConfig struct {
	data     *config.Node
	shell    shell.Provider
	kind     shell.Kind
	category Category
}

func newHostConfig(data *config.Node, kind shell.Kind, provider shell.Provider) *HostConfig {
	h := &HostConfig{data: data, shell: provider, kind: kind, category: unknownCategory}
	if c := data.Child("info.category"); c != nil {
		h.category = Category{ID: c.String("id", unknownCategory.ID), Label: c.String("label", unknownCategory.Label)}
	} else if s := data.String("info.category", ""); s != "" {
		h.category = Category{ID: s, Label: s}
	}
	return h
}

// Shell returns the provider bound to the host.
func (h *HostConfig) Shell() shell.Provider { return h.shell }

// Kind is the transport kind of Shell.
func (h *HostConfig) Kind() shell.Kind { return h.kind }

// Raw returns the underlying data. Callers must not keep it beyond the
// lifetime of the host config.
func (h *HostConfig) Raw() *config.Node { return h.data }

// Get returns the value of a top-level key, or def when it is missing, nil
// or an empty string.
func (h *HostConfig) Get(key string, def any) any {
	v, ok := h.data.Get(key)
	if !ok || v == nil {
		return def
	}
	if s, isString := v.(string); isString && s == "" {
		return def
	}
	return v
}

// String reads a dotted path as string.
func (h *HostConfig) String(path, def string) string { return h.data.String(path, def) }

// Bool reads a dotted path as bool.
func (h *HostConfig) Bool(path string, def bool) bool { return h.data.Bool(path, def) }

func (h *HostConfig) Has(key string) bool {
	v, ok := h.data.Lookup(key)
	return ok && v != nil
}

// Set assigns a value at a dotted path, creating intermediate mappings.
func (h *HostConfig) Set(path string, value any) { h.data.SetPath(path, value) }

func (h *HostConfig) Unset(path string) { h.data.DeletePath(path) }

// Clone returns a detached copy of the data bound to the same provider.
func (h *HostConfig) Clone() *HostConfig {
	c := *h
	c.data = h.data.Clone()
	return &c
}

func (h *HostConfig) ConfigName() string { return h.data.String("configName", "") }

func (h *HostConfig) Type() string { return h.data.String("type", "") }

func (h *HostConfig) IsType(t string) bool { return h.Type() == t }

func (h *HostConfig) Category() Category { return h.category }

// PublicURLs returns `info.publicUrls`, falling back to `info.publicUrl`.
func (h *HostConfig) PublicURLs() []string {
	for _, key := range []string{"info.publicUrls", "info.publicUrl"} {
		if urls := h.data.Strings(key); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func (h *HostConfig) MainPublicURL() string {
	if urls := h.PublicURLs(); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

func (h *HostConfig) Description() string { return h.data.String("info.description", "") }

// Label is the config name followed by the main public url, if any.
func (h *HostConfig) Label() string {
	if u := h.MainPublicURL(); u != "" {
		return fmt.Sprintf("%s [%s]", h.ConfigName(), u)
	}
	return h.ConfigName()
}
