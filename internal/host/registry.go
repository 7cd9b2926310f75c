package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"fabrik/internal/config"
	"fabrik/internal/logging"
	"fabrik/internal/shell"
)

// Options are handed to every shell provider the registry creates.
type Options struct {
	Logger  *logging.Logger
	Stdout  io.Writer
	Stderr  io.Writer
	Stdin   io.Reader
	Secrets shell.SecretResolver
}

// Registry resolves, validates and caches host configurations of one
// fabfile. It owns the tunnel port cache of the invocation.
type Registry struct {
	svc   *config.Service
	opts  Options
	ports *shell.PortCache

	mu    sync.Mutex
	hosts map[string]*HostConfig
}

func NewRegistry(svc *config.Service, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.WithFields(nil)
	}
	return &Registry{
		svc:   svc,
		opts:  opts,
		ports: shell.NewPortCache(),
		hosts: map[string]*HostConfig{},
	}
}

// Ports returns the port cache shared by every ssh host of the registry.
func (r *Registry) Ports() *shell.PortCache { return r.ports }

// Get returns the cached host config for name, building it on first use.
func (r *Registry) Get(ctx context.Context, name string) (*HostConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[name]; ok {
		return h, nil
	}
	raw, err := r.svc.RawHost(name)
	if err != nil {
		return nil, err
	}
	h, err := r.build(name, raw)
	if err != nil {
		return nil, err
	}
	r.hosts[name] = h
	return h, nil
}

// FromBlueprint expands the blueprint of configName for variant. An empty
// configName uses the general blueprint of the fabfile.
func (r *Registry) FromBlueprint(ctx context.Context, configName, variant string) (*HostConfig, error) {
	key := configName + "@" + variant
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[key]; ok {
		return h, nil
	}
	raw, err := r.svc.HostFromBlueprint(ctx, configName, variant)
	if err != nil {
		return nil, err
	}
	h, err := r.build(raw.String("configName", variant), raw)
	if err != nil {
		return nil, err
	}
	r.hosts[key] = h
	return h, nil
}

// Validate builds a host without caching it and returns the collected
// validation bag, warnings included.
func (r *Registry) Validate(name string) (*config.ValidationErrors, error) {
	raw, err := r.svc.RawHost(name)
	if err != nil {
		return nil, err
	}
	kind, err := shell.KindForHost(raw)
	if err != nil {
		return nil, err
	}
	_, errs := r.prepare(name, kind, raw)
	return errs, nil
}

func (r *Registry) prepare(name string, kind shell.Kind, raw *config.Node) (*config.Node, *config.ValidationErrors) {
	data := config.Merge(shell.DefaultConfig(kind, r.svc.Settings(), withName(raw, name), r.ports), raw, r.svc.DisallowDeepMerge()...)
	data.Set("configName", name)

	errs := config.NewValidationErrors()
	shell.ValidateConfig(kind, data, errs)
	return data, errs
}

func withName(raw *config.Node, name string) *config.Node {
	if raw.String("configName", "") != "" {
		return raw
	}
	c := raw.Clone()
	c.Set("configName", name)
	return c
}

func (r *Registry) build(name string, raw *config.Node) (*HostConfig, error) {
	kind, err := shell.KindForHost(raw)
	if err != nil {
		return nil, fmt.Errorf("host-config %s: %w", name, err)
	}
	data, errs := r.prepare(name, kind, raw)
	for _, w := range errs.Warnings() {
		r.opts.Logger.Warn(w.Message, map[string]interface{}{"host": name, "key": w.Key})
	}
	if err := errs.Err(); err != nil {
		return nil, fmt.Errorf("host-config %s: %w", name, err)
	}

	provider, err := shell.New(kind, data, shell.Options{
		Logger:         r.opts.Logger,
		Stdout:         r.opts.Stdout,
		Stderr:         r.opts.Stderr,
		Stdin:          r.opts.Stdin,
		Secrets:        r.opts.Secrets,
		Replacements:   r.svc.Replacements(data),
		FabfileDir:     r.svc.FabfileDir(),
		PreventTimeout: data.Bool("preventTimeout", false),
		KnownHosts:     r.svc.Settings().Strings("knownHosts"),
	})
	if err != nil {
		return nil, err
	}
	return newHostConfig(data, kind, provider), nil
}

// Hosts returns every host config of the fabfile. Invalid hosts are
// reported together.
func (r *Registry) Hosts(ctx context.Context) ([]*HostConfig, error) {
	var out []*HostConfig
	var failed []error
	for _, name := range r.svc.HostNames() {
		h, err := r.Get(ctx, name)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		out = append(out, h)
	}
	if len(failed) > 0 {
		return out, errors.Join(failed...)
	}
	return out, nil
}

// ByCategory groups hosts by category label, sorted by label.
func ByCategory(hosts []*HostConfig) ([]Category, map[string][]*HostConfig) {
	groups := map[string][]*HostConfig{}
	var cats []Category
	for _, h := range hosts {
		c := h.Category()
		if _, ok := groups[c.ID]; !ok {
			cats = append(cats, c)
		}
		groups[c.ID] = append(groups[c.ID], h)
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Label < cats[j].Label })
	return cats, groups
}

// Terminate stops every shell started by the registry.
func (r *Registry) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hosts {
		h.Shell().Terminate()
	}
}
