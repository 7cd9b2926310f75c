package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

const (
	KeyInheritsFrom          = "inheritsFrom"
	KeyBlueprint             = "blueprint"
	KeyBlueprintInheritsFrom = "blueprintInheritsFrom"

	NamespaceHosts       = "hosts"
	NamespaceDockerHosts = "dockerHosts"
)

// namespaceAliases maps the prefixes accepted in `namespace:name`
// references to top-level document sections.
var namespaceAliases = map[string]string{
	"host":        NamespaceHosts,
	"hosts":       NamespaceHosts,
	"docker":      NamespaceDockerHosts,
	"dockerHost":  NamespaceDockerHosts,
	"dockerHosts": NamespaceDockerHosts,
}

// splitNamed splits "docker:hostA" into its section and entry name.
func splitNamed(ref string) (namespace, name string, ok bool) {
	prefix, rest, found := strings.Cut(ref, ":")
	if !found || rest == "" {
		return "", "", false
	}
	ns, known := namespaceAliases[prefix]
	if !known {
		return "", "", false
	}
	return ns, rest, true
}

// Resolver flattens `inheritsFrom` chains. References are applied left to
// right and the node's own keys are merged last.
type Resolver struct {
	Loader            Loader
	DisallowDeepMerge []string
}

func NewResolver(loader Loader, disallowDeepMerge ...string) *Resolver {
	if loader == nil {
		loader = &MultiLoader{File: FileLoader{}}
	}
	return &Resolver{Loader: loader, DisallowDeepMerge: disallowDeepMerge}
}

// resolution holds the state of one document walk. Entries of the hosts and
// dockerHosts sections are resolved on first use and memoized, so a named
// reference always sees a fully flattened target.
type resolution struct {
	r        *Resolver
	ctx      context.Context
	doc      *Node
	rootBase string
	resolved map[string]*Node
}

// ResolveDocument resolves the root `inheritsFrom` of doc, then every entry
// of the hosts and dockerHosts sections. base is the directory of the
// document; it also anchors `@`-prefixed references.
func (r *Resolver) ResolveDocument(ctx context.Context, doc *Node, base string) (*Node, error) {
	res := r.newResolution(ctx, nil, base)
	root, err := res.resolveNode(doc, []string{"<root>"}, base, "")
	if err != nil {
		return nil, err
	}
	res.doc = root

	for _, ns := range []string{NamespaceDockerHosts, NamespaceHosts} {
		section := root.Child(ns)
		if section == nil {
			continue
		}
		out := NewNode()
		for _, name := range section.Keys() {
			entry, err := res.entry(ns, name, nil)
			if err != nil {
				return nil, err
			}
			out.Set(name, entry)
		}
		root.Set(ns, out)
	}
	return root, nil
}

// Resolve resolves a single node. Named references are looked up in doc,
// which may be nil when only file and URL references are expected. visited
// seeds the chain used for cycle detection.
func (r *Resolver) Resolve(ctx context.Context, node, doc *Node, visited []string, base string) (*Node, error) {
	res := r.newResolution(ctx, doc, base)
	return res.resolveNode(node, visited, base, NamespaceHosts)
}

func (r *Resolver) newResolution(ctx context.Context, doc *Node, base string) *resolution {
	return &resolution{r: r, ctx: ctx, doc: doc, rootBase: base, resolved: map[string]*Node{}}
}

func (res *resolution) entry(ns, name string, chain []string) (*Node, error) {
	id := ns + ":" + name
	if cached, ok := res.resolved[id]; ok {
		return cached, nil
	}
	if contains(chain, id) {
		return nil, &CycleError{Chain: append(copyChain(chain), id)}
	}
	section := res.doc.Child(ns)
	raw, ok := section.Get(name)
	if !ok {
		return nil, wrapChain(chain, &ReferenceNotFoundError{Ref: name, Namespace: ns})
	}
	node, _ := raw.(*Node)
	if node == nil {
		node = NewNode()
	}
	resolved, err := res.resolveNode(node, append(copyChain(chain), id), res.rootBase, ns)
	if err != nil {
		return nil, err
	}
	res.resolved[id] = resolved
	return resolved, nil
}

func (res *resolution) resolveNode(node *Node, chain []string, base, defaultNS string) (*Node, error) {
	rawRefs, ok := node.Get(KeyInheritsFrom)
	if !ok {
		return node.Clone(), nil
	}
	refs := AsStrings(rawRefs)
	parts := make([]*Node, 0, len(refs)+1)
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		sub, err := res.resolveRef(ref, chain, base, defaultNS)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub)
	}
	own := node.Clone()
	own.Delete(KeyInheritsFrom)
	merged := MergeAll(append(parts, own), res.r.DisallowDeepMerge...)
	merged.Delete(KeyInheritsFrom)
	return merged, nil
}

func (res *resolution) resolveRef(ref string, chain []string, base, defaultNS string) (*Node, error) {
	if ns, name, ok := splitNamed(ref); ok {
		if res.doc == nil {
			return nil, wrapChain(chain, &ReferenceNotFoundError{Ref: ref, Namespace: ns})
		}
		return res.entry(ns, name, chain)
	}

	switch {
	case IsURL(ref):
	case strings.HasPrefix(ref, "@"):
		ref, base = strings.TrimPrefix(ref, "@"), res.rootBase
	case IsURL(base):
	case defaultNS != "" && res.doc != nil && !strings.ContainsAny(ref, `/\`) && res.doc.Child(defaultNS).Has(ref):
		return res.entry(defaultNS, ref, chain)
	case defaultNS != "" && isBareName(ref):
		return nil, wrapChain(chain, &ReferenceNotFoundError{Ref: ref, Namespace: defaultNS})
	}

	id, err := canonicalSourceID(ref, base)
	if err != nil {
		return nil, wrapChain(chain, &SourceNotFoundError{Ref: ref, Err: err})
	}
	if contains(chain, id) {
		return nil, &CycleError{Chain: append(copyChain(chain), id)}
	}
	src, err := res.r.Loader.Load(res.ctx, ref, base)
	if err != nil {
		return nil, wrapChain(chain, err)
	}
	return res.resolveNode(src.Data, append(copyChain(chain), src.ID), src.Base, defaultNS)
}

// isBareName reports whether ref names an entry rather than a file: no
// path separator and no document extension.
func isBareName(ref string) bool {
	if strings.ContainsAny(ref, `/\`) {
		return false
	}
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".yaml", ".yml", ".json", ".jsonc":
		return false
	}
	return true
}

// canonicalSourceID mirrors the identifiers the loaders assign, so cycles
// are detected before anything is fetched.
func canonicalSourceID(ref, base string) (string, error) {
	if IsURL(ref) || IsURL(base) {
		return ResolveURL(ref, base)
	}
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Abs(p)
}

func wrapChain(chain []string, err error) error {
	var re *ResolutionError
	if len(chain) == 0 || errors.As(err, &re) {
		return err
	}
	return &ResolutionError{Chain: copyChain(chain), Err: err}
}

func contains(chain []string, id string) bool {
	for _, c := range chain {
		if c == id {
			return true
		}
	}
	return false
}

func copyChain(chain []string) []string {
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}
