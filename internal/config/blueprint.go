package config

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	KeyVariants   = "variants"
	KeyBlueprints = "blueprints"
)

// BlueprintExpander resolves `blueprintInheritsFrom` references and turns a
// blueprint into one configuration per variant. It works on a document whose
// plain inheritance has already been resolved.
type BlueprintExpander struct {
	doc               *Node
	disallowDeepMerge []string
	resolved          map[string]*Node
}

func NewBlueprintExpander(doc *Node, disallowDeepMerge ...string) *BlueprintExpander {
	return &BlueprintExpander{doc: doc, disallowDeepMerge: disallowDeepMerge, resolved: map[string]*Node{}}
}

// ExpandDocument returns a copy of the document with every blueprint
// (general section, dockerHosts and hosts entries) fully resolved.
func (e *BlueprintExpander) ExpandDocument() (*Node, error) {
	out := e.doc.Clone()
	if bp := out.Child(KeyBlueprint); bp != nil {
		resolved, err := e.resolveBlueprint(bp, []string{"general"})
		if err != nil {
			return nil, err
		}
		out.Set(KeyBlueprint, resolved)
	}
	for _, ns := range []string{NamespaceDockerHosts, NamespaceHosts} {
		section := out.Child(ns)
		for _, name := range section.Keys() {
			entry := section.Child(name)
			if entry.Child(KeyBlueprint) == nil {
				continue
			}
			bp, err := e.blueprintOf(ns, name, nil)
			if err != nil {
				return nil, err
			}
			entry.Set(KeyBlueprint, bp)
		}
	}
	return out, nil
}

// Blueprint returns the resolved blueprint for a reference such as
// "host:hostA", "docker:hostA" or a bare name.
func (e *BlueprintExpander) Blueprint(ref string) (*Node, error) {
	if ref == "" || ref == "general" {
		bp := e.doc.Child(KeyBlueprint)
		if bp == nil {
			return nil, &ReferenceNotFoundError{Ref: KeyBlueprint, Namespace: "general"}
		}
		return e.resolveBlueprint(bp, []string{"general"})
	}
	ns, name, err := e.qualify(ref)
	if err != nil {
		return nil, err
	}
	return e.blueprintOf(ns, name, nil)
}

func (e *BlueprintExpander) qualify(ref string) (string, string, error) {
	if ns, name, ok := splitNamed(ref); ok {
		return ns, name, nil
	}
	var declaring []string
	for _, ns := range []string{NamespaceDockerHosts, NamespaceHosts} {
		section := e.doc.Child(ns)
		for _, name := range section.Keys() {
			if section.Child(name).Child(KeyBlueprint) != nil {
				declaring = append(declaring, ns)
				break
			}
		}
	}
	switch len(declaring) {
	case 0:
		return "", "", &ReferenceNotFoundError{Ref: ref, Namespace: "blueprints"}
	case 1:
		return declaring[0], ref, nil
	default:
		return "", "", &AmbiguousBlueprintError{Ref: ref, Namespaces: declaring}
	}
}

func (e *BlueprintExpander) blueprintOf(ns, name string, chain []string) (*Node, error) {
	id := ns + ":" + name
	if cached, ok := e.resolved[id]; ok {
		return cached, nil
	}
	if contains(chain, id) {
		return nil, &CycleError{Chain: append(copyChain(chain), id)}
	}
	bp := e.doc.Child(ns).Child(name).Child(KeyBlueprint)
	if bp == nil {
		return nil, wrapChain(chain, &ReferenceNotFoundError{Ref: name, Namespace: ns + " blueprints"})
	}
	resolved, err := e.resolveBlueprint(bp, append(copyChain(chain), id))
	if err != nil {
		return nil, err
	}
	e.resolved[id] = resolved
	return resolved, nil
}

func (e *BlueprintExpander) resolveBlueprint(bp *Node, chain []string) (*Node, error) {
	raw, ok := bp.Get(KeyBlueprintInheritsFrom)
	if !ok {
		return bp.Clone(), nil
	}
	var parts []*Node
	for _, ref := range AsStrings(raw) {
		ns, name, err := e.qualify(strings.TrimSpace(ref))
		if err != nil {
			return nil, wrapChain(chain, err)
		}
		parent, err := e.blueprintOf(ns, name, chain)
		if err != nil {
			return nil, err
		}
		parts = append(parts, parent)
	}
	own := bp.Clone()
	own.Delete(KeyBlueprintInheritsFrom)
	merged := MergeAll(append(parts, own), e.disallowDeepMerge...)
	merged.Delete(KeyBlueprintInheritsFrom)
	return merged, nil
}

// Expand produces the configuration of one variant: the blueprint's own
// fields with the variant's overrides merged on top, placeholders replaced.
func (e *BlueprintExpander) Expand(bp *Node, variant string) *Node {
	base := bp.Clone()
	base.Delete(KeyVariants)
	base.Delete(KeyBlueprintInheritsFrom)
	override := bp.Child(KeyVariants).Child(variant)
	merged := Merge(base, override, e.disallowDeepMerge...)
	return ReplacePlaceholders(merged, map[string]string{
		"%identifier%": variant,
		"%slug%":       Slug(variant),
	})
}

// ExpandVariants expands bp once per variant.
func (e *BlueprintExpander) ExpandVariants(bp *Node, variants []string) map[string]*Node {
	out := make(map[string]*Node, len(variants))
	for _, v := range variants {
		out[v] = e.Expand(bp, v)
	}
	return out
}

// AvailableVariants lists the variants known for configName: the keys (or
// items) of the blueprint's `variants` plus every top-level `blueprints`
// entry naming that config.
func (e *BlueprintExpander) AvailableVariants(configName string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if bp := e.doc.Child(NamespaceHosts).Child(configName).Child(KeyBlueprint); bp != nil {
		if raw, ok := bp.Get(KeyVariants); ok {
			if m, isNode := raw.(*Node); isNode {
				add(m.Keys())
			} else {
				add(AsStrings(raw))
			}
		}
	}
	if raw, ok := e.doc.Get(KeyBlueprints); ok {
		items, _ := raw.([]any)
		for _, item := range items {
			entry, isNode := item.(*Node)
			if !isNode || entry.String("configName", "") != configName {
				continue
			}
			add(entry.Strings(KeyVariants))
		}
	}
	return out
}

// ParseVariants turns "all" or a comma separated list into variant names,
// validated against available.
func ParseVariants(spec string, available []string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "all" {
		return append([]string(nil), available...), nil
	}
	known := make(map[string]bool, len(available))
	for _, a := range available {
		known[a] = true
	}
	var out, missing []string
	for _, v := range strings.Split(spec, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !known[v] {
			missing = append(missing, v)
			continue
		}
		out = append(out, v)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("could not find variants `%s` in `blueprints`", strings.Join(missing, "`, `"))
	}
	return out, nil
}

// Slug lowercases s and drops every character that is not a letter or digit.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReplacePlaceholders returns a copy of n with every occurrence of the
// replacement keys substituted in string values.
func ReplacePlaceholders(n *Node, replacements map[string]string) *Node {
	pairs := make([]string, 0, len(replacements)*2)
	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	r := strings.NewReplacer(pairs...)
	return replaceIn(n, r).(*Node)
}

func replaceIn(v any, r *strings.Replacer) any {
	switch t := v.(type) {
	case *Node:
		out := NewNode()
		t.Iterate(func(k string, val any) bool {
			out.Set(k, replaceIn(val, r))
			return true
		})
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = replaceIn(item, r)
		}
		return out
	case string:
		return r.Replace(t)
	default:
		return v
	}
}
