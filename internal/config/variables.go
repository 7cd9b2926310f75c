package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Replacements maps placeholders such as "%host.user%" to their values.
type Replacements map[string]string

// ExpandVariables flattens every named tree into dotted placeholders:
// {"host": {user: bob}} yields "%host.user%" = "bob". Sequences are indexed
// numerically.
func ExpandVariables(trees map[string]*Node) Replacements {
	out := Replacements{}
	for name, tree := range trees {
		flatten(out, name, tree)
	}
	return out
}

func flatten(out Replacements, prefix string, v any) {
	switch t := v.(type) {
	case *Node:
		t.Iterate(func(k string, val any) bool {
			flatten(out, prefix+"."+k, val)
			return true
		})
	case []any:
		for i, item := range t {
			flatten(out, fmt.Sprintf("%s.%d", prefix, i), item)
		}
	case nil:
		out["%"+prefix+"%"] = ""
	default:
		out["%"+prefix+"%"] = fmt.Sprint(t)
	}
}

// Apply substitutes all known placeholders in s. Unknown placeholders are
// left untouched.
func (r Replacements) Apply(s string) string {
	if len(r) == 0 || !strings.Contains(s, "%") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := r[m]; ok {
			return v
		}
		return m
	})
}

var placeholderRe = regexp.MustCompile(`%[A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*%`)

// ApplyToNode returns a copy of n with placeholders replaced in every string.
func (r Replacements) ApplyToNode(n *Node) *Node {
	out := NewNode()
	n.Iterate(func(k string, v any) bool {
		out.Set(k, r.applyValue(v))
		return true
	})
	return out
}

func (r Replacements) applyValue(v any) any {
	switch t := v.(type) {
	case *Node:
		return r.ApplyToNode(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.applyValue(item)
		}
		return out
	case string:
		return r.Apply(t)
	default:
		return v
	}
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// InterpolateEnv replaces ${VAR} occurrences. The process environment wins
// over envMap; unknown variables are left as they are so shell snippets in
// scripts keep working.
func InterpolateEnv(input string, envMap map[string]string) string {
	return envRefRe.ReplaceAllStringFunc(input, func(m string) string {
		name := envRefRe.FindStringSubmatch(m)[1]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		return m
	})
}
