package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is an insertion-ordered mapping from string keys to values. A value is
// one of: nil, string, bool, int, float64, []any (items are scalars or *Node)
// or *Node.
type Node struct {
	keys   []string
	values map[string]any
}

// NewNode returns an empty mapping.
func NewNode() *Node {
	return &Node{values: map[string]any{}}
}

// NodeFromMap builds a Node from a Go map. Keys are sorted so the result is
// deterministic; nested maps and slices are converted recursively.
func NodeFromMap(m map[string]any) *Node {
	n := NewNode()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Set(k, normalize(m[k]))
	}
	return n
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return NodeFromMap(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return NodeFromMap(m)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.keys)
}

// Keys returns the keys in insertion order.
func (n *Node) Keys() []string {
	if n == nil {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

func (n *Node) Has(key string) bool {
	if n == nil {
		return false
	}
	_, ok := n.values[key]
	return ok
}

func (n *Node) Get(key string) (any, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n.values[key]
	return v, ok
}

// Set adds or replaces key. A new key is appended to the end of the order.
func (n *Node) Set(key string, value any) {
	if n.values == nil {
		n.values = map[string]any{}
	}
	if _, ok := n.values[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.values[key] = value
}

func (n *Node) Delete(key string) {
	if n == nil {
		return
	}
	if _, ok := n.values[key]; !ok {
		return
	}
	delete(n.values, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
}

// Iterate calls fn for every entry in order until fn returns false.
func (n *Node) Iterate(fn func(key string, value any) bool) {
	if n == nil {
		return
	}
	for _, k := range n.keys {
		if !fn(k, n.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{keys: make([]string, len(n.keys)), values: make(map[string]any, len(n.values))}
	copy(out.keys, n.keys)
	for k, v := range n.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Node:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dotted path such as "sshTunnel.localPort".
func (n *Node) Lookup(path string) (any, bool) {
	cur := any(n)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(*Node)
		if !ok || node == nil {
			return nil, false
		}
		cur, ok = node.values[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath sets a dotted path, creating intermediate mappings as needed.
// Intermediate non-mapping values are replaced.
func (n *Node) SetPath(path string, value any) {
	parts := strings.Split(path, ".")
	cur := n
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.values[part].(*Node)
		if !ok {
			next = NewNode()
			cur.Set(part, next)
		}
		cur = next
	}
	cur.Set(parts[len(parts)-1], value)
}

// DeletePath removes a dotted path if present.
func (n *Node) DeletePath(path string) {
	parts := strings.Split(path, ".")
	cur := n
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.values[part].(*Node)
		if !ok {
			return
		}
		cur = next
	}
	cur.Delete(parts[len(parts)-1])
}

// String returns the value at path formatted as a string, or def when the
// path is missing or holds a mapping/sequence.
func (n *Node) String(path, def string) string {
	v, ok := n.Lookup(path)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case *Node, []any:
		return def
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the value at path as an int. Numeric strings are accepted.
func (n *Node) Int(path string, def int) int {
	v, ok := n.Lookup(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i
		}
	}
	return def
}

func (n *Node) Bool(path string, def bool) bool {
	v, ok := n.Lookup(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	case int:
		return t != 0
	}
	return def
}

// Child returns the mapping at path or nil.
func (n *Node) Child(path string) *Node {
	v, ok := n.Lookup(path)
	if !ok {
		return nil
	}
	c, _ := v.(*Node)
	return c
}

// Strings returns the sequence at path as strings. A single scalar is
// wrapped into a one-element slice.
func (n *Node) Strings(path string) []string {
	v, ok := n.Lookup(path)
	if !ok || v == nil {
		return nil
	}
	return AsStrings(v)
}

// AsStrings converts a scalar or a sequence of scalars to []string.
func AsStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if _, isNode := item.(*Node); isNode {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return t
	case *Node:
		return nil
	default:
		return []string{fmt.Sprint(t)}
	}
}

// ToMap converts the node into plain Go maps and slices.
func (n *Node) ToMap() map[string]any {
	if n == nil {
		return nil
	}
	out := make(map[string]any, len(n.keys))
	for _, k := range n.keys {
		out[k] = toPlain(n.values[k])
	}
	return out
}

func toPlain(v any) any {
	switch t := v.(type) {
	case *Node:
		return t.ToMap()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toPlain(item)
		}
		return out
	default:
		return v
	}
}

// MarshalYAML keeps key order when encoding.
func (n *Node) MarshalYAML() (interface{}, error) {
	return n.yamlNode()
}

func (n *Node) yamlNode() (*yaml.Node, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range n.keys {
		val, err := valueToYAML(n.values[k])
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, val)
	}
	return out, nil
}

func valueToYAML(v any) (*yaml.Node, error) {
	switch t := v.(type) {
	case *Node:
		return t.yamlNode()
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			child, err := valueToYAML(item)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, child)
		}
		return seq, nil
	default:
		var y yaml.Node
		if err := y.Encode(t); err != nil {
			return nil, err
		}
		return &y, nil
	}
}

// UnmarshalYAML decodes a YAML mapping keeping key order.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	decoded, err := fromYAML(value)
	if err != nil {
		return err
	}
	node, ok := decoded.(*Node)
	if !ok {
		if decoded == nil {
			*n = *NewNode()
			return nil
		}
		return fmt.Errorf("line %d: expected a mapping, got %s", value.Line, kindName(value))
	}
	*n = *node
	return nil
}

func kindName(y *yaml.Node) string {
	switch y.Kind {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	default:
		return "an unsupported node"
	}
}

func fromYAML(y *yaml.Node) (any, error) {
	switch y.Kind {
	case 0:
		// empty, blank or comment-only input
		return nil, nil
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return nil, nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.MappingNode:
		n := NewNode()
		for i := 0; i+1 < len(y.Content); i += 2 {
			keyNode, valNode := y.Content[i], y.Content[i+1]
			if keyNode.Kind == yaml.ScalarNode && keyNode.Value == "<<" && (keyNode.Tag == "" || keyNode.ShortTag() == "!!merge") {
				merged, err := fromYAML(valNode)
				if err != nil {
					return nil, err
				}
				for _, m := range mergeSources(merged) {
					m.Iterate(func(k string, v any) bool {
						if !n.Has(k) {
							n.Set(k, v)
						}
						return true
					})
				}
				continue
			}
			val, err := fromYAML(valNode)
			if err != nil {
				return nil, err
			}
			n.Set(keyNode.Value, val)
		}
		return n, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(y.Content))
		for _, c := range y.Content {
			val, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := y.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", y.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", y.Line)
}

func mergeSources(v any) []*Node {
	switch t := v.(type) {
	case *Node:
		return []*Node{t}
	case []any:
		var out []*Node
		for _, item := range t {
			if n, ok := item.(*Node); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

// ParseYAML parses a YAML document into a Node. An empty document yields an
// empty Node. Syntax errors are returned as *ParseError for source.
func ParseYAML(source string, data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, newParseError(source, err)
	}
	decoded, err := fromYAML(&doc)
	if err != nil {
		return nil, newParseError(source, err)
	}
	if decoded == nil {
		return NewNode(), nil
	}
	node, ok := decoded.(*Node)
	if !ok {
		line := 0
		if len(doc.Content) > 0 {
			line = doc.Content[0].Line
		}
		return nil, &ParseError{Source: source, Line: line, Err: fmt.Errorf("document root must be a mapping")}
	}
	return node, nil
}
