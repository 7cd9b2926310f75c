package config

// Merge deep-merges override on top of base and returns a new Node; neither
// input is modified. Mappings present on both sides are merged recursively,
// every other combination lets the override value win. Keys listed in
// disallowDeepMerge are always replaced wholesale.
//
// The result lists base keys first, followed by override-only keys in the
// order they appear in override.
func Merge(base, override *Node, disallowDeepMerge ...string) *Node {
	var disallow map[string]bool
	if len(disallowDeepMerge) > 0 {
		disallow = make(map[string]bool, len(disallowDeepMerge))
		for _, k := range disallowDeepMerge {
			disallow[k] = true
		}
	}
	return merge(base, override, disallow)
}

func merge(base, override *Node, disallow map[string]bool) *Node {
	if base == nil {
		return override.Clone()
	}
	out := base.Clone()
	if override == nil {
		return out
	}
	for _, k := range override.keys {
		ov := override.values[k]
		bv, exists := out.values[k]
		if exists && !disallow[k] {
			bn, baseIsNode := bv.(*Node)
			on, overrideIsNode := ov.(*Node)
			if baseIsNode && overrideIsNode {
				out.values[k] = merge(bn, on, disallow)
				continue
			}
		}
		out.Set(k, cloneValue(ov))
	}
	return out
}

// MergeAll folds nodes left to right: MergeAll(a, b, c) == Merge(Merge(a, b), c).
func MergeAll(nodes []*Node, disallowDeepMerge ...string) *Node {
	var out *Node
	for _, n := range nodes {
		out = Merge(out, n, disallowDeepMerge...)
	}
	if out == nil {
		return NewNode()
	}
	return out
}
