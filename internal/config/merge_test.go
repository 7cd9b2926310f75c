package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Node {
	t.Helper()
	n, err := ParseYAML("test.yaml", []byte(src))
	require.NoError(t, err)
	return n
}

func TestMergeOverridesScalarsAndKeepsBaseKeys(t *testing.T) {
	base := mustParse(t, "port: 22\nhost: localhost\nuser: default\n")
	override := mustParse(t, "port: 23\n")

	merged := Merge(base, override)

	assert.Equal(t, map[string]any{"port": 23, "host": "localhost", "user": "default"}, merged.ToMap())
	assert.Equal(t, []string{"port", "host", "user"}, merged.Keys())
	assert.Equal(t, 22, base.Int("port", 0), "base must not be mutated")
}

func TestMergeCases(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		override string
		disallow []string
		want     map[string]any
		keys     []string
	}{
		{
			name:     "nested mappings merge recursively",
			base:     "docker:\n  name: web\n  service: php\n",
			override: "docker:\n  service: nginx\n  extra: 1\n",
			want:     map[string]any{"docker": map[string]any{"name": "web", "service": "nginx", "extra": 1}},
			keys:     []string{"docker"},
		},
		{
			name:     "sequences are replaced",
			base:     "needs: [ssh, git]\n",
			override: "needs: [local]\n",
			want:     map[string]any{"needs": []any{"local"}},
			keys:     []string{"needs"},
		},
		{
			name:     "type mismatch lets override win",
			base:     "value:\n  a: 1\n",
			override: "value: [1, 2]\n",
			want:     map[string]any{"value": []any{1, 2}},
			keys:     []string{"value"},
		},
		{
			name:     "disallowed keys replace whole mappings",
			base:     "environment:\n  A: a\n  B: b\nother:\n  A: a\n",
			override: "environment:\n  C: c\nother:\n  C: c\n",
			disallow: []string{"environment"},
			want: map[string]any{
				"environment": map[string]any{"C": "c"},
				"other":       map[string]any{"A": "a", "C": "c"},
			},
			keys: []string{"environment", "other"},
		},
		{
			name:     "override only keys are appended in override order",
			base:     "b: 1\na: 2\n",
			override: "z: 3\nb: 4\ny: 5\n",
			want:     map[string]any{"a": 2, "b": 4, "y": 5, "z": 3},
			keys:     []string{"b", "a", "z", "y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(mustParse(t, tt.base), mustParse(t, tt.override), tt.disallow...)
			assert.Equal(t, tt.want, merged.ToMap())
			assert.Equal(t, tt.keys, merged.Keys())
		})
	}
}

func TestMergeDoesNotShareNestedValues(t *testing.T) {
	base := mustParse(t, "a:\n  b: 1\n")
	override := mustParse(t, "c:\n  d: 2\n")

	merged := Merge(base, override)
	merged.Child("c").Set("d", 3)
	merged.Child("a").Set("b", 4)

	assert.Equal(t, 2, override.Int("c.d", 0))
	assert.Equal(t, 1, base.Int("a.b", 0))
}

func TestMergeAllFoldsLeftToRight(t *testing.T) {
	a := mustParse(t, "k: a\nonlyA: 1\n")
	b := mustParse(t, "k: b\nonlyB: 1\n")
	own := mustParse(t, "k: own\n")

	got := MergeAll([]*Node{a, b, own})

	assert.Equal(t, "own", got.String("k", ""))
	assert.Equal(t, Merge(Merge(a, b), own).ToMap(), got.ToMap())
	assert.Equal(t, 0, MergeAll(nil).Len())
}
