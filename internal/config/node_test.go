package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseYAMLKeepsOrderAndAnchors(t *testing.T) {
	n := mustParse(t, `
zeta: 1
defaults: &defaults
  user: web
  port: 22
alpha:
  <<: *defaults
  port: 2222
`)
	assert.Equal(t, []string{"zeta", "defaults", "alpha"}, n.Keys())
	assert.Equal(t, "web", n.String("alpha.user", ""))
	assert.Equal(t, 2222, n.Int("alpha.port", 0))
}

func TestParseYAMLRejectsNonMappingRoot(t *testing.T) {
	_, err := ParseYAML("list.yaml", []byte("- a\n- b\n"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "list.yaml", pe.Source)

	for _, in := range []string{"", "\n\n", "# only a comment\n"} {
		empty, err := ParseYAML("empty.yaml", []byte(in))
		require.NoError(t, err, "%q", in)
		assert.Equal(t, 0, empty.Len(), "%q", in)
	}
}

func TestNodePathAccessors(t *testing.T) {
	n := NewNode()
	n.SetPath("sshTunnel.localPort", 4022)
	n.SetPath("sshTunnel.bridgeHost", "bridge")
	n.Set("needs", []any{"ssh", "git"})
	n.Set("flag", "true")

	assert.Equal(t, 4022, n.Int("sshTunnel.localPort", 0))
	assert.Equal(t, "4022", n.String("sshTunnel.localPort", ""))
	assert.Equal(t, "fallback", n.String("sshTunnel", "fallback"))
	assert.Equal(t, []string{"ssh", "git"}, n.Strings("needs"))
	assert.True(t, n.Bool("flag", false))

	n.DeletePath("sshTunnel.bridgeHost")
	assert.Equal(t, []string{"localPort"}, n.Child("sshTunnel").Keys())

	n.Delete("needs")
	assert.False(t, n.Has("needs"))
	assert.Equal(t, []string{"sshTunnel", "flag"}, n.Keys())
}

func TestNodeMarshalYAMLKeepsOrder(t *testing.T) {
	n := mustParse(t, "b: 1\na:\n  d: [x, z]\n  c: true\n")
	out, err := yaml.Marshal(n)
	require.NoError(t, err)

	again := mustParse(t, string(out))
	assert.Equal(t, []string{"b", "a"}, again.Keys())
	assert.Equal(t, []string{"d", "c"}, again.Child("a").Keys())
	assert.Equal(t, n.ToMap(), again.ToMap())
}
