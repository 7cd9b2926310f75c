package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabrik/internal/config"
	"fabrik/internal/util"
)

const testFabfile = `
name: shop
hosts:
  local:
    rootFolder: %ROOT%
    info:
      category:
        id: dev
        label: Development
      publicUrl: http://shop.test
      description: Local development
    docker:
      configuration: dev
    scripts:
      greet:
        - echo hello %arguments.name%
      failing:
        - test -e /does/not/exist
  staging:
    needs: [ssh]
    host: staging.example.com
    user: deploy
    blueprint:
      configName: staging-%slug%
      variants:
        Feature-1: {}
        main: {}
dockerHosts:
  dev:
    rootFolder: /srv/docker
`

func writeFabfile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fabfile.yaml")
	content := strings.ReplaceAll(testFabfile, "%ROOT%", dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	util.Default.SetOutput(&buf)
	t.Cleanup(func() { util.Default.SetOutput(nil) })
	*opts = hostOptions{}
	rootCmd.SetArgs(append(args, "--settings", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestHostFlags(t *testing.T) {
	o := &hostOptions{}
	fs := pflag.NewFlagSet("fabrik", pflag.ContinueOnError)
	addHostFlags(fs, o)

	require.NoError(t, fs.Parse([]string{"--variants", "all", "--force", "-c", "staging"}))
	assert.Equal(t, "all", o.variants)
	assert.True(t, o.force)
	assert.Equal(t, "staging", o.config)
	assert.Contains(t, fs.Lookup("variants").Usage, "comma separated")
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("variants"))
}

func TestAboutPrintsSortedConfiguration(t *testing.T) {
	fabfile := writeFabfile(t)
	out, err := execute(t, "about", "--config", "local", "--fabfile", fabfile)
	require.NoError(t, err)

	assert.Contains(t, out, "Configuration for local [http://shop.test]")
	assert.Contains(t, out, "Local development")
	assert.Contains(t, out, "Docker configuration")
	assert.Contains(t, out, "configName                     local\n")
	assert.Less(t, strings.Index(out, "configName"), strings.Index(out, "rootFolder"))
}

func TestListGroupsHostsByCategory(t *testing.T) {
	fabfile := writeFabfile(t)
	out, err := execute(t, "list", "--fabfile", fabfile)
	require.NoError(t, err)

	assert.Contains(t, out, "Development\n  - local [http://shop.test]: Local development\n")
	assert.Contains(t, out, "Unknown category\n  - staging\n")
}

func TestListBlueprints(t *testing.T) {
	fabfile := writeFabfile(t)
	out, err := execute(t, "list:blueprints", "--fabfile", fabfile)
	require.NoError(t, err)
	assert.Equal(t, "staging\n  Feature-1\n  main\n", out)
}

func TestScriptCommand(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	fabfile := writeFabfile(t)

	out, err := execute(t, "script", "--config", "local", "--fabfile", fabfile)
	require.NoError(t, err)
	assert.Contains(t, out, "failing\n  greet")

	out, err = execute(t, "script", "greet", "name=World", "--config", "local", "--fabfile", fabfile)
	require.NoError(t, err)
	assert.Contains(t, out, "✅ Script greet finished")

	_, err = execute(t, "script", "failing", "--config", "local", "--fabfile", fabfile)
	assert.Error(t, err)

	_, err = execute(t, "script", "greet", "--config", "local", "--fabfile", fabfile)
	assert.ErrorContains(t, err, "missing arguments")
}

func TestVariantsForHostWithoutBlueprint(t *testing.T) {
	fabfile := writeFabfile(t)
	_, err := execute(t, "about", "--config", "local", "--variants", "all", "--fabfile", fabfile)
	assert.ErrorContains(t, err, "could not find variants for `local` in `blueprints`")

	_, err = execute(t, "about", "--config", "staging", "--variants", "nope", "--fabfile", fabfile)
	assert.ErrorContains(t, err, "could not find variants `nope`")
}

func TestWriteNode(t *testing.T) {
	n, err := config.ParseYAML("t", []byte("b: 1\na:\n  y: [x, {k: v}]\n  flag: true\nnone: null\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	writeNode(&buf, n, 0)
	want := "a\n" +
		"  flag                           true\n" +
		"  y\n" +
		"    - x\n" +
		"    -\n" +
		"      k                              v\n" +
		"b                              1\n" +
		"none                           \n"
	assert.Equal(t, want, buf.String())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, quote("it's"))
}
