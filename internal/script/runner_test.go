package script

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabrik/internal/config"
	"fabrik/internal/host"
	"fabrik/internal/logging"
	"fabrik/internal/task"
)

func TestMain(m *testing.M) {
	logging.Init(io.Discard, logging.LevelError, nil)
	os.Exit(m.Run())
}

const fabfile = `
name: shop
scripts:
  greet:
    - echo global %arguments.name%
  deploy:
    script: |
      cd sub
      pwd -P
      echo %arguments.branch% on %host.configName% of %settings.name%
    defaults:
      branch: main
hosts:
  local:
    needs: [git]
    rootFolder: %ROOT%
    scripts:
      greet:
        - echo host %arguments.name%
      failing:
        - echo before
        - "false"
        - echo after
      lenient:
        script:
          - "false"
          - echo after
        breakOnFirstError: false
`

type fixture struct {
	root     string
	out      *bytes.Buffer
	host     *host.HostConfig
	settings *config.Node
	global   *config.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	dir := t.TempDir()
	root, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	path := filepath.Join(root, "fabfile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(fabfile, "%ROOT%", root)), 0o644))

	svc, err := config.NewService(context.Background(), config.Options{Fabfile: path, Loader: config.FileLoader{}})
	require.NoError(t, err)
	out := &bytes.Buffer{}
	reg := host.NewRegistry(svc, host.Options{Stdout: out, Stderr: io.Discard})
	t.Cleanup(reg.Terminate)
	h, err := reg.Get(context.Background(), "local")
	require.NoError(t, err)
	return &fixture{root: root, out: out, host: h, settings: svc.Settings(), global: svc.Scripts()}
}

func (f *fixture) run(t *testing.T, name string, args map[string]string) (*task.Context, error) {
	t.Helper()
	s, err := Find(f.host, f.global, name)
	require.NoError(t, err)
	tc := task.New(f.host, f.settings).With(map[string]any{"arguments": args})
	_, err = NewRunner(nil).Run(context.Background(), tc, s)
	return tc, err
}

func TestRunExpandsPlaceholdersAndTracksCd(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "deploy", nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(f.out.String()), "\n")
	assert.Equal(t, []string{filepath.Join(f.root, "sub"), "main on local of shop"}, lines)
	assert.Equal(t, f.root, f.host.Shell().WorkingDir())

	f.out.Reset()
	_, err = f.run(t, "deploy", map[string]string{"branch": "release"})
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "release on local of shop")
}

func TestHostScriptsWinOverGlobalOnes(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "greet", map[string]string{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "host bob\n", f.out.String())

	assert.Equal(t, []string{"deploy", "failing", "greet", "lenient"}, Names(f.host, f.global))
	_, err = Find(f.host, f.global, "nope")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestBreakOnFirstError(t *testing.T) {
	f := newFixture(t)
	tc, err := f.run(t, "failing", nil)
	require.Error(t, err)
	assert.Equal(t, "before\n", f.out.String())
	assert.Equal(t, []string{"0", "1"}, tc.Results().Get("exitCode"))

	f.out.Reset()
	tc, err = f.run(t, "lenient", nil)
	require.NoError(t, err)
	assert.Equal(t, "after\n", f.out.String())
	assert.Equal(t, []string{"1", "0"}, tc.Results().Get("exitCode"))
}

func TestMissingArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "greet", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing arguments for script greet: name")
	assert.Empty(t, f.out.String())
}

func TestParseShapes(t *testing.T) {
	s, err := Parse("x", "echo a \\\n  b\n\necho c\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo a b", "echo c"}, s.Lines)
	assert.True(t, s.BreakOnFirstError)

	_, err = Parse("y", 42)
	assert.Error(t, err)
}
