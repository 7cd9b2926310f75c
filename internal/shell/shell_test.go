package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabrik/internal/config"
	"fabrik/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(io.Discard, logging.LevelError, nil)
	os.Exit(m.Run())
}

func hostNode(t *testing.T, yml string) *config.Node {
	t.Helper()
	n, err := config.ParseYAML("host.yaml", []byte(yml))
	require.NoError(t, err)
	return n
}

func newLocal(t *testing.T, host *config.Node, opts Options) (*LocalProvider, *bytes.Buffer) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	var out bytes.Buffer
	if opts.Stdout == nil {
		opts.Stdout = &out
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	p := NewLocalProvider(host, opts)
	t.Cleanup(p.Terminate)
	return p, &out
}

func TestParseFramedSkipsTrailingEmptyLines(t *testing.T) {
	sentinel := "##RESULT-test:"
	re := regexp.MustCompile(regexp.QuoteMeta(sentinel) + `(\d*)$`)

	code, out := parseFramed([]string{"line1", "", "line2", sentinel + "7", "", ""}, sentinel, re)
	assert.Equal(t, 7, code)
	assert.Equal(t, []string{"line1", "", "line2"}, out)

	code, out = parseFramed([]string{"a", "no newline" + sentinel + "3"}, sentinel, re)
	assert.Equal(t, 3, code)
	assert.Equal(t, []string{"a", "no newline"}, out)

	code, out = parseFramed([]string{sentinel}, sentinel, re)
	assert.Equal(t, 0, code)
	assert.Empty(t, out)
}

func TestLocalRunFramesExitCodeAndOutput(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	ctx := context.Background()

	result, err := p.Run(ctx, "(echo line1; echo; echo line2; exit 7)", true, false)
	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
	assert.Equal(t, []string{"line1", "", "line2"}, result.Output)

	result, err = p.Run(ctx, "printf 'no newline'", true, true)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"no newline"}, result.Output)
}

func TestLocalRunErrorSemantics(t *testing.T) {
	p, out := newLocal(t, config.NewNode(), Options{})
	ctx := context.Background()

	result, err := p.Run(ctx, "false", true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)

	result, err = p.Run(ctx, "false", true, true)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, 1, result.ExitCode)

	result, err = p.Run(ctx, "echo visible; false", false, false)
	require.ErrorIs(t, err, ErrCommandFailed)
	var cfe *CommandFailedError
	require.ErrorAs(t, err, &cfe)
	assert.Same(t, result, cfe.Result)
	assert.Contains(t, out.String(), "visible")
}

func TestLocalRunKeepsWorkingDirStack(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	p, _ := newLocal(t, config.NewNode(), Options{})
	ctx := context.Background()

	p.PushWorkingDir(a)
	p.PushWorkingDir(b)
	result, err := p.Run(ctx, "pwd -P", true, true)
	require.NoError(t, err)
	assert.Equal(t, realPath(t, b), result.Text())

	_, err = p.Run(ctx, "cd / && false", false, true)
	require.Error(t, err)
	require.NoError(t, p.PopWorkingDir())

	result, err = p.Run(ctx, "pwd -P", true, true)
	require.NoError(t, err)
	assert.Equal(t, realPath(t, a), result.Text())

	require.NoError(t, p.PopWorkingDir())
	assert.ErrorIs(t, p.PopWorkingDir(), errDirStackEmpty)
}

func TestLocalRunQuotesWorkingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "with space", "it's")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p, _ := newLocal(t, config.NewNode(), Options{})
	p.PushWorkingDir(dir)

	result, err := p.Run(context.Background(), "pwd -P", true, true)
	require.NoError(t, err)
	assert.Equal(t, realPath(t, dir), result.Text())
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/srv/my app'`, shellQuote("/srv/my app"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, `~/'web root'`, shellQuote("~/web root"))
	assert.Equal(t, "~", shellQuote("~"))
}

func TestWithWorkingDirPopsOnError(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	before := p.WorkingDir()
	boom := errors.New("boom")

	err := WithWorkingDir(p, "/tmp", func() error {
		assert.Equal(t, "/tmp", p.WorkingDir())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, p.WorkingDir())
}

func realPath(t *testing.T, dir string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return r
}

func TestLocalShellRestartsAfterUnexpectedExit(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	ctx := context.Background()

	result, err := p.Run(ctx, "echo bye >&2; exit 3", true, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShellTerminated)
	assert.ErrorIs(t, err, ErrCommandFailed)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "bye")

	result, err = p.Run(ctx, "echo again", true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"again"}, result.Output)
}

func TestLocalRunHonoursContextCancellation(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := p.Run(ctx, "sleep 5", true, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, result)

	result, err = p.Run(context.Background(), "echo alive", true, true)
	require.NoError(t, err)
	assert.Equal(t, "alive", result.Text())
}

func TestLocalRunSendsHeartbeatWhileCommandIsSilent(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{PreventTimeout: true})
	p.shell.heartbeatAfter = 100 * time.Millisecond
	ctx := context.Background()

	result, err := p.Run(ctx, "sleep 0.5; echo done", true, true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, []string{"done"}, result.Output)
	assert.GreaterOrEqual(t, p.shell.heartbeats, 1)

	result, err = p.Run(ctx, "echo next", true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, result.Output)
}

func TestLocalRunWithoutPreventTimeoutSendsNoHeartbeat(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	p.shell.heartbeatAfter = 50 * time.Millisecond

	result, err := p.Run(context.Background(), "sleep 0.3; echo done", true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, result.Output)
	assert.Zero(t, p.shell.heartbeats)
}

type fakeSecrets map[string]string

func (f fakeSecrets) ResolveSecrets(_ context.Context, s string) (string, error) {
	for k, v := range f {
		s = strings.ReplaceAll(s, "%secret."+k+"%", v)
	}
	return s, nil
}

type failingSecrets struct{}

func (failingSecrets) ResolveSecrets(context.Context, string) (string, error) {
	return "", errors.New("vault sealed")
}

func TestLocalRunReturnsNoResultWhenSecretsFail(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{Secrets: failingSecrets{}})

	result, err := p.Run(context.Background(), "echo %secret.token%", true, false)
	assert.EqualError(t, err, "vault sealed")
	assert.Nil(t, result)
}

func TestLocalEnvironmentIsExpandedAndExported(t *testing.T) {
	host := hostNode(t, `
configName: local
user: bob
environment:
  GREETING: "hello %host.user%"
  TOKEN: "%secret.token%"
`)
	p, _ := newLocal(t, host, Options{
		Replacements: config.ExpandVariables(map[string]*config.Node{"host": host}),
		Secrets:      fakeSecrets{"token": "s3cr3t"},
	})

	result, err := p.Run(context.Background(), `echo "$GREETING/$TOKEN/%secret.token%"`, true, true)
	require.NoError(t, err)
	assert.Equal(t, "hello bob/s3cr3t/s3cr3t", result.Text())
}

func TestExpandCommand(t *testing.T) {
	host := hostNode(t, `
executables:
  drush: /usr/local/bin/drush
gitExecutable: /opt/git/bin/git
`)
	p := NewLocalProvider(host, Options{})
	assert.Equal(t,
		"/usr/local/bin/drush status && /opt/git/bin/git log && php -v",
		p.ExpandCommand("#!drush status && #!git log && #!php -v"))
}

func TestLocalFileOperations(t *testing.T) {
	dir := t.TempDir()
	p, _ := newLocal(t, config.NewNode(), Options{FabfileDir: dir})
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("payload"), 0o644))
	require.NoError(t, p.PutFile(ctx, "a.txt", "b.txt"))
	ok, err := p.Exists(ctx, filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	content, err := p.GetFileContents(ctx, filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", content)

	ok, err = p.Exists(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalRejectsRemoteOnlyOperations(t *testing.T) {
	p := NewLocalProvider(config.NewNode(), Options{})
	ctx := context.Background()

	_, err := p.CreateTunnelProcess(ctx, config.NewNode(), nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	err = p.StartRemoteAccess(ctx, "10.0.0.1", 80, "127.0.0.1", 8080)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "Local shells cannot handle tunnels!", (&UnsupportedOperationError{Kind: KindLocal, Op: "tunnels"}).Error())
}

func TestSubShellSharesProcess(t *testing.T) {
	p, _ := newLocal(t, config.NewNode(), Options{})
	ctx := context.Background()

	sub, err := p.StartSubShell(ctx, []string{"/bin/bash"})
	require.NoError(t, err)
	assert.Equal(t, KindSubShell, sub.Kind())

	sub.Cd("/")
	result, err := sub.Run(ctx, "echo $$ && pwd", true, true)
	require.NoError(t, err)
	require.Len(t, result.Output, 2)
	assert.Equal(t, "/", result.Output[1])
	innerPid := result.Output[0]

	sub.Terminate()
	result, err = p.Run(ctx, "echo $$", true, true)
	require.NoError(t, err)
	assert.NotEqual(t, innerPid, result.Text())
}

func TestCopyWithFallback(t *testing.T) {
	ctx := context.Background()
	logger := logging.WithFields(nil)
	failing := func(context.Context) error { return &TransportError{Op: "scp", Err: ErrShellTerminated} }

	relayed := false
	err := copyWithFallback(ctx, logger, "fallback", failing, func(context.Context) error {
		relayed = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, relayed)

	relayed = false
	err = copyWithFallback(ctx, logger, "fallback", func(context.Context) error { return nil }, func(context.Context) error {
		relayed = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, relayed)

	relayErr := errors.New("relay failed")
	err = copyWithFallback(ctx, logger, "fallback", failing, func(context.Context) error { return relayErr })
	assert.ErrorIs(t, err, relayErr)
	assert.NotErrorIs(t, err, ErrShellTerminated)
}

func TestCommandResultFail(t *testing.T) {
	r := NewCommandResult(2, []string{"first", "second"})
	err := r.Fail("Could not connect to database!")
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "Could not connect to database! (exit code 2)")
	assert.Contains(t, err.Error(), "first\nsecond")
	assert.False(t, r.Succeeded())
}
