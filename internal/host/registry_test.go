package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabrik/internal/config"
	"fabrik/internal/logging"
	"fabrik/internal/shell"
)

const fabfile = `
name: shop
knownHosts: [git.example.com]
hosts:
  local:
    needs: [git]
    rootFolder: .
    environment:
      SITE: "%host.configName%-%settings.name%"
    info:
      category:
        id: dev
        label: Development
      publicUrl: http://shop.test
  prod:
    needs: [ssh, git]
    host: prod.example.com
    user: deploy
    info:
      publicUrls: [https://shop.example.com, https://www.shop.example.com]
      description: Production
  broken:
    needs: [ssh]
    host: broken.example.com
    strictHostKeyChecking: false
  tunneled:
    needs: [ssh]
    host: localhost
    user: deploy
    sshTunnel:
      bridgeHost: bridge.example.com
      bridgeUser: jump
      bridgePort: 22
      destHost: 10.0.0.3
      destPort: 22
  review:
    needs: [ssh]
    host: review.example.com
    user: deploy
    blueprint:
      inheritsFrom: prod
      configName: review-%slug%
      rootFolder: /var/www/%identifier%
      variants:
        Feature-1: {}
        main:
          user: release
`

func TestMain(m *testing.M) {
	logging.Init(io.Discard, logging.LevelError, nil)
	os.Exit(m.Run())
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fabfile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fabfile), 0o644))
	svc, err := config.NewService(context.Background(), config.Options{Fabfile: path, Loader: config.FileLoader{}})
	require.NoError(t, err)
	r := NewRegistry(svc, Options{Stdout: io.Discard, Stderr: io.Discard})
	t.Cleanup(r.Terminate)
	return r
}

func TestRegistryBuildsAndCachesHosts(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, shell.KindSSH, h.Kind())
	assert.Equal(t, shell.KindSSH, h.Shell().Kind())
	assert.Equal(t, "prod", h.ConfigName())
	assert.Equal(t, 22, h.Raw().Int("port", 0))
	assert.Equal(t, "/usr/bin/ssh", h.String("shellProviderExecutable", ""))

	again, err := r.Get(ctx, "prod")
	require.NoError(t, err)
	assert.Same(t, h, again)

	local, err := r.Get(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, shell.KindLocal, local.Kind())
	assert.Equal(t, "/bin/bash", local.String("shellExecutable", ""))
}

func TestRegistryReportsValidationErrors(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Get(context.Background(), "broken")
	require.Error(t, err)
	var bag *config.ValidationErrors
	require.ErrorAs(t, err, &bag)
	assert.Contains(t, err.Error(), "Missing key user")

	errs, err := r.Validate("broken")
	require.NoError(t, err)
	require.True(t, errs.HasWarnings())
	assert.Equal(t, "strictHostKeyChecking", errs.Warnings()[0].Key)

	_, err = r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, config.ErrHostNotFound)
}

func TestRegistryAllocatesTunnelPorts(t *testing.T) {
	r := newRegistry(t)

	h, err := r.Get(context.Background(), "tunneled")
	require.NoError(t, err)
	port := r.Ports().Port("tunneled")
	assert.Equal(t, port, h.Raw().Int("port", 0))
	assert.Equal(t, port, h.Raw().Int("sshTunnel.localPort", 0))
}

func TestRegistryExpandsBlueprints(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	h, err := r.FromBlueprint(ctx, "review", "Feature-1")
	require.NoError(t, err)
	assert.Equal(t, "review-feature1", h.ConfigName())
	assert.Equal(t, "/var/www/Feature-1", h.String("rootFolder", ""))
	assert.Equal(t, "deploy", h.String("user", ""))
	assert.Equal(t, "prod.example.com", h.String("host", ""))
	assert.Equal(t, shell.KindSSH, h.Kind())

	main, err := r.FromBlueprint(ctx, "review", "main")
	require.NoError(t, err)
	assert.Equal(t, "release", main.String("user", ""))
}

func TestHostConfigAccessors(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	prod, err := r.Get(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.example.com", "https://www.shop.example.com"}, prod.PublicURLs())
	assert.Equal(t, "prod [https://shop.example.com]", prod.Label())
	assert.Equal(t, "Production", prod.Description())
	assert.Equal(t, Category{ID: "unknown", Label: "Unknown category"}, prod.Category())

	local, err := r.Get(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "local [http://shop.test]", local.Label())
	assert.Equal(t, Category{ID: "dev", Label: "Development"}, local.Category())

	local.Set("type", "")
	assert.Equal(t, "dev", local.Get("type", "dev"))
	assert.Equal(t, "fallback", local.Get("missing", "fallback"))
	local.Set("type", "stage")
	assert.True(t, local.IsType("stage"))

	c := local.Clone()
	c.Set("deep.key", "x")
	assert.True(t, c.Has("deep.key"))
	assert.False(t, local.Has("deep.key"))
	c.Unset("deep.key")
	assert.False(t, c.Has("deep.key"))

	cats, groups := ByCategory([]*HostConfig{prod, local})
	assert.Equal(t, []Category{{ID: "dev", Label: "Development"}, {ID: "unknown", Label: "Unknown category"}}, cats)
	assert.Len(t, groups["unknown"], 1)
}

func TestRegistryShellSeesHostPlaceholders(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	r := newRegistry(t)
	h, err := r.Get(context.Background(), "local")
	require.NoError(t, err)

	result, err := h.Shell().Run(context.Background(), "echo $SITE", true, true)
	require.NoError(t, err)
	assert.Equal(t, "local-shop", result.Text())
}

func TestHostsCollectsEveryFailure(t *testing.T) {
	r := newRegistry(t)
	hosts, err := r.Hosts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, hosts, 4)
}
