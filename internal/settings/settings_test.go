package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", s.Log.Level)
	assert.Equal(t, 30*time.Second, s.HTTP.Timeout)
	assert.Equal(t, "secrets.age", s.Secrets.File)
	assert.Equal(t, 4, s.Variants.MaxParallel)
	assert.Equal(t, []string{"fabfile.yaml", "fabfile.yml", ".fabfile.yaml"}, s.Fabfile.Names)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nvariants:\n  maxParallel: 0\nhttp:\n  timeout: 5s\n"), 0o644))
	t.Setenv("FABRIK_OFFLINE", "true")
	t.Setenv("FABRIK_LOG_FORMAT", "json")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.True(t, s.Offline)
	assert.Equal(t, 5*time.Second, s.HTTP.Timeout)
	assert.Equal(t, 1, s.Variants.MaxParallel)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [broken\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}
