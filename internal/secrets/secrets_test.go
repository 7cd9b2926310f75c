package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabrik/internal/config"
)

func writeSecretsFile(t *testing.T, dir string, plain string) string {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	identityFile := filepath.Join(dir, "identity.txt")
	require.NoError(t, os.WriteFile(identityFile, []byte("# test\n"+id.String()+"\n"), 0o600))

	sealed, err := Encrypt([]byte(plain), id.Recipient().String())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.age"), sealed, 0o600))
	return identityFile
}

func TestStoreResolvesFromEnvironmentThenFile(t *testing.T) {
	dir := t.TempDir()
	identity := writeSecretsFile(t, dir, "db-password: s3cret\napi_token: abc\n")
	t.Setenv(EnvName("api_token"), "from-env")

	s := NewStore(Options{File: "secrets.age", Dir: dir, IdentityFile: identity})
	ctx := context.Background()

	v, err := s.Get(ctx, "db-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	out, err := s.ResolveSecrets(ctx, "mysql -p%secret.db-password% --token=%secret.api_token%")
	require.NoError(t, err)
	assert.Equal(t, "mysql -ps3cret --token=from-env", out)
}

func TestStorePromptsForDeclaredSecrets(t *testing.T) {
	declared := config.NodeFromMap(map[string]any{
		"smtp": map[string]any{"question": "SMTP password?"},
	})
	var asked []string
	s := NewStore(Options{
		Declared: declared,
		Prompt: func(q string) (string, error) {
			asked = append(asked, q)
			return "typed", nil
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := s.Get(ctx, "smtp")
		require.NoError(t, err)
		assert.Equal(t, "typed", v)
	}
	assert.Equal(t, []string{"SMTP password?"}, asked)

	_, err := s.Get(ctx, "undeclared")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestStoreWithoutPromptFails(t *testing.T) {
	s := NewStore(Options{Declared: config.NodeFromMap(map[string]any{"smtp": map[string]any{"question": "?"}})})
	_, err := s.ResolveSecrets(context.Background(), "echo %secret.smtp%")
	require.ErrorIs(t, err, ErrSecretNotFound)
	assert.Contains(t, err.Error(), "FABRIK_SECRET_SMTP")
}

func TestDecryptWithWrongIdentity(t *testing.T) {
	dir := t.TempDir()
	writeSecretsFile(t, dir, "a: b\n")
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	otherFile := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(otherFile, []byte(other.String()+"\n"), 0o600))

	s := NewStore(Options{File: "secrets.age", Dir: dir, IdentityFile: otherFile})
	_, err = s.Get(context.Background(), "a")
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b-c"}, Names("%secret.a% and %secret.b-c% but not %host.a%"))
}
