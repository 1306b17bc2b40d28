package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/pkg/config"
)

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.SecretsConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(config.SecretsConfig{Provider: "env"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewStore(config.SecretsConfig{Provider: "file", Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = NewStore(config.SecretsConfig{Provider: "k8s"})
	assert.ErrorContains(t, err, "unsupported secret provider")
}

func TestEnvStore(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	ctx := context.Background()
	v, err := NewEnvStore().Get(ctx, "openai.api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	_, err = NewEnvStore().Get(ctx, "civic.missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pg-dsn"), []byte("postgres://u:p@db/civic\n"), 0600))
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Get(ctx, "pg-dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/civic", v)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "../etc/passwd")
	assert.Error(t, err)
}

func TestPickValue(t *testing.T) {
	v, ok := pickValue(map[string]interface{}{"value": "a", "other": "b"})
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = pickValue(map[string]interface{}{"n": 1})
	assert.False(t, ok)
}

func TestResolveConfig(t *testing.T) {
	store := MapStore{"openai": "sk-live", "redis": "hunter2"}
	cfg := &config.Config{}
	cfg.Model.LLM.Providers = map[string]config.ProviderConfig{"openai": {APIKey: "secret://openai"}}
	cfg.Storage.Cache.Password = "secret://redis"
	cfg.Storage.Vector.DSN = "postgres://plain"

	require.NoError(t, ResolveConfig(context.Background(), store, cfg))
	assert.Equal(t, "sk-live", cfg.Model.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "hunter2", cfg.Storage.Cache.Password)
	assert.Equal(t, "postgres://plain", cfg.Storage.Vector.DSN)

	cfg.Broker.Password = "secret://missing"
	err := ResolveConfig(context.Background(), store, cfg)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, "broker.password")

	err = ResolveConfig(context.Background(), nil, cfg)
	assert.ErrorContains(t, err, "secrets.provider")
}
