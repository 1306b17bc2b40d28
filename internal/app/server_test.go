package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/pkg/config"
)

func TestNewServerTracing_Disabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Nil(t, NewServerTracing(config.TracingConfig{}, "civic-mesh", nil))
	assert.Nil(t, NewServerTracing(config.TracingConfig{Enable: true}, "civic-mesh", nil), "no export endpoint")

	var st *ServerTracing
	assert.Nil(t, st.ServerOptions())
	assert.Nil(t, st.Middleware())
	assert.NoError(t, st.Shutdown(context.Background()))
}

func TestNewServerTracing_HTTP(t *testing.T) {
	st := NewServerTracing(config.TracingConfig{
		Enable:         true,
		ExportEndpoint: "localhost:4318",
		Protocol:       "http",
		Insecure:       true,
	}, "civic-mesh", nil)
	require.NotNil(t, st)
	assert.Len(t, st.ServerOptions(), 1)
	assert.NotNil(t, st.Middleware())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = st.Shutdown(ctx)
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, ":8000", ListenAddr(config.APIConfig{}, 8000))
	assert.Equal(t, "127.0.0.1:9100", ListenAddr(config.APIConfig{Host: "127.0.0.1", Port: 9100}, 8000))
}

func TestServerOptions(t *testing.T) {
	assert.Len(t, ServerOptions(config.APIConfig{}), 1)
	assert.Len(t, ServerOptions(config.APIConfig{Timeout: "30s"}), 3)
}

func TestConfigureHertzLogger_File(t *testing.T) {
	closer, err := ConfigureHertzLogger(config.LogConfig{Level: "debug", File: filepath.Join(t.TempDir(), "hertz.log")})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = ConfigureHertzLogger(config.LogConfig{}) })
	assert.NoError(t, closer.Close())

	_, err = ConfigureHertzLogger(config.LogConfig{File: filepath.Join(t.TempDir(), "missing", "hertz.log")})
	assert.Error(t, err)
}
