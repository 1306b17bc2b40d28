package http

import (
	"bytes"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/api/http/middleware"
)

func preflight(t *testing.T, h *server.Hertz, path, origin string) *ut.ResponseRecorder {
	t.Helper()
	return ut.PerformRequest(h.Engine, consts.MethodOptions, path, &ut.Body{Body: bytes.NewReader(nil), Len: 0}, ut.Header{Key: "Origin", Value: origin})
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := NewRouter(NewHandler(&fakeWorkflows{}, nil), middleware.NewMiddleware("https://civic.example"))
	r.SetCORS(true)
	h := r.Build(":0")

	w := preflight(t, h, "/api/orchestrate/custom", "https://civic.example")
	assert.Equal(t, consts.StatusNoContent, w.Result().StatusCode())
	assert.Equal(t, "https://civic.example", string(w.Result().Header.Peek("Access-Control-Allow-Origin")))

	w = preflight(t, h, "/api/health", "https://evil.example")
	assert.Equal(t, consts.StatusNoContent, w.Result().StatusCode())
	assert.Empty(t, w.Result().Header.Peek("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	mw := middleware.NewMiddleware().WithRateLimit(0.001, 1)
	h := NewRouter(NewHandler(&fakeWorkflows{}, nil), mw).Build(":0")

	w := perform(t, h, "GET", "/api/orchestrate/status/x", nil)
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())
	w = perform(t, h, "GET", "/api/orchestrate/status/x", nil)
	assert.Equal(t, consts.StatusTooManyRequests, w.Result().StatusCode())

	// 健康检查不受限流
	w = perform(t, h, "GET", "/api/health", nil)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
}

func TestRouter_AgentOnly(t *testing.T) {
	r := NewRouter(NewHandler(&fakeWorkflows{}, nil), nil)
	r.SetAgentOnly(true)
	h := r.Build(":0")

	assert.Equal(t, consts.StatusOK, perform(t, h, "GET", "/api/health", nil).Result().StatusCode())
	assert.Equal(t, consts.StatusNotFound, perform(t, h, "POST", "/api/orchestrate/workflow/full_bill_analysis", nil).Result().StatusCode())
}

func TestRouter_JWT(t *testing.T) {
	auth, err := middleware.NewJWTAuth([]byte("test-key"), map[string]string{"clerk": "s3cret"}, time.Hour, time.Hour)
	require.NoError(t, err)
	r := NewRouter(NewHandler(&fakeWorkflows{}, nil), nil)
	r.SetJWT(auth)
	h := r.Build(":0")

	w := perform(t, h, "GET", "/api/orchestrate/status/x", nil)
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = perform(t, h, "POST", "/api/auth/login", []byte(`{"username":"clerk","password":"wrong"}`))
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())

	w = perform(t, h, "POST", "/api/auth/login", []byte(`{"username":"clerk","password":"s3cret"}`))
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())
	token, _ := decodeJSON(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = ut.PerformRequest(h.Engine, "GET", "/api/orchestrate/status/x", &ut.Body{Body: bytes.NewReader(nil), Len: 0},
		ut.Header{Key: "Authorization", Value: "Bearer " + token})
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())

	// 健康检查不需要 token
	assert.Equal(t, consts.StatusOK, perform(t, h, "GET", "/api/health", nil).Result().StatusCode())
}

func TestNewJWTAuth_Validation(t *testing.T) {
	_, err := middleware.NewJWTAuth(nil, map[string]string{"a": "b"}, time.Hour, time.Hour)
	assert.Error(t, err)
	_, err = middleware.NewJWTAuth([]byte("k"), nil, time.Hour, time.Hour)
	assert.Error(t, err)
}
