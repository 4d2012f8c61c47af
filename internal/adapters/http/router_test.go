package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/adapters/signal"
	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/config"
	"github.com/dkeye/studycall/internal/core/coretest"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>studycall</html>"), 0o644))

	cfg := &config.Config{Mode: "test", StaticPath: static, Secret: "0123456789abcdef0123456789abcdef"}
	engine := orch.New(orch.DefaultConfig(), coretest.NewSurface(), nil)
	ctl := signal.NewViewController(engine, nil, nil, signal.NewRateLimiter(1, time.Minute))
	return SetupRouter(context.Background(), cfg, ctl)
}

func do(r http.Handler, method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestViewEndpoint(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodGet, "/api/view")
	require.Equal(t, http.StatusOK, w.Code)

	var v struct {
		Variant string `json:"variant"`
		Tiles   []any  `json:"tiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "empty", v.Variant)
	assert.Empty(t, v.Tiles)

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "StudycallSessions" {
			session = c
		}
	}
	require.NotNil(t, session, "session cookie issued")
	assert.True(t, session.HttpOnly)
}

func TestToggleEndpointRateLimitsPerToken(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/toggle/volume")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/toggle/pip")
	require.Equal(t, http.StatusAccepted, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/toggle/pip", cookies...).Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/toggle/pip").Code, "a new browser gets its own budget")
}

func TestIndexServed(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "studycall")
}

func TestCheckSecret(t *testing.T) {
	assert.ErrorIs(t, CheckSecret(&config.Config{Secret: "short"}), ErrNoSecret)
	assert.NoError(t, CheckSecret(&config.Config{Secret: "0123456789abcdef"}))
}
