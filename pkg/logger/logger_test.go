package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DebugOnlyInDev(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("prod", &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	NewWithWriter("dev", &buf).Debug("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNew_TagsServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("staging", &buf).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "callcenter-api", rec["service"])
	assert.Equal(t, "staging", rec["env"])
	assert.True(t, strings.HasSuffix(rec["time"].(string), "Z"), "time should be UTC: %v", rec["time"])
}

func TestLevelFor(t *testing.T) {
	cases := map[string]slog.Level{
		"local":      slog.LevelDebug,
		" Dev ":      slog.LevelDebug,
		"test":       slog.LevelDebug,
		"prod":       slog.LevelInfo,
		"production": slog.LevelInfo,
		"":           slog.LevelInfo,
	}
	for env, want := range cases {
		assert.Equal(t, want, levelFor(env), "env %q", env)
	}
}

func TestWithAttrs_Accumulates(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), NewWithWriter("prod", &buf))
	ctx = WithAttrs(ctx, "prospect_id", 42)
	ctx = WithAttrs(ctx, "caller_id", 7)
	From(ctx).Info("scoped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, float64(42), rec["prospect_id"])
	assert.Equal(t, float64(7), rec["caller_id"])
}

func TestFromGin_FallsBackToRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewWithWriter("prod", &bytes.Buffer{})

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(With(context.Background(), l))
	assert.Same(t, l, FromGin(c))
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, From(context.Background()))

	l := NewWithWriter("prod", &bytes.Buffer{})
	assert.Same(t, l, From(With(context.Background(), l)))
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("prod", &buf)))
	r.GET("/ping", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Set("user_id", "7")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "req-123", rec["request_id"])
	}

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &summary))
	assert.Equal(t, "/ping", summary["path"])
	assert.Equal(t, float64(http.StatusNoContent), summary["status"])
	assert.Equal(t, "7", summary["user_id"])
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(NewWithWriter("prod", &bytes.Buffer{})))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}
