package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(logger *testutil.RecordingLogger, cfg LoggingConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(logger), RequestLogging(logger, cfg))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestLogging_Levels(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	r := newEngine(logger, LoggingConfig{SlowThreshold: 10 * time.Millisecond})

	serve(r, "/ok?x=1", nil)
	serve(r, "/bad", nil)
	serve(r, "/slow", nil)
	serve(r, "/fail", nil)
	serve(r, "/boom", nil)

	ok, found := logger.Find(func(e testutil.LogEntry) bool { return e.Message == "HTTP request completed" })
	require.True(t, found)
	assert.Equal(t, "info", ok.Level)
	path, _ := ok.Field("path")
	assert.Equal(t, "/ok?x=1", path)

	assert.True(t, logger.Has("warn", "HTTP request completed with client error"))
	assert.True(t, logger.Has("warn", "HTTP request completed (slow)"))
	assert.True(t, logger.Has("error", "HTTP request completed with server error"))
	assert.True(t, logger.Has("error", "panic recovered"))
}

func TestRequestLogging_SkipPaths(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	r := newEngine(logger, DefaultLoggingConfig())

	serve(r, "/healthz", nil)
	assert.Empty(t, logger.Entries())
}

func TestRequestID(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	r := newEngine(logger, LoggingConfig{})

	w := serve(r, "/ok", map[string]string{HeaderRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	e, found := logger.Find(func(e testutil.LogEntry) bool { return e.Message == "HTTP request completed" })
	require.True(t, found)
	id, _ := e.Field("request_id")
	assert.Equal(t, "req-42", id)

	w = serve(r, "/ok", nil)
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestRecovery_Body(t *testing.T) {
	r := newEngine(testutil.NewRecordingLogger(), LoggingConfig{})
	w := serve(r, "/boom", map[string]string{HeaderRequestID: "req-7"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-7"`)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestGetRequestID_Nil(t *testing.T) {
	assert.Equal(t, "", GetRequestID(nil))
}
