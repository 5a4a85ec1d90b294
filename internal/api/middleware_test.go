package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLog(t *testing.T, level zerolog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(level)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func loggedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ZerologLogger())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/downloads/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	return r
}

func TestLoggerRecordsRouteAndTaskID(t *testing.T) {
	buf := captureLog(t, zerolog.InfoLevel)
	r := loggedRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/downloads/abc123", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["task_id"] != "abc123" || entry["route"] != "/api/v1/downloads/:id" {
		t.Fatalf("unexpected log fields %v", entry)
	}
	if entry["level"] != "warn" || entry["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected warn for 404, got %v", entry)
	}
}

func TestLoggerQuietHealthChecks(t *testing.T) {
	buf := captureLog(t, zerolog.InfoLevel)
	r := loggedRouter()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("health check logged at info: %s", buf.String())
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestLoggerUnmatchedRoute(t *testing.T) {
	buf := captureLog(t, zerolog.InfoLevel)
	r := loggedRouter()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if !strings.Contains(buf.String(), `"route":"unmatched"`) {
		t.Fatalf("expected unmatched route, got %q", buf.String())
	}
}
