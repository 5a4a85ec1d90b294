package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const healthPath = "/healthz"

// ZerologLogger logs one line per request. Routes are logged by template
// with the download id as task_id; successful health checks log at debug.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		evt := requestEvent(route, status)
		if !evt.Enabled() {
			return
		}
		if id := c.Param("id"); id != "" {
			evt = evt.Str("task_id", id)
		}
		if q := c.Query("url"); q != "" {
			evt = evt.Str("media_url", q)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("gin_errors", c.Errors.String())
		}
		evt.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("route", route).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("request served")
	}
}

func requestEvent(route string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case route == healthPath:
		return log.Debug()
	default:
		return log.Info()
	}
}
