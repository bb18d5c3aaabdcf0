package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// quietRoutes are polled by probes and scrapers and log at debug.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestLogger logs each request once it completes. An accepted WebSocket
// upgrade completes when the peer disconnects, so it is logged as a peer
// session with its lifetime.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)
		upgraded := websocket.IsWebSocketUpgrade(c.Request) && status < 400

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quietRoutes[path]:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Dur("duration", time.Since(start))
		if upgraded {
			event.Msg("ws_peer_session")
			return
		}
		event.Int("status", status).Msg("http_request")
	}
}

// RequestMetricsMiddleware records plain HTTP requests. Upgraded peers are
// counted by the responder's connection gauge instead.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if websocket.IsWebSocketUpgrade(c.Request) && c.Writer.Status() < 400 {
			return
		}
		RecordHTTPRequest(node, c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
