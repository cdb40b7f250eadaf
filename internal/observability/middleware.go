package observability

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/cryptolctl/internal/protocol/session"
)

const (
	keyClientSession = "cryptol.client_session"
	keyRPCMethod     = "cryptol.rpc_method"
	keyNotification  = "cryptol.notification"

	maxEnvelopePeek = 1 << 20

	noRPCMethod = "none"
)

// RPCEnvelope records the client session header and the JSON-RPC method of
// a POST body on the gin context. The body is restored for the handler.
func RPCEnvelope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sid := c.GetHeader(session.HeaderSessionID); sid != "" {
			c.Set(keyClientSession, sid)
		}
		if c.Request.Method != http.MethodPost || c.Request.Body == nil {
			c.Next()
			return
		}
		head, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEnvelopePeek))
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(head), c.Request.Body))
		if err == nil {
			var env struct {
				Method string          `json:"method"`
				ID     json.RawMessage `json:"id"`
			}
			if json.Unmarshal(head, &env) == nil && env.Method != "" {
				c.Set(keyRPCMethod, env.Method)
				c.Set(keyNotification, len(env.ID) == 0 || string(env.ID) == "null")
			}
		}
		c.Next()
	}
}

func rpcMethod(c *gin.Context) string {
	if m := c.GetString(keyRPCMethod); m != "" {
		return m
	}
	return noRPCMethod
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// RequestLogger logs one line per request with the client session and
// JSON-RPC method when RPCEnvelope ran first.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		method, isRPC := c.Get(keyRPCMethod)
		if isRPC {
			event = event.
				Str("rpc_method", method.(string)).
				Bool("notification", c.GetBool(keyNotification))
		}
		if sid := c.GetString(keyClientSession); sid != "" {
			event = event.Str("client_session", sid)
		}
		msg := "http_request"
		if isRPC {
			msg = "rpc_request"
		}
		event.
			Str("route", route(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Msg(msg)
	}
}

// RequestMetricsMiddleware counts requests by route and JSON-RPC method.
func RequestMetricsMiddleware(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(component, route(c), rpcMethod(c), c.Writer.Status(), time.Since(start))
	}
}

// MetricsRouter serves /metrics and /health for the CLI's optional
// metrics listener.
func MetricsRouter(logger zerolog.Logger) *gin.Engine {
	RegisterMetrics()
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), RequestMetricsMiddleware("metrics"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}
