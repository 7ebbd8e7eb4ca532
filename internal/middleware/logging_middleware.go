package middleware

import (
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey ключ trace-ID в gin.Context
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Пути из quiet логируются на уровне TRACE (health-check, скрейп метрик).
type RequestLogger struct {
	logger *logging.Logger
	quiet  map[string]bool
}

// NewRequestLogger создает middleware; logger nil - логгер компонента "api"
func NewRequestLogger(logger *logging.Logger, quietPaths ...string) *RequestLogger {
	if logger == nil {
		logger = logging.GetAPILogger()
	}
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}
	return &RequestLogger{logger: logger, quiet: quiet}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Берем trace-id из OpenTelemetry, если span уже создан (otelgin стоит раньше)
		var traceID string
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		switch {
		case rl.quiet[path]:
			rl.logger.Trace("[HTTP] %s %s %d %s trace=%s", c.Request.Method, path, status, latency, traceID)
		case status >= 500:
			rl.logger.Error("[HTTP] %s %s %d %s ip=%s trace=%s errors=%s", c.Request.Method, path, status, latency, c.ClientIP(), traceID, c.Errors.String())
		default:
			rl.logger.Info("[HTTP] %s %s %d %s ip=%s trace=%s", c.Request.Method, path, status, latency, c.ClientIP(), traceID)
		}
	}
}
