package logging

import (
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sujalbistaa/qreview/internal/config"
)

// Setup initializes the global logger based on configuration
func Setup(cfg config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "qreview").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := RedactQuery(c.Request.URL.RawQuery)

		c.Next()

		latency := time.Since(start)

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// redactedParams never reach the logs verbatim.
var redactedParams = []string{"token"}

// RedactQuery masks secret query parameters. A query that does not parse is
// dropped entirely.
func RedactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparsable]"
	}
	changed := false
	for _, key := range redactedParams {
		if _, ok := values[key]; ok {
			values.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}
