package middleware

import (
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// responseWriter records what the handler sent: status, body size and
// whether the response is a server-sent event stream.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
	eventStream  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.eventStream = strings.HasPrefix(rw.Header().Get("Content-Type"), "text/event-stream")
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so event streams reach the client.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingConfig holds configuration for the access log middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
	// ServiceName is written to the #Software directive.
	ServiceName string
	// Output receives the log lines. Nil means the standard logger.
	Output io.Writer
}

// DefaultLoggingConfig returns the configuration used by the server
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{"/metrics"},
		LogHealthChecks: true,
		ServiceName:     "MediaGallery/1.0",
	}
}

// fields lists the W3C columns in the order logRequest writes them.
// x-stream is "sse" for event streams, whose time-taken is the stream
// lifetime, and "-" otherwise.
const fields = "date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken cs(User-Agent) cs(Referer) x-stream"

var healthCheckPaths = map[string]bool{
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

// accessLog writes requests in W3C Extended Log Format.
type accessLog struct {
	config LoggingConfig
	out    *log.Logger
}

func newAccessLog(config LoggingConfig) *accessLog {
	if config.ServiceName == "" {
		config.ServiceName = DefaultLoggingConfig().ServiceName
	}
	out := log.Default()
	if config.Output != nil {
		out = log.New(config.Output, "", log.LstdFlags)
	}
	return &accessLog{config: config, out: out}
}

// Logger returns HTTP access log middleware. The W3C directives are written
// once when the middleware is built.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	l := newAccessLog(config)
	l.out.Printf("#Software: %s", l.config.ServiceName)
	l.out.Printf("#Fields: %s", fields)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)
			l.logRequest(r, rw, time.Since(start))
		})
	}
}

func (l *accessLog) skip(path string) bool {
	for _, p := range l.config.SkipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return !l.config.LogHealthChecks && healthCheckPaths[path]
}

func (l *accessLog) logRequest(r *http.Request, rw *responseWriter, took time.Duration) {
	now := time.Now().UTC()

	stream := "-"
	if rw.eventStream {
		stream = "sse"
	}

	// Every user-controlled field goes through sanitizeLogField
	l.out.Printf("%s %s %s %s %s %s %d %d %d %s %s %s",
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		sanitizeLogField(getClientIP(r)),
		sanitizeLogField(r.Method),
		sanitizeLogField(r.URL.Path),
		orDash(sanitizeLogField(r.URL.RawQuery)),
		rw.statusCode,
		rw.bytesWritten,
		took.Milliseconds(),
		orDash(escapeW3CField(sanitizeLogField(r.Header.Get("User-Agent")))),
		orDash(sanitizeLogField(r.Header.Get("Referer"))),
		stream,
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// sanitizeLogField removes control characters that could forge log lines or
// inject terminal escapes. Newlines become spaces; tabs are kept.
func sanitizeLogField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// escapeW3CField quotes values containing whitespace or quotes, doubling
// embedded quotes.
func escapeW3CField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
}
