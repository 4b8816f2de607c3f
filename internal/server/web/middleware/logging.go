package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandeptwidyaop/leadflow/pkg/logger"
	"github.com/pandeptwidyaop/leadflow/pkg/utils"
)

// RequestIDHeader carries the request id, echoed on every response.
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush implements http.Flusher for the event stream
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// HTTPLoggerWithLevel logs HTTP requests. level is one of "silent",
// "error" (5xx), "warn" (4xx and 5xx) or "info" (everything).
func HTTPLoggerWithLevel(next http.Handler, level string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = utils.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		logEvent := eventFor(level, rw.statusCode)
		if logEvent == nil {
			return
		}

		duration := time.Since(start)
		logEvent = logEvent.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Int("status", rw.statusCode).
			Int64("bytes", rw.written).
			Dur("duration", duration)

		logEvent.Msg("HTTP request")
	})
}

// eventFor picks the log event for a status under level, or nil to skip.
func eventFor(level string, status int) *zerolog.Event {
	switch level {
	case "silent":
		return nil
	case "error":
		if status >= 500 {
			return logger.ErrorEvent()
		}
		return nil
	case "warn":
		if status < 400 {
			return nil
		}
	}

	switch {
	case status >= 500:
		return logger.ErrorEvent()
	case status >= 400:
		return logger.WarnEvent()
	default:
		return logger.InfoEvent()
	}
}
