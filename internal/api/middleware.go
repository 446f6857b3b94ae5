package api

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	fdulog "github.com/fduhole/fdusdk/internal/log"
)

// requestID assigns every request a correlation id, propagated through the
// context and echoed in the X-Request-ID header. An id supplied by the
// client is kept.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(fdulog.ContextWithRequestID(r.Context(), id)))
	})
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger := fdulog.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str(fdulog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(fdulog.FieldPath, r.URL.Path).
			Int(fdulog.FieldStatus, sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request handled")
	})
}

// recoverer turns handler panics into 500 responses instead of killing
// the connection.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := fdulog.WithComponentFromContext(r.Context(), "api")
				logger.Error().
					Str(fdulog.FieldEvent, "http.panic").
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bearerAuth guards the API with a static token. An empty token disables
// authentication.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
