// Package httputil holds the HTTP plumbing shared by the service: request
// logging, frame authentication and h2c serving.
package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame/security"
	securityhttp "github.com/pitabwire/frame/security/interceptors/httptor"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Authenticated wraps an http.Handler with frame's authentication
// middleware, validating bearer tokens on REST endpoints.
func Authenticated(handler http.Handler, authenticator security.Authenticator) http.Handler {
	return securityhttp.AuthenticationMiddleware(handler, authenticator)
}

// H2C wraps an http.Handler with h2c support for unencrypted HTTP/2, so
// long-lived event streams multiplex over one connection without TLS.
func H2C(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: 250,
		MaxReadFrameSize:     1 << 20,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the logger.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging logs method, path, status and duration of every request.
// Server errors log at warn, everything else at debug.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		}
		if rec.status >= http.StatusInternalServerError {
			slog.WarnContext(r.Context(), "http error", attrs...)
			return
		}
		slog.DebugContext(r.Context(), "http ok", attrs...)
	})
}
