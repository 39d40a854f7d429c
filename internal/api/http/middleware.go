package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/token"
)

// statusRecorder captures the status code a handler wrote, mirroring the
// teacher's interceptor pattern for the plain net/http world.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging logs method, path, status, and duration for every request.
func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started).String(),
		)
	})
}

// withAdminAuth gates a handler behind a bearer admin token.
func withAdminAuth(admin *token.Admin, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, unauthorized("missing bearer token"))
			return
		}

		if err := admin.Validate(strings.TrimPrefix(header, prefix)); err != nil {
			writeError(w, unauthorized("invalid or expired admin token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
