package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/sessionmesh/logging"
)

// requestRecorder is implemented by loggers with a dedicated request record,
// such as logging.MeshLogger.
type requestRecorder interface {
	LogRequest(method, path string, status int, dur time.Duration)
}

// requestLogger logs method, path, status and duration of every request.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if rec, ok := logger.(requestRecorder); ok {
				rec.LogRequest(r.Method, r.URL.Path, status, time.Since(start))
				return
			}
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// stackLogger is implemented by loggers that can attach a stack trace, such
// as logging.MeshLogger and logging.ZapAdapter.
type stackLogger interface {
	ErrorWithStack(err error, msg string, args ...any)
}

// recovery catches panics and returns a 500.
func recovery(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					if sl, ok := logger.(stackLogger); ok {
						sl.ErrorWithStack(fmt.Errorf("panic serving %s: %v", r.URL.Path, rec), "panic recovered")
					} else {
						logger.Error("panic recovered", "error", rec, "path", r.URL.Path)
					}
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: "internal"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
