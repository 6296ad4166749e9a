// Package httpapi exposes a bulletin.Service over HTTP.
//
// Listings are streamed as server-sent events, one event per message,
// flushed as soon as the service yields it.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/maorm36/bulletin"
)

// maxBodySize bounds create payloads.
const maxBodySize = 128 * 1024

// NewRouter creates and configures the HTTP router.
func NewRouter(svc bulletin.Service, logger *slog.Logger, allowedOrigins []string) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(svc, logger)

	r.Get("/health", h.Health)
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", h.CreateMessage)
		r.Get("/", h.ListMessages)
		r.Delete("/", h.DeleteMessages)
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"latency", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
