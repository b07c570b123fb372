package payment

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the console API.
func NewRouter(svc *Service) http.Handler {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(svc.Logger))

	r.Get("/healthz", h.Healthz())
	r.Route("/v1/console", func(r chi.Router) {
		r.Get("/records", h.Records())
		r.Post("/category", h.Category())
		r.Get("/totals", h.Totals())
		r.Post("/select/{payment_id}", h.Select())
		r.Get("/detail", h.Detail())
		r.Post("/draft", h.Draft())
		r.Post("/confirm", h.Confirm())
		r.Get("/audit/{payment_id}", h.Audit())
		r.Get("/export.xlsx", h.Export())
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
