package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		}
		if tab := chi.URLParam(r, "tab_id"); tab != "" {
			attrs = append(attrs, "tab_id", tab)
		}
		// health and docs are polled; keep them out of info logs
		if r.Method == http.MethodGet && (strings.HasSuffix(r.URL.Path, "/health") || strings.HasPrefix(r.URL.Path, "/docs")) {
			slog.Debug("http request", attrs...)
			return
		}
		slog.Info("http request", attrs...)
	})
}
