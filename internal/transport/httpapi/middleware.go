package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// accessLog пишет строку на запрос и обновляет HTTP-метрики.
// Маршрут берётся из шаблона chi, чтобы не плодить метки по id.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		h.metrics.ObserveRequest(r.Method, route, status, elapsed)

		entry := h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}

// recoverer превращает panic обработчика в 500 с конвертом ошибки.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.WithFields(log.Fields{
				"panic":      rec,
				"path":       r.URL.Path,
				"request_id": middleware.GetReqID(r.Context()),
			}).Error("handler panic recovered")
			writeError(w, r, newAPIError(CodeInternal, "internal server error", http.StatusInternalServerError))
		}()
		next.ServeHTTP(w, r)
	})
}
