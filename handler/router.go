package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxBodyBytes = 1 << 20

// Routes returns the HTTP surface: POST /chat, POST /logout and GET /health.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(correlationID)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerCorrelationID},
		ExposedHeaders: []string{headerCorrelationID, headerReplySource},
		MaxAge:         300,
	}))

	r.Get("/health", h.serve(health))
	r.Post("/chat", h.serve(h.chat))
	r.Post("/logout", h.serve(h.logout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, errorResult(http.StatusNotFound, msgNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, errorResult(http.StatusMethodNotAllowed, msgMethodNotAllowed))
	})
	return r
}

type routeFunc func(ctx context.Context, raw []byte) result

func (h *Handler) serve(route routeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			// An unreadable body is treated like a malformed one.
			raw = nil
		}
		writeResult(w, route(r.Context(), raw))
	}
}

func writeResult(w http.ResponseWriter, res result) {
	for k, v := range res.headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	_, _ = w.Write(encode(res.body))
}
