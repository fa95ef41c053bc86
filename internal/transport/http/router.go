package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sats-arena/internal/app"
)

// NewRouter mounts the health check, the game socket and the API.
func NewRouter(service *app.Service, ws *WSHandler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(cors.AllowAll().Handler)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/ws", ws.ServeWS)

	mux.Route("/api", func(r chi.Router) {
		r.Get("/areas", func(w http.ResponseWriter, r *http.Request) {
			areas, err := service.Areas(r.Context())
			if err != nil {
				logger.Error("list areas", "err", err)
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, areas)
		})
		r.Get("/quizzes", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, quizSummaries(service.Catalog()))
		})
		r.Post("/catalog/reload", func(w http.ResponseWriter, r *http.Request) {
			n, err := service.ReloadCatalog(r.Context(), true)
			if errors.Is(err, app.ErrNoCatalogSource) {
				http.Error(w, err.Error(), http.StatusNotImplemented)
				return
			}
			if err != nil {
				logger.Error("reload catalog", "err", err)
				http.Error(w, "catalog reload failed", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"quizzes": n})
		})
	})

	return mux
}

type quizSummary struct {
	ID        string `json:"id"`
	ShortID   string `json:"shortId"`
	Topic     string `json:"topic"`
	Cost      int    `json:"cost"`
	Reward    int    `json:"reward"`
	Questions int    `json:"questions"`
}

func quizSummaries(c *app.Catalog) []quizSummary {
	quizzes := c.Quizzes()
	out := make([]quizSummary, 0, len(quizzes))
	for i, q := range quizzes {
		out = append(out, quizSummary{
			ID:        q.ID,
			ShortID:   "q" + strconv.Itoa(i+1),
			Topic:     q.Topic,
			Cost:      q.Cost,
			Reward:    q.Reward,
			Questions: len(q.Questions),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
