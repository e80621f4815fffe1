package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"portfolio-backend/internal/handlers"
	"portfolio-backend/internal/middleware"
)

func New(
	askHandler *handlers.AskHandler,
	conversationHandler *handlers.ConversationHandler,
	statsHandler *handlers.StatsHandler,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Ask rate limiter (20 req/min per IP)
	askLimiter := middleware.NewRateLimiter(20, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Assistant Routes ────
		r.Group(func(r chi.Router) {
			r.Use(askLimiter.Middleware)
			r.Post("/ask", askHandler.Ask)
		})

		// ──── Conversation Routes ────
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/session/{sessionId}", conversationHandler.GetBySession)
			r.Delete("/{id}", conversationHandler.Delete)
		})

		// ──── Stats ────
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
