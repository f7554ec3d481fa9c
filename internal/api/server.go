// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/core"
	"github.com/vrsandeep/citefetch/internal/jobs"
	"github.com/vrsandeep/citefetch/internal/store"
	"github.com/vrsandeep/citefetch/internal/websocket"
)

// Server holds the dependencies for our API.
type Server struct {
	app     *core.App
	store   *store.Store
	manager *jobs.Manager
	hub     *websocket.Hub
	log     *zap.Logger
}

// NewServer creates a new Server instance. manager starts and reports queue
// runs; hub, when not nil, is served at /ws/progress.
func NewServer(app *core.App, manager *jobs.Manager, hub *websocket.Hub) *Server {
	return &Server{
		app:     app,
		store:   app.Store,
		manager: manager,
		hub:     hub,
		log:     app.Log.Named("api"),
	}
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		// Queue Routes
		r.Get("/queue", s.handleListQueue)
		r.Post("/queue", s.handleAddToQueue)
		r.Get("/queue/counts", s.handleQueueCounts)
		r.Post("/queue/retry-failed", s.handleRetryFailed)
		r.Delete("/queue/completed", s.handleDeleteCompleted)
		r.Get("/queue/{itemID}", s.handleGetQueueItem)

		r.Get("/history", s.handleListHistory)

		// Run Routes
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/last", s.handleLastRun)
		r.Post("/runs/interrupt", s.handleInterruptRun)

		r.Get("/health", s.handleHealth)
	})

	// WebSocket route
	if s.hub != nil {
		r.Get("/ws/progress", s.hub.ServeWs)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB.PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
