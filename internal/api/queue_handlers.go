// Handlers for the download queue endpoints.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/intake"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/store"
)

// AddToQueuePayload is the expected body of POST /api/queue.
type AddToQueuePayload struct {
	Inputs   []string `json:"inputs"`
	Priority int      `json:"priority"`
}

// AddToQueueResponse reports what happened to each submitted input.
type AddToQueueResponse struct {
	Results    []intake.Result `json:"results"`
	Queued     int             `json:"queued"`
	Duplicates int             `json:"duplicates"`
	Skipped    int             `json:"skipped"`
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		RespondWithError(w, http.StatusBadRequest, "Unknown status")
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}

	items, err := s.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.log.Error("Failed to list queue", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to list queue")
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	RespondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleQueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		s.log.Error("Failed to count queue", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to count queue")
		return
	}
	RespondWithJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid queue item ID")
		return
	}
	item, err := s.store.GetQueueItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Queue item not found")
		return
	}
	if err != nil {
		s.log.Error("Failed to get queue item", zap.Int64("id", id), zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to get queue item")
		return
	}
	RespondWithJSON(w, http.StatusOK, item)
}

func (s *Server) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	var payload AddToQueuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload.Inputs) == 0 {
		RespondWithError(w, http.StatusBadRequest, "No inputs provided to queue")
		return
	}

	results, err := s.app.Intake().Add(r.Context(), payload.Inputs, payload.Priority)
	if err != nil {
		s.log.Error("Failed to add inputs to queue", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to add inputs to queue")
		return
	}

	resp := AddToQueueResponse{Results: results}
	for _, res := range results {
		switch res.Outcome {
		case intake.Queued:
			resp.Queued++
		case intake.Duplicate:
			resp.Duplicates++
		case intake.Skipped:
			resp.Skipped++
		}
	}
	if resp.Results == nil {
		resp.Results = []intake.Result{}
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.RetryFailed(r.Context())
	if err != nil {
		s.log.Error("Failed to requeue failed items", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to requeue failed items")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

func (s *Server) handleDeleteCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteCompleted(r.Context())
	if err != nil {
		s.log.Error("Failed to delete completed items", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete completed items")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// intParam reads a non-negative integer query parameter. Missing means 0.
// On a bad value it writes a 400 and returns false.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		RespondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}
