package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/util"
)

var knownAttemptStatuses = map[models.AttemptStatus]bool{
	models.AttemptSuccess: true,
	models.AttemptFailed:  true,
	models.AttemptSkipped: true,
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AttemptFilter{
		Status:  models.AttemptStatus(q.Get("status")),
		Project: q.Get("project"),
	}
	if filter.Status != "" && !knownAttemptStatuses[filter.Status] {
		RespondWithError(w, http.StatusBadRequest, "Unknown status")
		return
	}

	now := time.Now()
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := util.ParseSince(raw, now)
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
			return
		}
		*dst = &t
	}

	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	filter.Limit = limit

	records, err := s.store.QueryDownloadAttempts(r.Context(), filter)
	if err != nil {
		s.log.Error("Failed to query history", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to query history")
		return
	}
	if records == nil {
		records = []*models.DownloadAttemptRecord{}
	}
	RespondWithJSON(w, http.StatusOK, records)
}
