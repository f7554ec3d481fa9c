package api

import (
	"errors"
	"net/http"

	"github.com/vrsandeep/citefetch/internal/jobs"
)

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Start(jobs.TriggerManual)
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	RespondWithJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleInterruptRun(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Interrupt() {
		RespondWithError(w, http.StatusConflict, "No run in progress")
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Run will stop after in-flight downloads finish"})
}
