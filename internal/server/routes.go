package server

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/hilci/internal/models"
	"github.com/bobmcallan/hilci/internal/services/queue"
	"github.com/bobmcallan/hilci/internal/validator"
)

func isTooManyJobs(err error) bool {
	return errors.Is(err, queue.ErrTooManyJobs)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/targets", s.handleTargets)
	mux.HandleFunc("/job/by-id/", s.handleJobByID)
	mux.HandleFunc("/job/last", s.handleJobLast)
	mux.HandleFunc("/job", s.handleJobSubmit)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Queue.Snapshot())
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Inventory.All())
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var desc models.JobDescription
	if !DecodeJSON(w, r, &desc) {
		return
	}

	job, errs := validator.Validate(desc, s.app.Inventory)
	if len(errs) > 0 {
		WriteJSON(w, http.StatusBadRequest, errs)
		return
	}

	if err := s.app.Queue.TryEnqueue(job); err != nil {
		s.writeAdmissionError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/job/by-id/")
	if id == "" {
		WriteError(w, http.StatusNotFound, "missing job id")
		return
	}
	s.respondWithJobState(w, id)
}

func (s *Server) handleJobLast(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	result, ok := s.app.Queue.LastResult()
	if !ok {
		WriteError(w, http.StatusNotFound, "no job has finished yet")
		return
	}
	WriteJSON(w, http.StatusFound, result)
}

// respondWithJobState renders the HTTP outcome for a polled job id: 425
// while running or queued (ask the client to retry), 404 once unknown
// (never admitted, or evicted from the finished-results FIFO), 302 with the
// JobResult body once finished.
func (s *Server) respondWithJobState(w http.ResponseWriter, id string) {
	switch s.app.Queue.JobStatus(id) {
	case models.JobStateRunning, models.JobStateInQueue:
		WriteError(w, http.StatusTooEarly, "job has not finished yet")
	case models.JobStateFinished:
		result, ok := s.app.Queue.Result(id)
		if !ok {
			WriteError(w, http.StatusNotFound, "job result no longer available")
			return
		}
		WriteJSON(w, http.StatusFound, result)
	default:
		WriteError(w, http.StatusNotFound, "no such job")
	}
}

func (s *Server) writeAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case isTooManyJobs(err):
		WriteError(w, http.StatusTooEarly, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
