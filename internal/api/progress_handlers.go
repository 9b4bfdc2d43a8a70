package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	defaultJobLimit   = 50
	maxJobLimit       = 500
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

// listJobs handles GET /v1/jobs?state=&limit=&offset=. It returns
// {"jobs": [...]} newest first, or 400 for invalid filters.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *crawler.JobState
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		parsed, parseErr := parseState(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &parsed
	}
	jobs, err := s.jobs.List(r.Context(), state, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobDTOs(jobs)})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

// listPages handles GET /v1/jobs/{job_id}/pages.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.jobs.Pages(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if pages == nil {
		pages = []crawler.PageResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// listEvents handles GET /v1/jobs/{job_id}/events?after=&limit=. Clients page
// through the record by passing the last seq they saw as after.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
	}
	events, err := s.jobs.Events(r.Context(), jobID, after, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []crawler.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// getStats handles GET /v1/jobs/{job_id}/stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.jobs.Stats(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func parseJobID(r *http.Request) (string, error) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return "", errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (crawler.JobState, error) {
	state := crawler.JobState(strings.ToUpper(input))
	switch state {
	case crawler.StatePending, crawler.StateRunning, crawler.StatePaused, crawler.StateCaptchaDetected,
		crawler.StateCompleted, crawler.StateFailed, crawler.StateCancelled:
		return state, nil
	case "CANCELED":
		return crawler.StateCancelled, nil
	default:
		return "", errors.New("invalid state")
	}
}
