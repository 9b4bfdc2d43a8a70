package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// jobRequest is the create payload. Pointer fields distinguish "absent" from
// a meaningful zero.
type jobRequest struct {
	StartURL               string         `json:"start_url"`
	MaxPages               *int           `json:"max_pages"`
	MaxDepth               *int           `json:"max_depth"`
	DelayBetweenRequests   *float64       `json:"delay_between_requests"`
	Timeout                *float64       `json:"timeout"`
	UserAgent              string         `json:"user_agent"`
	Headless               *bool          `json:"headless"`
	WindowSize             string         `json:"window_size"`
	Priority               string         `json:"priority"`
	RespectRobots          *bool          `json:"respect_robots"`
	AllowExternal          *bool          `json:"allow_external"`
	DenyDomains            []string       `json:"deny_domains"`
	MaxConsecutiveFailures *int           `json:"max_consecutive_failures"`
	MaxFailureRatio        *float64       `json:"max_failure_ratio"`
	Config                 map[string]any `json:"config"`
}

type templateRequest struct {
	Template string         `json:"template"`
	StartURL string         `json:"start_url"`
	Priority string         `json:"priority"`
	MaxPages int            `json:"max_pages"`
	Config   map[string]any `json:"config"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// jobDTO renders durations in seconds to match the request shape.
type jobDTO struct {
	ID         string       `json:"id"`
	StartURL   string       `json:"start_url"`
	State      string       `json:"state"`
	Cause      string       `json:"cause,omitempty"`
	Config     jobConfigDTO `json:"config"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type jobConfigDTO struct {
	MaxPages               int            `json:"max_pages"`
	MaxDepth               int            `json:"max_depth"`
	DelayBetweenRequests   float64        `json:"delay_between_requests"`
	Timeout                float64        `json:"timeout"`
	UserAgent              string         `json:"user_agent,omitempty"`
	Headless               bool           `json:"headless"`
	WindowSize             string         `json:"window_size"`
	Priority               string         `json:"priority"`
	RespectRobots          bool           `json:"respect_robots"`
	AllowExternal          bool           `json:"allow_external"`
	DenyDomains            []string       `json:"deny_domains,omitempty"`
	MaxConsecutiveFailures int            `json:"max_consecutive_failures"`
	MaxFailureRatio        float64        `json:"max_failure_ratio"`
	Config                 map[string]any `json:"config,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := req.jobConfig(s.opts.Defaults)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, err := s.jobs.Create(r.Context(), orchestrator.CreateRequest{StartURL: req.StartURL, Config: cfg})
	metrics.ObserveCommand("create", err)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) createFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	job, err := s.jobs.CreateFromTemplate(r.Context(), orchestrator.TemplateRequest{
		Template: req.Template,
		StartURL: req.StartURL,
		Priority: crawler.Priority(strings.ToUpper(strings.TrimSpace(req.Priority))),
		MaxPages: req.MaxPages,
		Extra:    req.Config,
	})
	metrics.ObserveCommand("create_from_template", err)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": toJobDTO(job)})
}

// command adapts a lifecycle command to a handler answering with the job's
// state after the command applied.
func (s *Server) command(name string, apply func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := parseJobID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = apply(r.Context(), jobID)
		metrics.ObserveCommand(name, err)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJobState(w, r, jobID)
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.jobs.Cancel(r.Context(), jobID, req.Reason)
	metrics.ObserveCommand("cancel", err)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJobState(w, r, jobID)
}

func (s *Server) writeJobState(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "state": string(job.State)})
}

// jobConfig overlays the request on defaults and validates the result so an
// explicit zero is rejected instead of silently defaulted.
func (req jobRequest) jobConfig(defaults crawler.JobConfig) (crawler.JobConfig, error) {
	cfg := defaults.Clone().WithDefaults()
	if req.MaxPages != nil {
		cfg.MaxPages = *req.MaxPages
	}
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.DelayBetweenRequests != nil {
		cfg.Delay = crawler.SecondsToDuration(*req.DelayBetweenRequests)
	}
	if req.Timeout != nil {
		cfg.Timeout = crawler.SecondsToDuration(*req.Timeout)
	}
	if req.UserAgent != "" {
		cfg.UserAgent = req.UserAgent
	}
	if req.Headless != nil {
		cfg.Headless = *req.Headless
	}
	if req.WindowSize != "" {
		window, err := crawler.ParseWindowSize(req.WindowSize)
		if err != nil {
			return crawler.JobConfig{}, err
		}
		cfg.Window = window
	}
	if req.Priority != "" {
		cfg.Priority = crawler.Priority(strings.ToUpper(strings.TrimSpace(req.Priority)))
	}
	if req.RespectRobots != nil {
		cfg.RespectRobots = *req.RespectRobots
	}
	if req.AllowExternal != nil {
		cfg.AllowExternal = *req.AllowExternal
	}
	if len(req.DenyDomains) > 0 {
		cfg.DenyDomains = append([]string(nil), req.DenyDomains...)
	}
	if req.MaxConsecutiveFailures != nil {
		cfg.MaxConsecutiveFailures = *req.MaxConsecutiveFailures
	}
	if req.MaxFailureRatio != nil {
		cfg.MaxFailureRatio = *req.MaxFailureRatio
	}
	if len(req.Config) > 0 {
		cfg.Extra = make(map[string]any, len(req.Config))
		for k, v := range req.Config {
			cfg.Extra[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return crawler.JobConfig{}, err
	}
	return cfg, nil
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func toJobDTO(job crawler.Job) jobDTO {
	c := job.Config
	return jobDTO{
		ID:       job.ID,
		StartURL: job.StartURL,
		State:    string(job.State),
		Cause:    job.Cause,
		Config: jobConfigDTO{
			MaxPages:               c.MaxPages,
			MaxDepth:               c.MaxDepth,
			DelayBetweenRequests:   c.Delay.Seconds(),
			Timeout:                c.Timeout.Seconds(),
			UserAgent:              c.UserAgent,
			Headless:               c.Headless,
			WindowSize:             c.Window.String(),
			Priority:               string(c.Priority),
			RespectRobots:          c.RespectRobots,
			AllowExternal:          c.AllowExternal,
			DenyDomains:            c.DenyDomains,
			MaxConsecutiveFailures: c.MaxConsecutiveFailures,
			MaxFailureRatio:        c.MaxFailureRatio,
			Config:                 c.Extra,
		},
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}

func toJobDTOs(in []crawler.Job) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, job := range in {
		out = append(out, toJobDTO(job))
	}
	return out
}
