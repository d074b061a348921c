package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Darunesh1/tds-quiz-solver/internal/jobs"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
	"github.com/Darunesh1/tds-quiz-solver/internal/telemetry"
)

// StatusReporter exposes provider availability. Satisfied by
// llm.Client.
type StatusReporter interface {
	Primary() string
	Status() map[string]llm.ProviderStatus
}

// SolveRequest is the body of POST /solve.
type SolveRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// SolveResponse acknowledges an accepted job.
type SolveResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id"`
	Message  string `json:"message"`
}

// Handlers holds the HTTP surface of the solver service.
type Handlers struct {
	secret   string
	store    jobs.Store
	llm      StatusReporter
	logger   *log.Logger
	runChain func(ctx context.Context, job jobs.Job, secret string) (int, error)
}

// Register mounts the routes.
func (h *Handlers) Register(e *echo.Echo) {
	e.POST("/solve", h.Solve)
	e.GET("/health", h.Health)
	e.GET("/jobs/:id", h.JobStatus)
}

// Solve accepts a quiz chain and starts solving it in the background.
func (h *Handlers) Solve(c echo.Context) error {
	var req SolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and url are required")
	}
	if req.Secret != h.secret {
		h.logger.Printf("rejected solve request with invalid secret from %s", c.RealIP())
		return echo.NewHTTPError(http.StatusForbidden, "invalid secret")
	}

	job := jobs.Job{
		ID:        uuid.NewString(),
		Email:     req.Email,
		StartURL:  req.URL,
		Status:    jobs.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := h.store.Save(c.Request().Context(), job); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not record job")
	}

	telemetry.JobsStarted.Inc()
	h.logger.Printf("received job %s for %s", job.ID, job.Email)
	go h.runJob(job, req.Secret)

	return c.JSON(http.StatusOK, SolveResponse{
		Accepted: true,
		JobID:    job.ID,
		Message:  "Job started successfully",
	})
}

// runJob drives the chain to completion and records the outcome. It
// deliberately detaches from the request context: the caller gets an
// immediate ack while solving continues.
func (h *Handlers) runJob(job jobs.Job, secret string) {
	ctx := context.Background()

	rounds, err := h.runChain(ctx, job, secret)
	job.Rounds = rounds
	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		h.logger.Printf("job %s failed after %d round(s): %v", job.ID, rounds, err)
	} else {
		job.Status = jobs.StatusDone
		h.logger.Printf("job %s finished after %d round(s)", job.ID, rounds)
	}
	if err := h.store.Save(ctx, job); err != nil {
		h.logger.Printf("job %s: could not record final status: %v", job.ID, err)
	}
}

// Health reports service and provider availability.
func (h *Handlers) Health(c echo.Context) error {
	providers := make(map[string]map[string]interface{})
	for name, st := range h.llm.Status() {
		entry := map[string]interface{}{"available": st.Available}
		if st.LastError != "" {
			entry["last_error"] = st.LastError
		}
		providers[name] = entry
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"primary":   h.llm.Primary(),
		"providers": providers,
	})
}

// JobStatus returns the recorded state of one job.
func (h *Handlers) JobStatus(c echo.Context) error {
	job, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load job")
	}
	return c.JSON(http.StatusOK, job)
}
