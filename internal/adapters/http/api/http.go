// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	service "github.com/okian/recon/internal/app"
	"github.com/okian/recon/internal/domain/dedupe"
	"github.com/okian/recon/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit queues a record for asynchronous ingestion.
	Submit(ctx context.Context, submissionID string, rec model.ActivityRecord) error
	IngestNow(ctx context.Context, rec model.ActivityRecord) (model.Verdict, model.ActivityRecord, error)
	Evaluate(ctx context.Context, rec model.ActivityRecord) (model.Verdict, error)
	Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error)

	Analyze(ctx context.Context) (dedupe.Analysis, error)
	Cleanup(ctx context.Context, dryRun bool, limit int) (dedupe.CleanupResult, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	activitiesHandler *ActivitiesHandler
	duplicatesHandler *DuplicatesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, health HealthChecker) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(health),
		statsHandler:      NewStatsHandler(statsProvider),
		activitiesHandler: NewActivitiesHandler(deps),
		duplicatesHandler: NewDuplicatesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/activities", MetricsMiddleware(s.activitiesHandler.HandleSubmit, "activities"))
	mux.HandleFunc("/activities/evaluate", MetricsMiddleware(s.activitiesHandler.HandleEvaluate, "evaluate"))
	mux.HandleFunc("/activities/ingest", MetricsMiddleware(s.activitiesHandler.HandleIngest, "ingest"))
	mux.HandleFunc("/activities/", MetricsMiddleware(s.activitiesHandler.HandleGet, "activity"))
	mux.HandleFunc("/duplicates/analyze", MetricsMiddleware(s.duplicatesHandler.HandleAnalyze, "analyze"))
	mux.HandleFunc("/duplicates/cleanup", MetricsMiddleware(s.duplicatesHandler.HandleCleanup, "cleanup"))
}

// activityResponse is the read shape of a stored record.
type activityResponse struct {
	ID            model.RecordID  `json:"id"`
	OwnerID       model.OwnerID   `json:"owner_id"`
	Start         time.Time       `json:"start"`
	End           *time.Time      `json:"end,omitempty"`
	DurationHours *float64        `json:"duration_hours,omitempty"`
	Description   string          `json:"description"`
	Source        model.Source    `json:"source"`
	Reference     string          `json:"reference,omitempty"`
	Category      string          `json:"category,omitempty"`
	Fingerprint   string          `json:"fingerprint"`
	CreatedAt     time.Time       `json:"created_at"`
	Disposition   string          `json:"disposition"`
	DuplicateOf   *model.RecordID `json:"duplicate_of,omitempty"`
}

func toResponse(rec model.ActivityRecord) activityResponse { //nolint:gocritic // read shape conversion
	out := activityResponse{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Start:         rec.Start,
		End:           rec.End,
		DurationHours: rec.Duration,
		Description:   rec.Description,
		Source:        rec.Source,
		Reference:     rec.Reference,
		Category:      rec.Category,
		Fingerprint:   rec.Fingerprint,
		CreatedAt:     rec.CreatedAt,
		Disposition:   "original",
	}
	if id, ok := rec.Disposition.CanonicalID(); ok {
		out.Disposition = "duplicate"
		out.DuplicateOf = &id
	}
	return out
}

type ackResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id,omitempty"`
}

type ingestResponse struct {
	Verdict model.Verdict     `json:"verdict"`
	Record  *activityResponse `json:"record,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates an upstream error into a status and error code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidSubmission),
		errors.Is(err, dedupe.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, "duplicate_submission", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
