package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/errkind"
)

// maxBodyBytes bounds a single submission body.
const maxBodyBytes = 1 << 20

// ActivitiesHandler handles activity intake and lookup.
type ActivitiesHandler struct {
	deps Dependencies
}

// NewActivitiesHandler creates a new activities handler.
func NewActivitiesHandler(deps Dependencies) *ActivitiesHandler {
	return &ActivitiesHandler{deps: deps}
}

// HandleSubmit handles POST /activities. The record is queued and 202 is
// returned; ingestion happens asynchronously.
func (h *ActivitiesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_activity"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sub, rec, err := decodeSubmission(w, r)
	if err != nil {
		writeFailure(w, errkind.WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Submit(r.Context(), sub.SubmissionID, rec); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", SubmissionID: sub.SubmissionID})
}

// HandleEvaluate handles POST /activities/evaluate. Nothing is stored.
func (h *ActivitiesHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate_activity"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, rec, err := decodeSubmission(w, r)
	if err != nil {
		writeFailure(w, errkind.WrapKind(op, ErrBadRequest, err))
		return
	}
	v, err := h.deps.Evaluate(r.Context(), rec)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleIngest handles POST /activities/ingest, ingesting synchronously.
func (h *ActivitiesHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_activity"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, rec, err := decodeSubmission(w, r)
	if err != nil {
		writeFailure(w, errkind.WrapKind(op, ErrBadRequest, err))
		return
	}
	v, stored, err := h.deps.IngestNow(r.Context(), rec)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := ingestResponse{Verdict: v}
	status := http.StatusOK
	if stored.ID != 0 {
		out := toResponse(stored)
		resp.Record = &out
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// HandleGet handles GET /activities/{id}.
func (h *ActivitiesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_activity"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/activities/")
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", errkind.New(op, ErrBadRequest))
		return
	}
	rec, err := h.deps.Get(r.Context(), model.RecordID(id))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func decodeSubmission(w http.ResponseWriter, r *http.Request) (model.Submission, model.ActivityRecord, error) {
	var sub model.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&sub); err != nil {
		return sub, model.ActivityRecord{}, err
	}
	rec, err := sub.Record(model.SourceManual)
	return sub, rec, err
}
