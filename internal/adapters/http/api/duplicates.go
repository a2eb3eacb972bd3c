package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/recon/pkg/errkind"
)

// DuplicatesHandler handles batch analysis and cleanup.
type DuplicatesHandler struct {
	deps Dependencies
}

// NewDuplicatesHandler creates a new duplicates handler.
func NewDuplicatesHandler(deps Dependencies) *DuplicatesHandler {
	return &DuplicatesHandler{deps: deps}
}

// HandleAnalyze handles GET /duplicates/analyze.
func (h *DuplicatesHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	a, err := h.deps.Analyze(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleCleanup handles POST /duplicates/cleanup?dry_run=true|false&limit=N.
// Without dry_run=false nothing is written.
func (h *DuplicatesHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	const op = "api.cleanup"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	dryRun := true
	if v := q.Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, errkind.WrapKind(op, ErrBadRequest, err))
			return
		}
		dryRun = b
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n < 0 {
			err = fmt.Errorf("limit %d is negative", n)
		}
		if err != nil {
			writeFailure(w, errkind.WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}

	res, err := h.deps.Cleanup(r.Context(), dryRun, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
