package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidSubmission marks a submission that cannot become a record.
var ErrInvalidSubmission = errors.New("invalid submission")

// Submission is the wire form of an activity accepted over HTTP or Kafka.
type Submission struct {
	// SubmissionID is an optional client idempotency key.
	SubmissionID  string     `json:"submission_id,omitempty"`
	OwnerID       int64      `json:"owner_id"`
	Start         time.Time  `json:"start"`
	End           *time.Time `json:"end,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Description   string     `json:"description"`
	Source        string     `json:"source,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	Category      string     `json:"category,omitempty"`
}

// Record validates s and converts it. An empty source becomes fallback.
func (s Submission) Record(fallback Source) (ActivityRecord, error) {
	src := Source(strings.TrimSpace(s.Source))
	if src == "" {
		src = fallback
	}
	switch {
	case s.OwnerID <= 0:
		return ActivityRecord{}, fmt.Errorf("%w: owner_id must be positive", ErrInvalidSubmission)
	case s.Start.IsZero():
		return ActivityRecord{}, fmt.Errorf("%w: start is required", ErrInvalidSubmission)
	case !src.Valid():
		return ActivityRecord{}, fmt.Errorf("%w: unknown source %q", ErrInvalidSubmission, s.Source)
	case s.End != nil && s.End.Before(s.Start):
		return ActivityRecord{}, fmt.Errorf("%w: end precedes start", ErrInvalidSubmission)
	}
	if d := s.DurationHours; d != nil && (math.IsNaN(*d) || math.IsInf(*d, 0) || *d < 0) {
		return ActivityRecord{}, fmt.Errorf("%w: duration_hours must be a non-negative number", ErrInvalidSubmission)
	}

	rec := ActivityRecord{
		OwnerID:     OwnerID(s.OwnerID),
		Start:       s.Start.UTC(),
		Description: s.Description,
		Source:      src,
		Reference:   s.Reference,
		Category:    s.Category,
	}
	if s.End != nil {
		rec.End = At(s.End.UTC())
	}
	if s.DurationHours != nil {
		rec.Duration = Hours(*s.DurationHours)
	}
	return rec, nil
}
