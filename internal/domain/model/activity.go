// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// RecordID identifies a persisted activity. Zero means "not yet stored".
type RecordID int64

// OwnerID identifies the person or asset an activity is attributed to.
// Zero means "unknown" and is rejected by the engine.
type OwnerID int64

// Source tags where a record came from.
type Source string

// Known record sources.
const (
	SourceManual        Source = "manual"
	SourceCSV           Source = "csv"
	SourceRemoteSession Source = "remote_session"
	SourceCalendar      Source = "calendar"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceCSV, SourceRemoteSession, SourceCalendar:
		return true
	}
	return false
}

// Disposition is either Original or DuplicateOf(canonical). The zero value is
// Original. A duplicate never points at another duplicate; writers check the
// canonical's disposition before recording one.
type Disposition struct {
	of RecordID
}

// Original returns the disposition of a canonical, non-duplicate record.
func Original() Disposition { return Disposition{} }

// DuplicateOf returns the disposition of a record flagged as a duplicate of id.
func DuplicateOf(id RecordID) Disposition { return Disposition{of: id} }

// IsDuplicate reports whether the record is flagged as a duplicate.
func (d Disposition) IsDuplicate() bool { return d.of != 0 }

// CanonicalID returns the back-reference when the record is a duplicate.
func (d Disposition) CanonicalID() (RecordID, bool) {
	return d.of, d.of != 0
}

// ActivityRecord is a unit of work or time attributed to one owner.
type ActivityRecord struct {
	ID          RecordID
	OwnerID     OwnerID
	Start       time.Time
	End         *time.Time
	Duration    *float64 // hours
	Description string
	Source      Source
	Reference   string // external ticket or session reference
	Category    string
	Fingerprint string
	CreatedAt   time.Time
	Disposition Disposition
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (r ActivityRecord) Clone() ActivityRecord {
	out := r
	if r.End != nil {
		end := *r.End
		out.End = &end
	}
	if r.Duration != nil {
		d := *r.Duration
		out.Duration = &d
	}
	return out
}

// HasDescription reports whether the description carries any text.
func (r ActivityRecord) HasDescription() bool {
	return strings.TrimSpace(r.Description) != ""
}

// Hours is a helper for building records with a duration.
func Hours(h float64) *float64 { return &h }

// At is a helper for building records with an end timestamp.
func At(t time.Time) *time.Time { return &t }
