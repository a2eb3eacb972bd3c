// Package repository defines the activity record store contract, its errors
// and an in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/recon/internal/domain/model"
)

// Cursor marks a position in the (owner, start, id) scan order.
type Cursor struct {
	OwnerID model.OwnerID
	Start   time.Time
	ID      model.RecordID
}

// CursorOf returns the cursor positioned at rec.
func CursorOf(rec model.ActivityRecord) Cursor {
	return Cursor{OwnerID: rec.OwnerID, Start: rec.Start, ID: rec.ID}
}

// After reports whether rec sorts strictly after the cursor.
func (c Cursor) After(rec model.ActivityRecord) bool {
	if rec.OwnerID != c.OwnerID {
		return rec.OwnerID > c.OwnerID
	}
	if !rec.Start.Equal(c.Start) {
		return rec.Start.After(c.Start)
	}
	return rec.ID > c.ID
}

// Reader is the read side of the store. Only records whose disposition is
// original are returned by the list and scan methods.
type Reader interface {
	// Get returns any record by id. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error)

	// ListOriginals returns the originals of owner whose start lies in
	// [from, to], ordered by id.
	ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error)

	// ScanOriginals pages through every original ordered by owner, start, id.
	// The returned cursor is nil once the scan is exhausted.
	ScanOriginals(ctx context.Context, after *Cursor, limit int) ([]model.ActivityRecord, *Cursor, error)

	// Count returns the number of stored records, duplicates included.
	Count(ctx context.Context) (int, error)
}

// Writer extends Reader with the mutations the engine performs. There is no
// delete.
type Writer interface {
	Reader

	// Insert stores rec, assigning its id and creation time. A record inserted
	// as a duplicate must point at an existing original of the same owner
	// (ErrConflict otherwise).
	Insert(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error)

	// MarkDuplicate flags id as a duplicate of canonical when both are still
	// original. Records that were duplicates of id are re-pointed at canonical
	// so no chain forms. Returns false when the condition does not hold and
	// ErrConflict when the two records belong to different owners.
	MarkDuplicate(ctx context.Context, id, canonical model.RecordID) (bool, error)

	// UpdateMergeable overwrites the mergeable fields (end, duration,
	// description, reference, category) and the fingerprint of rec.ID when it
	// is still original. Returns false when it is not.
	UpdateMergeable(ctx context.Context, rec model.ActivityRecord) (bool, error)
}

// Store provides transactional access to activity records.
type Store interface {
	Reader

	// View runs fn against a read-only snapshot. Nothing fn does is persisted.
	View(ctx context.Context, fn func(Reader) error) error

	// Update runs fn in a write transaction that commits when fn returns nil
	// and rolls back otherwise.
	Update(ctx context.Context, fn func(Writer) error) error

	// Close releases the underlying resources.
	Close() error
}
