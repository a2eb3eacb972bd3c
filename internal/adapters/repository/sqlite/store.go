// Package sqlite implements repository.Store on an embedded SQLite database
// through GORM, for single-node deployments.
package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/errkind"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

const driver = "sqlite"

// activityRow is the persisted shape of an activity.
type activityRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID       int64     `gorm:"not null;index:idx_activities_owner_start,priority:1"`
	StartedAt     time.Time `gorm:"not null;index:idx_activities_owner_start,priority:2"`
	EndedAt       *time.Time
	DurationHours *float64
	Description   string `gorm:"not null;default:''"`
	Source        string `gorm:"not null;default:''"`
	Reference     string `gorm:"not null;default:''"`
	Category      string `gorm:"not null;default:''"`
	Fingerprint   string `gorm:"not null;default:''"`
	CreatedAt     time.Time
	DuplicateOf   *int64 `gorm:"index"`
}

func (activityRow) TableName() string { return "activities" }

// Store provides SQLite-backed persistence for activity records.
type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating when missing) the database at path and migrates the
// activities table. SQLite allows one writer, so the pool is capped at a
// single connection.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLog(log)})
	if err != nil {
		return nil, wrap("sqlite.Open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrap("sqlite.Open", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&activityRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, wrap("sqlite.Open", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("sqlite.Close", err)
	}
	return wrap("sqlite.Close", sqlDB.Close())
}

// Get implements repository.Reader.
func (s *Store) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	defer observe("get", time.Now())
	return reader{db: s.db.WithContext(ctx)}.Get(ctx, id)
}

// ListOriginals implements repository.Reader.
func (s *Store) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	defer observe("list_originals", time.Now())
	return reader{db: s.db.WithContext(ctx)}.ListOriginals(ctx, owner, from, to)
}

// ScanOriginals implements repository.Reader.
func (s *Store) ScanOriginals(ctx context.Context, after *repository.Cursor, limit int) ([]model.ActivityRecord, *repository.Cursor, error) {
	defer observe("scan_originals", time.Now())
	return reader{db: s.db.WithContext(ctx)}.ScanOriginals(ctx, after, limit)
}

// Count implements repository.Reader.
func (s *Store) Count(ctx context.Context) (int, error) {
	return reader{db: s.db.WithContext(ctx)}.Count(ctx)
}

// View runs fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(repository.Reader) error) error {
	defer observe("view", time.Now())
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return wrap("sqlite.View", tx.Error)
	}
	defer tx.Rollback()

	return fn(reader{db: tx})
}

// Update runs fn inside a transaction committed when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(repository.Writer) error) error {
	defer observe("update", time.Now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(writer{reader{db: tx}})
	})
}

type reader struct {
	db *gorm.DB
}

func (r reader) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	var row activityRow
	err := r.db.WithContext(ctx).First(&row, int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.ActivityRecord{}, repository.ErrNotFound
	}
	if err != nil {
		return model.ActivityRecord{}, wrap("sqlite.Get", err)
	}
	return row.toModel(), nil
}

func (r reader) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	var rows []activityRow
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND duplicate_of IS NULL AND started_at >= ? AND started_at <= ?",
			int64(owner), from.UTC(), to.UTC()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("sqlite.ListOriginals", err)
	}
	return toModels(rows), nil
}

func (r reader) ScanOriginals(ctx context.Context, after *repository.Cursor, limit int) ([]model.ActivityRecord, *repository.Cursor, error) {
	if limit < 1 {
		return nil, nil, repository.ErrInvalidLimit
	}
	q := r.db.WithContext(ctx).Where("duplicate_of IS NULL")
	if after != nil {
		start := after.Start.UTC()
		q = q.Where("owner_id > ? OR (owner_id = ? AND (started_at > ? OR (started_at = ? AND id > ?)))",
			int64(after.OwnerID), int64(after.OwnerID), start, start, int64(after.ID))
	}
	var rows []activityRow
	if err := q.Order("owner_id ASC, started_at ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, wrap("sqlite.ScanOriginals", err)
	}
	out := toModels(rows)
	if len(out) < limit {
		return out, nil, nil
	}
	next := repository.CursorOf(out[len(out)-1])
	return out, &next, nil
}

func (r reader) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&activityRow{}).Count(&n).Error; err != nil {
		return 0, wrap("sqlite.Count", err)
	}
	return int(n), nil
}

type writer struct {
	reader
}

func (w writer) Insert(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error) {
	row := fromModel(rec)
	row.ID = 0
	if canonical, ok := rec.Disposition.CanonicalID(); ok {
		var target activityRow
		err := w.db.WithContext(ctx).First(&target, int64(canonical)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (target.DuplicateOf != nil || target.OwnerID != row.OwnerID)) {
			return model.ActivityRecord{}, repository.ErrConflict
		}
		if err != nil {
			return model.ActivityRecord{}, wrap("sqlite.Insert", err)
		}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.ActivityRecord{}, wrap("sqlite.Insert", err)
	}
	return row.toModel(), nil
}

func (w writer) MarkDuplicate(ctx context.Context, id, canonical model.RecordID) (bool, error) {
	if id == canonical {
		return false, repository.ErrConflict
	}
	db := w.db.WithContext(ctx)

	var pair []activityRow
	if err := db.Where("id IN ?", []int64{int64(id), int64(canonical)}).Find(&pair).Error; err != nil {
		return false, wrap("sqlite.MarkDuplicate", err)
	}
	if len(pair) < 2 {
		return false, repository.ErrNotFound
	}
	if pair[0].OwnerID != pair[1].OwnerID {
		return false, repository.ErrConflict
	}

	res := db.Model(&activityRow{}).
		Where("id = ? AND duplicate_of IS NULL", int64(id)).
		Where("EXISTS (SELECT 1 FROM activities c WHERE c.id = ? AND c.duplicate_of IS NULL)", int64(canonical)).
		Update("duplicate_of", int64(canonical))
	if res.Error != nil {
		return false, wrap("sqlite.MarkDuplicate", res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	err := db.Model(&activityRow{}).Where("duplicate_of = ?", int64(id)).Update("duplicate_of", int64(canonical)).Error
	if err != nil {
		return false, wrap("sqlite.MarkDuplicate", err)
	}
	return true, nil
}

func (w writer) UpdateMergeable(ctx context.Context, rec model.ActivityRecord) (bool, error) {
	row := fromModel(rec)
	db := w.db.WithContext(ctx)
	res := db.Model(&activityRow{}).
		Where("id = ? AND duplicate_of IS NULL", row.ID).
		Updates(map[string]any{
			"ended_at":       row.EndedAt,
			"duration_hours": row.DurationHours,
			"description":    row.Description,
			"reference":      row.Reference,
			"category":       row.Category,
			"fingerprint":    row.Fingerprint,
		})
	if res.Error != nil {
		return false, wrap("sqlite.UpdateMergeable", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := db.Model(&activityRow{}).Where("id = ?", row.ID).Count(&n).Error; err != nil {
		return false, wrap("sqlite.UpdateMergeable", err)
	}
	if n == 0 {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func fromModel(rec model.ActivityRecord) activityRow {
	rec = rec.Clone()
	row := activityRow{
		ID:            int64(rec.ID),
		OwnerID:       int64(rec.OwnerID),
		StartedAt:     rec.Start.UTC(),
		DurationHours: rec.Duration,
		Description:   rec.Description,
		Source:        string(rec.Source),
		Reference:     rec.Reference,
		Category:      rec.Category,
		Fingerprint:   rec.Fingerprint,
		CreatedAt:     rec.CreatedAt.UTC(),
	}
	if rec.End != nil {
		end := rec.End.UTC()
		row.EndedAt = &end
	}
	if c, ok := rec.Disposition.CanonicalID(); ok {
		v := int64(c)
		row.DuplicateOf = &v
	}
	return row
}

func (row activityRow) toModel() model.ActivityRecord {
	rec := model.ActivityRecord{
		ID:          model.RecordID(row.ID),
		OwnerID:     model.OwnerID(row.OwnerID),
		Start:       row.StartedAt.UTC(),
		Duration:    row.DurationHours,
		Description: row.Description,
		Source:      model.Source(row.Source),
		Reference:   row.Reference,
		Category:    row.Category,
		Fingerprint: row.Fingerprint,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.EndedAt != nil {
		end := row.EndedAt.UTC()
		rec.End = &end
	}
	if row.DuplicateOf != nil {
		rec.Disposition = model.DuplicateOf(model.RecordID(*row.DuplicateOf))
	}
	return rec
}

func toModels(rows []activityRow) []model.ActivityRecord {
	out := make([]model.ActivityRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordStoreError(driver, op)
	return errkind.Wrap(op, err)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreOperation(driver, op, float64(time.Since(start).Microseconds())/1000)
}
