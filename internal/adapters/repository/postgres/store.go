// Package postgres implements repository.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/errkind"
	"github.com/okian/recon/pkg/metrics"
)

const driver = "postgres"

const columns = `id, owner_id, started_at, ended_at, duration_hours, description, source, reference, category, fingerprint, created_at, duplicate_of`

// Store provides Postgres-backed persistence for activity records.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New wraps an existing pool. Close closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, wrap("postgres.Open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("postgres.Open", err)
	}
	return New(pool), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Get implements repository.Reader.
func (s *Store) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	defer observe("get", time.Now())
	return reader{q: s.pool}.Get(ctx, id)
}

// ListOriginals implements repository.Reader.
func (s *Store) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	defer observe("list_originals", time.Now())
	return reader{q: s.pool}.ListOriginals(ctx, owner, from, to)
}

// ScanOriginals implements repository.Reader.
func (s *Store) ScanOriginals(ctx context.Context, after *repository.Cursor, limit int) ([]model.ActivityRecord, *repository.Cursor, error) {
	defer observe("scan_originals", time.Now())
	return reader{q: s.pool}.ScanOriginals(ctx, after, limit)
}

// Count implements repository.Reader.
func (s *Store) Count(ctx context.Context) (int, error) {
	return reader{q: s.pool}.Count(ctx)
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(repository.Reader) error) error {
	defer observe("view", time.Now())
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return wrap("postgres.View", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only, nothing to keep

	return fn(reader{q: tx})
}

// Update runs fn inside a read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(repository.Writer) error) error {
	defer observe("update", time.Now())
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrap("postgres.Update", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(writer{reader{q: tx}}); err != nil {
		return err
	}
	return wrap("postgres.Update", tx.Commit(ctx))
}

// querier is the subset shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type reader struct {
	q querier
}

func (r reader) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	row := r.q.QueryRow(ctx, `SELECT `+columns+` FROM activities WHERE id = $1`, int64(id))
	rec, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.ActivityRecord{}, repository.ErrNotFound
	}
	return rec, wrap("postgres.Get", err)
}

func (r reader) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	const query = `SELECT ` + columns + ` FROM activities
        WHERE owner_id = $1 AND duplicate_of IS NULL AND started_at BETWEEN $2 AND $3
        ORDER BY id`

	rows, err := r.q.Query(ctx, query, int64(owner), from, to)
	if err != nil {
		return nil, wrap("postgres.ListOriginals", err)
	}
	out, err := collect(rows)
	return out, wrap("postgres.ListOriginals", err)
}

func (r reader) ScanOriginals(ctx context.Context, after *repository.Cursor, limit int) ([]model.ActivityRecord, *repository.Cursor, error) {
	if limit < 1 {
		return nil, nil, repository.ErrInvalidLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.q.Query(ctx, `SELECT `+columns+` FROM activities
            WHERE duplicate_of IS NULL
            ORDER BY owner_id, started_at, id LIMIT $1`, limit)
	} else {
		rows, err = r.q.Query(ctx, `SELECT `+columns+` FROM activities
            WHERE duplicate_of IS NULL AND (owner_id, started_at, id) > ($1, $2, $3)
            ORDER BY owner_id, started_at, id LIMIT $4`,
			int64(after.OwnerID), after.Start, int64(after.ID), limit)
	}
	if err != nil {
		return nil, nil, wrap("postgres.ScanOriginals", err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, nil, wrap("postgres.ScanOriginals", err)
	}
	if len(out) < limit {
		return out, nil, nil
	}
	next := repository.CursorOf(out[len(out)-1])
	return out, &next, nil
}

func (r reader) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM activities`).Scan(&n); err != nil {
		return 0, wrap("postgres.Count", err)
	}
	return int(n), nil
}

type writer struct {
	reader
}

func (w writer) Insert(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error) {
	var dupOf *int64
	if canonical, ok := rec.Disposition.CanonicalID(); ok {
		var (
			original bool
			owner    int64
		)
		err := w.q.QueryRow(ctx,
			`SELECT duplicate_of IS NULL, owner_id FROM activities WHERE id = $1 FOR UPDATE`, int64(canonical)).Scan(&original, &owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && (!original || owner != int64(rec.OwnerID))) {
			return model.ActivityRecord{}, repository.ErrConflict
		}
		if err != nil {
			return model.ActivityRecord{}, wrap("postgres.Insert", err)
		}
		c := int64(canonical)
		dupOf = &c
	}

	var created *time.Time
	if !rec.CreatedAt.IsZero() {
		created = &rec.CreatedAt
	}

	const stmt = `INSERT INTO activities (owner_id, started_at, ended_at, duration_hours, description, source, reference, category, fingerprint, created_at, duplicate_of)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), $11)
        RETURNING id, created_at`

	var id int64
	err := w.q.QueryRow(ctx, stmt,
		int64(rec.OwnerID),
		rec.Start,
		rec.End,
		rec.Duration,
		rec.Description,
		string(rec.Source),
		rec.Reference,
		rec.Category,
		rec.Fingerprint,
		created,
		dupOf,
	).Scan(&id, &rec.CreatedAt)
	if err != nil {
		return model.ActivityRecord{}, wrap("postgres.Insert", err)
	}
	rec.ID = model.RecordID(id)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (w writer) MarkDuplicate(ctx context.Context, id, canonical model.RecordID) (bool, error) {
	if id == canonical {
		return false, repository.ErrConflict
	}

	// Lock both rows so concurrent marks cannot build a chain.
	rows, err := w.q.Query(ctx,
		`SELECT owner_id FROM activities WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`, int64(id), int64(canonical))
	if err != nil {
		return false, wrap("postgres.MarkDuplicate", err)
	}
	var owners []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			rows.Close()
			return false, wrap("postgres.MarkDuplicate", err)
		}
		owners = append(owners, owner)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, wrap("postgres.MarkDuplicate", err)
	}
	if len(owners) < 2 {
		return false, repository.ErrNotFound
	}
	if owners[0] != owners[1] {
		return false, repository.ErrConflict
	}

	const mark = `UPDATE activities SET duplicate_of = $2
        WHERE id = $1 AND duplicate_of IS NULL
          AND EXISTS (SELECT 1 FROM activities c WHERE c.id = $2 AND c.duplicate_of IS NULL)`

	tag, err := w.q.Exec(ctx, mark, int64(id), int64(canonical))
	if err != nil {
		return false, wrap("postgres.MarkDuplicate", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if _, err := w.q.Exec(ctx, `UPDATE activities SET duplicate_of = $2 WHERE duplicate_of = $1`, int64(id), int64(canonical)); err != nil {
		return false, wrap("postgres.MarkDuplicate", err)
	}
	return true, nil
}

func (w writer) UpdateMergeable(ctx context.Context, rec model.ActivityRecord) (bool, error) {
	const stmt = `UPDATE activities
        SET ended_at = $2, duration_hours = $3, description = $4, reference = $5, category = $6, fingerprint = $7
        WHERE id = $1 AND duplicate_of IS NULL`

	tag, err := w.q.Exec(ctx, stmt,
		int64(rec.ID), rec.End, rec.Duration, rec.Description, rec.Reference, rec.Category, rec.Fingerprint)
	if err != nil {
		return false, wrap("postgres.UpdateMergeable", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := w.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM activities WHERE id = $1)`, int64(rec.ID)).Scan(&exists); err != nil {
		return false, wrap("postgres.UpdateMergeable", err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func scanActivity(row pgx.Row) (model.ActivityRecord, error) {
	var (
		rec    model.ActivityRecord
		id     int64
		owner  int64
		source string
		dupOf  *int64
	)
	err := row.Scan(&id, &owner, &rec.Start, &rec.End, &rec.Duration, &rec.Description,
		&source, &rec.Reference, &rec.Category, &rec.Fingerprint, &rec.CreatedAt, &dupOf)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	rec.ID = model.RecordID(id)
	rec.OwnerID = model.OwnerID(owner)
	rec.Source = model.Source(source)
	rec.Start = rec.Start.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.End != nil {
		end := rec.End.UTC()
		rec.End = &end
	}
	if dupOf != nil {
		rec.Disposition = model.DuplicateOf(model.RecordID(*dupOf))
	}
	return rec, nil
}

func collect(rows pgx.Rows) ([]model.ActivityRecord, error) {
	defer rows.Close()
	var out []model.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
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
