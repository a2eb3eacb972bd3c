// Package dedupe decides whether an activity record duplicates one already
// stored, and reconciles duplicate clusters that reached the store through
// other paths.
//
// Nothing is ever deleted. A duplicate is kept as a row pointing at its
// canonical record; with intelligent merge enabled the canonical first
// adopts the fields it is missing.
package dedupe

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/fingerprint"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/errkind"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

// Engine evaluates candidates and reconciles stored duplicates. It is safe
// for concurrent use; its only mutable state is the stats counters and the
// comparison cache.
type Engine struct {
	store repository.Store
	cfg   Config
	fp    fingerprint.Generator
	text  *textCache
	log   logger.Logger
	stats counters
}

// New builds an Engine over store. The configuration is validated once and
// cannot change afterwards.
func New(store repository.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errkind.WrapKind("dedupe.New", ErrInvalidConfig, errors.New("store is required"))
	}
	e := &Engine{
		store: store,
		cfg:   DefaultConfig(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.fp = fingerprint.New(e.cfg.DescriptionPrefix)
	e.text = newTextCache(e.cfg.CacheTTL)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Fingerprint returns the exact-match key the engine uses for rec.
func (e *Engine) Fingerprint(rec model.ActivityRecord) string {
	return e.fp.Of(rec)
}

// Evaluate classifies rec against the store without changing it.
func (e *Engine) Evaluate(ctx context.Context, rec model.ActivityRecord) (model.Verdict, error) {
	const op = "dedupe.Evaluate"
	if err := validate(rec); err != nil {
		return model.Verdict{}, errkind.WrapKind(op, ErrValidation, err)
	}

	begin := time.Now()
	var v model.Verdict
	err := e.store.View(ctx, func(r repository.Reader) error {
		var err error
		v, err = e.classify(ctx, r, rec, e.fp.Of(rec))
		return err
	})
	if err != nil {
		return model.Verdict{}, errkind.WrapKind(op, ErrPersistence, err)
	}

	if v.IsDuplicate {
		e.stats.detected.Add(1)
	}
	e.observe(begin, v)
	return v, nil
}

// Ingest evaluates rec and applies the verdict in one transaction:
//
//	insert -> rec is stored as an original
//	mark   -> rec is stored as a duplicate of the match
//	merge  -> the match adopts rec's missing fields, then rec is stored as
//	          its duplicate
//	reject -> nothing is written
//
// The stored record is returned; it is the zero value on reject.
func (e *Engine) Ingest(ctx context.Context, rec model.ActivityRecord) (model.Verdict, model.ActivityRecord, error) {
	const op = "dedupe.Ingest"
	if err := validate(rec); err != nil {
		return model.Verdict{}, model.ActivityRecord{}, errkind.WrapKind(op, ErrValidation, err)
	}

	begin := time.Now()
	var (
		v      model.Verdict
		stored model.ActivityRecord
	)
	err := e.store.Update(ctx, func(w repository.Writer) error {
		cand := rec.Clone()
		cand.ID = 0
		cand.Disposition = model.Original()
		cand.Fingerprint = e.fp.Of(cand)

		var err error
		v, err = e.classify(ctx, w, cand, cand.Fingerprint)
		if err != nil {
			return err
		}
		stored, err = e.apply(ctx, w, v, cand)
		return err
	})
	if err != nil {
		return model.Verdict{}, model.ActivityRecord{}, errkind.WrapKind(op, ErrPersistence, err)
	}

	switch v.Action {
	case model.ActionInsert:
		e.stats.unique.Add(1)
		metrics.RecordRecordInserted()
	case model.ActionMark:
		e.stats.marked.Add(1)
		metrics.RecordRecordMarked()
	case model.ActionMerge:
		e.stats.merged.Add(1)
		metrics.RecordRecordMerged()
	}
	if v.IsDuplicate {
		e.stats.detected.Add(1)
	}
	e.observe(begin, v)
	return v, stored, nil
}

// classify runs the exact detector and, when it finds nothing, the fuzzy
// matcher.
func (e *Engine) classify(ctx context.Context, r repository.Reader, rec model.ActivityRecord, fp string) (model.Verdict, error) {
	match, err := e.exactMatch(ctx, r, rec, fp)
	if err != nil {
		return model.Verdict{}, err
	}
	if match != nil {
		return e.exactVerdict(match.ID), nil
	}

	id, score, ok, err := e.fuzzyMatch(ctx, r, rec)
	if err != nil {
		return model.Verdict{}, err
	}
	if ok {
		return e.fuzzyVerdict(id, score), nil
	}
	return e.uniqueVerdict(), nil
}

func (e *Engine) apply(ctx context.Context, w repository.Writer, v model.Verdict, cand model.ActivityRecord) (model.ActivityRecord, error) {
	switch v.Action {
	case model.ActionInsert:
		return w.Insert(ctx, cand)
	case model.ActionMark:
		cand.Disposition = model.DuplicateOf(v.MatchedID)
		return w.Insert(ctx, cand)
	case model.ActionMerge:
		canonical, err := w.Get(ctx, v.MatchedID)
		if err != nil {
			return model.ActivityRecord{}, err
		}
		if mergeInto(&canonical, cand) {
			canonical.Fingerprint = e.fp.Of(canonical)
			ok, err := w.UpdateMergeable(ctx, canonical)
			if err != nil {
				return model.ActivityRecord{}, err
			}
			if !ok {
				return model.ActivityRecord{}, repository.ErrConflict
			}
		}
		cand.Disposition = model.DuplicateOf(v.MatchedID)
		return w.Insert(ctx, cand)
	}
	return model.ActivityRecord{}, nil
}

func (e *Engine) observe(begin time.Time, v model.Verdict) {
	metrics.RecordVerdict(string(v.Classification), string(v.Action))
	metrics.RecordEvaluationLatency(float64(time.Since(begin).Microseconds()) / 1000)
	e.log.Debug(context.Background(), "activity evaluated",
		logger.String("classification", string(v.Classification)),
		logger.String("action", string(v.Action)),
		logger.Int64("matched_id", int64(v.MatchedID)),
		logger.Float64("confidence", v.Confidence),
	)
}

func validate(rec model.ActivityRecord) error {
	switch {
	case rec.OwnerID == 0:
		return errors.New("owner id is required")
	case rec.Start.IsZero():
		return errors.New("start time is required")
	case rec.Duration != nil && (math.IsNaN(*rec.Duration) || math.IsInf(*rec.Duration, 0)):
		return errors.New("duration is not a finite number")
	}
	return nil
}
