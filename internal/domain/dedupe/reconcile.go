package dedupe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/errkind"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

// Cluster kinds reported by Analyze.
const (
	KindExact = "exact"
	KindFuzzy = "fuzzy"
	KindMixed = "mixed"
)

// ClusterSummary describes one duplicate cluster found by Analyze.
type ClusterSummary struct {
	model.Cluster
	Start       time.Time `json:"start"`
	Duration    *float64  `json:"duration,omitempty"`
	MemberCount int       `json:"member_count"`
	Kind        string    `json:"kind"`
}

// Analysis is the read-only report produced by Analyze.
type Analysis struct {
	TotalActivities     int              `json:"total_activities"`
	ExactDuplicates     int              `json:"exact_duplicates"`
	FuzzyDuplicates     int              `json:"fuzzy_duplicates"`
	PotentialDuplicates int              `json:"potential_duplicates"`
	Clusters            []ClusterSummary `json:"duplicate_clusters"`
}

// CleanupResult reports one Cleanup run. In a dry run the counts describe
// what an apply run would do; nothing was written.
//
// RejectsMarked is the part of MarkedAsDuplicates that ingestion would have
// rejected because soft deduplication is off. Cleanup never deletes, so
// those members are marked instead.
type CleanupResult struct {
	RunID              string `json:"run_id"`
	DryRun             bool   `json:"dry_run"`
	Analyzed           int    `json:"analyzed"`
	MarkedAsDuplicates int    `json:"marked_as_duplicates"`
	RejectsMarked      int    `json:"rejects_marked"`
	Merged             int    `json:"merged"`
	Skipped            int    `json:"skipped"`
	Errors             int    `json:"errors"`
	Remaining          int    `json:"remaining"`
}

// CleanupOption tunes a single Cleanup call.
type CleanupOption func(*cleanupSettings)

type cleanupSettings struct {
	limit int
}

// WithClusterLimit caps the number of clusters resolved by one call. The
// rest are reported as Remaining and picked up by the next run.
func WithClusterLimit(n int) CleanupOption {
	return func(s *cleanupSettings) {
		if n > 0 {
			s.limit = n
		}
	}
}

// member is one record of a discovered cluster other than its canonical.
type member struct {
	rec        model.ActivityRecord
	kind       model.MatchType
	confidence float64
}

// cluster is a canonical original plus the originals judged to duplicate it.
type cluster struct {
	canonical model.ActivityRecord
	members   []member
}

// Analyze reports the duplicate clusters currently in the store without
// changing it.
func (e *Engine) Analyze(ctx context.Context) (Analysis, error) {
	const op = "dedupe.Analyze"
	var (
		out      Analysis
		clusters []cluster
	)
	err := e.store.View(ctx, func(r repository.Reader) error {
		total, err := r.Count(ctx)
		if err != nil {
			return err
		}
		out.TotalActivities = total
		clusters, err = e.discover(ctx, r)
		return err
	})
	if err != nil {
		return Analysis{}, errkind.WrapKind(op, ErrPersistence, err)
	}

	out.Clusters = make([]ClusterSummary, 0, len(clusters))
	for _, c := range clusters {
		s := c.summary()
		for _, m := range c.members {
			if m.kind == model.MatchExact {
				out.ExactDuplicates++
			} else {
				out.FuzzyDuplicates++
			}
		}
		out.Clusters = append(out.Clusters, s)
	}
	out.PotentialDuplicates = out.ExactDuplicates + out.FuzzyDuplicates
	sort.SliceStable(out.Clusters, func(i, j int) bool {
		a, b := out.Clusters[i], out.Clusters[j]
		if a.MemberCount != b.MemberCount {
			return a.MemberCount > b.MemberCount
		}
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.CanonicalID < b.CanonicalID
	})
	metrics.RecordClustersAnalyzed(len(clusters))
	e.text.sweep()
	return out, nil
}

// Cleanup resolves the duplicate clusters in the store. Clusters are taken
// in owner then canonical start order and each one is applied in its own
// transaction, or planned in a read-only view when dryRun is set. A failing
// cluster is counted in Errors and the run carries on. Cancellation is
// checked between pages of clusters; the counts so far are returned with
// the context error.
//
// Members are marked or merged following the ingestion policy, except that
// with soft deduplication disabled a member that ingestion would reject is
// marked: the row already exists and Cleanup never deletes. Such members
// are counted in RejectsMarked.
func (e *Engine) Cleanup(ctx context.Context, dryRun bool, opts ...CleanupOption) (CleanupResult, error) {
	const op = "dedupe.Cleanup"
	settings := cleanupSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}
	res := CleanupResult{RunID: uuid.NewString(), DryRun: dryRun}
	log := e.log.With(logger.String("run_id", res.RunID), logger.String("mode", mode))
	begin := time.Now()
	metrics.RecordCleanupRun(mode)
	defer func() {
		metrics.RecordCleanupDuration(mode, float64(time.Since(begin).Milliseconds()))
		e.text.sweep()
	}()

	var clusters []cluster
	err := e.store.View(ctx, func(r repository.Reader) error {
		var err error
		clusters, err = e.discover(ctx, r)
		return err
	})
	if err != nil {
		metrics.RecordCleanupError()
		log.Error(ctx, "cluster discovery failed", logger.Error(err))
		return CleanupResult{RunID: res.RunID, DryRun: dryRun}, errkind.WrapKind(op, ErrPersistence, err)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i].canonical, clusters[j].canonical
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	if settings.limit > 0 && len(clusters) > settings.limit {
		res.Remaining = len(clusters) - settings.limit
		clusters = clusters[:settings.limit]
	}
	metrics.RecordClustersAnalyzed(len(clusters))
	log.Info(ctx, "cleanup started", logger.Int("clusters", len(clusters)))

	for i, c := range clusters {
		if i%e.cfg.PageSize == 0 {
			if err := ctx.Err(); err != nil {
				res.Remaining += len(clusters) - i
				log.Warn(ctx, "cleanup interrupted", logger.Int("resolved", i), logger.Error(err))
				return res, errkind.Wrap(op, err)
			}
		}
		res.Analyzed++

		out, err := e.resolveSafely(ctx, c, dryRun)
		if err != nil {
			res.Errors++
			metrics.RecordCleanupError()
			log.Error(ctx, "cluster failed",
				logger.Int64("canonical_id", int64(c.canonical.ID)),
				logger.Int64("owner_id", int64(c.canonical.OwnerID)),
				logger.Error(err),
			)
			continue
		}
		res.MarkedAsDuplicates += out.marked
		res.RejectsMarked += out.rejectsMarked
		res.Merged += out.merged
		res.Skipped += out.skipped

		if !dryRun {
			e.stats.marked.Add(int64(out.marked))
			e.stats.merged.Add(int64(out.merged))
			e.stats.detected.Add(int64(out.marked + out.merged))
			for n := 0; n < out.marked; n++ {
				metrics.RecordRecordMarked()
			}
			for n := 0; n < out.merged; n++ {
				metrics.RecordRecordMerged()
			}
		}
	}

	log.Info(ctx, "cleanup finished",
		logger.Int("analyzed", res.Analyzed),
		logger.Int("marked", res.MarkedAsDuplicates),
		logger.Int("rejects_marked", res.RejectsMarked),
		logger.Int("merged", res.Merged),
		logger.Int("skipped", res.Skipped),
		logger.Int("errors", res.Errors),
		logger.Duration("elapsed", time.Since(begin)),
	)
	return res, nil
}

type outcome struct {
	marked, rejectsMarked, merged, skipped int
}

// resolveSafely resolves one cluster in its own transaction and turns a
// panic into an error.
func (e *Engine) resolveSafely(ctx context.Context, c cluster, dryRun bool) (out outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = outcome{}
			err = fmt.Errorf("cluster %d: panic: %v", c.canonical.ID, p)
		}
	}()

	if dryRun {
		err = e.store.View(ctx, func(r repository.Reader) error {
			var err error
			out, err = e.resolve(ctx, r, nil, c)
			return err
		})
	} else {
		err = e.store.Update(ctx, func(w repository.Writer) error {
			var err error
			out, err = e.resolve(ctx, w, w, c)
			return err
		})
	}
	if err != nil {
		return outcome{}, err
	}
	return out, nil
}

// resolve applies the decision policy to every member of c. With a nil
// writer it only plans. Members and canonical are re-read first; a member
// that is no longer original is skipped.
func (e *Engine) resolve(ctx context.Context, r repository.Reader, w repository.Writer, c cluster) (outcome, error) {
	var out outcome
	canonical, err := r.Get(ctx, c.canonical.ID)
	if err != nil {
		return out, err
	}
	if canonical.Disposition.IsDuplicate() {
		out.skipped = len(c.members)
		return out, nil
	}

	merged := canonical.Clone()
	dirty := false
	for _, m := range c.members {
		cur, err := r.Get(ctx, m.rec.ID)
		if err != nil {
			return outcome{}, err
		}
		if cur.Disposition.IsDuplicate() {
			out.skipped++
			continue
		}
		if cur.OwnerID != canonical.OwnerID {
			return outcome{}, fmt.Errorf("member %d belongs to owner %d, canonical %d to owner %d: %w",
				cur.ID, cur.OwnerID, canonical.ID, canonical.OwnerID, repository.ErrConflict)
		}

		action, downgraded := e.cleanupAction(m.kind)
		if action == model.ActionMerge && mergeInto(&merged, cur) {
			dirty = true
		}
		if w != nil {
			ok, err := w.MarkDuplicate(ctx, cur.ID, canonical.ID)
			if err != nil {
				return outcome{}, err
			}
			if !ok {
				out.skipped++
				continue
			}
		}
		switch {
		case action == model.ActionMerge:
			out.merged++
		case downgraded:
			out.marked++
			out.rejectsMarked++
		default:
			out.marked++
		}
	}

	if dirty && w != nil {
		merged.Fingerprint = e.fp.Of(merged)
		ok, err := w.UpdateMergeable(ctx, merged)
		if err != nil {
			return outcome{}, err
		}
		if !ok {
			return outcome{}, fmt.Errorf("canonical %d changed during merge: %w", canonical.ID, repository.ErrConflict)
		}
	}
	return out, nil
}

// discover streams every original and groups them into clusters, one owner
// at a time.
func (e *Engine) discover(ctx context.Context, r repository.Reader) ([]cluster, error) {
	var (
		out     []cluster
		owner   []model.ActivityRecord
		current model.OwnerID
		cursor  *repository.Cursor
	)
	flush := func() {
		if len(owner) > 1 {
			out = append(out, e.clusterOwner(owner)...)
		}
		owner = owner[:0]
	}
	for {
		page, next, err := r.ScanOriginals(ctx, cursor, e.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			if rec.OwnerID != current {
				flush()
				current = rec.OwnerID
			}
			owner = append(owner, rec)
		}
		if next == nil {
			break
		}
		cursor = next
	}
	flush()
	return out, nil
}

// clusterOwner clusters the originals of one owner, given in start then id
// order. Records sharing a fingerprint form an exact group represented by
// its lowest id. Representatives are taken in id order; each unassigned one
// anchors a cluster and absorbs the unassigned representatives within the
// tolerance window that score at or above the threshold against it, along
// with their groups. The anchor is the canonical, so the canonical is
// always the lowest id of its cluster.
func (e *Engine) clusterOwner(recs []model.ActivityRecord) []cluster {
	fps := make([]string, len(recs))
	groups := make(map[string][]int)
	var byStart []int
	for i, rec := range recs {
		fps[i] = e.fp.Of(rec)
		if _, ok := groups[fps[i]]; !ok {
			byStart = append(byStart, i)
		}
		groups[fps[i]] = append(groups[fps[i]], i)
	}
	for _, g := range groups {
		sort.Slice(g, func(a, b int) bool { return recs[g[a]].ID < recs[g[b]].ID })
	}
	// byStart holds the first record of each group in scan order; switch to
	// the group's lowest id.
	for k, i := range byStart {
		byStart[k] = groups[fps[i]][0]
	}
	sort.SliceStable(byStart, func(a, b int) bool {
		ra, rb := recs[byStart[a]], recs[byStart[b]]
		if !ra.Start.Equal(rb.Start) {
			return ra.Start.Before(rb.Start)
		}
		return ra.ID < rb.ID
	})
	byID := append([]int(nil), byStart...)
	sort.Slice(byID, func(a, b int) bool { return recs[byID[a]].ID < recs[byID[b]].ID })

	window := e.cfg.Window()
	assigned := make(map[int]bool, len(byStart))
	var out []cluster
	for _, a := range byID {
		if assigned[a] {
			continue
		}
		assigned[a] = true
		anchor := recs[a]

		var members []member
		for _, g := range groups[fps[a]][1:] {
			members = append(members, member{rec: recs[g], kind: model.MatchExact, confidence: 1})
		}

		lo := sort.Search(len(byStart), func(k int) bool {
			return !recs[byStart[k]].Start.Before(anchor.Start.Add(-window))
		})
		for k := lo; k < len(byStart); k++ {
			c := byStart[k]
			if recs[c].Start.After(anchor.Start.Add(window)) {
				break
			}
			if assigned[c] {
				continue
			}
			conf := e.score(anchor, recs[c])
			if conf < e.cfg.SimilarityThreshold {
				continue
			}
			assigned[c] = true
			for _, g := range groups[fps[c]] {
				s := conf
				if g != c {
					s = e.score(anchor, recs[g])
				}
				members = append(members, member{rec: recs[g], kind: model.MatchFuzzy, confidence: s})
			}
		}

		if len(members) == 0 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].rec.ID < members[j].rec.ID })
		out = append(out, cluster{canonical: anchor, members: members})
	}
	return out
}

func (c cluster) summary() ClusterSummary {
	s := ClusterSummary{
		Cluster: model.Cluster{
			OwnerID:     c.canonical.OwnerID,
			CanonicalID: c.canonical.ID,
			Members:     make([]model.ClusterMember, 0, len(c.members)+1),
		},
		Start:       c.canonical.Start,
		Duration:    c.canonical.Duration,
		MemberCount: len(c.members) + 1,
	}
	s.Members = append(s.Members, model.ClusterMember{ID: c.canonical.ID, Type: model.MatchExact, Confidence: 1})

	exact, fuzzy := 0, 0
	minConf, sum := 1.0, 0.0
	for _, m := range c.members {
		s.Members = append(s.Members, model.ClusterMember{ID: m.rec.ID, Type: m.kind, Confidence: m.confidence})
		if m.kind == model.MatchExact {
			exact++
		} else {
			fuzzy++
		}
		if m.confidence < minConf {
			minConf = m.confidence
		}
		sum += m.confidence
	}
	s.MinConfidence = minConf
	if len(c.members) > 0 {
		s.AvgConfidence = sum / float64(len(c.members))
	}
	switch {
	case fuzzy == 0:
		s.Kind = KindExact
	case exact == 0:
		s.Kind = KindFuzzy
	default:
		s.Kind = KindMixed
	}
	return s
}
