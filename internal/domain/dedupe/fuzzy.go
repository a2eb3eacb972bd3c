package dedupe

import (
	"context"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/internal/domain/similarity"
)

// fuzzyMatch scores rec against every original of the same owner starting
// within the tolerance window. The best score at or above the threshold
// wins; ties go to the lowest id.
func (e *Engine) fuzzyMatch(ctx context.Context, r repository.Reader, rec model.ActivityRecord) (model.RecordID, float64, bool, error) {
	window := e.cfg.Window()
	candidates, err := r.ListOriginals(ctx, rec.OwnerID, rec.Start.Add(-window), rec.Start.Add(window))
	if err != nil {
		return 0, 0, false, err
	}

	var (
		bestID    model.RecordID
		bestScore = -1.0
	)
	for _, c := range candidates {
		if rec.ID != 0 && c.ID == rec.ID {
			continue
		}
		if s := e.score(rec, c); s > bestScore {
			bestID, bestScore = c.ID, s
		}
	}
	if bestID == 0 || bestScore < e.cfg.SimilarityThreshold {
		return 0, 0, false, nil
	}
	return bestID, bestScore, true, nil
}

// score is the combined confidence that a and b describe the same event.
func (e *Engine) score(a, b model.ActivityRecord) float64 {
	s := similarity.Scores{
		Temporal: similarity.Temporal(a.Start.Sub(b.Start), e.cfg.Window()),
		Textual:  e.text.score(similarity.NormalizeText(a.Description), similarity.NormalizeText(b.Description)),
	}
	s.Duration, s.HasDuration = similarity.Duration(a.Duration, b.Duration)
	return e.cfg.Weights.Combine(s)
}
