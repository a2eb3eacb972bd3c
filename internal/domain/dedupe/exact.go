package dedupe

import (
	"context"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/fingerprint"
	"github.com/okian/recon/internal/domain/model"
)

// exactMatch returns the lowest-id original sharing fp with rec, or nil. A
// record never matches itself.
//
// Every record with rec's fingerprint starts in the same minute, so only the
// owner's originals of that minute are fingerprinted. The stored fingerprint
// column is not trusted: rows written by other paths or under another
// description prefix carry a stale or empty value.
func (e *Engine) exactMatch(ctx context.Context, r repository.Reader, rec model.ActivityRecord, fp string) (*model.ActivityRecord, error) {
	from := fingerprint.StartMinute(rec.Start)
	peers, err := r.ListOriginals(ctx, rec.OwnerID, from, from.Add(time.Minute-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	var best *model.ActivityRecord
	for i := range peers {
		p := &peers[i]
		if rec.ID != 0 && p.ID == rec.ID {
			continue
		}
		if best != nil && p.ID >= best.ID {
			continue
		}
		if e.fp.Of(*p) == fp {
			best = p
		}
	}
	return best, nil
}
