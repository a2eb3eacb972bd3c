package dedupe

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/okian/recon/internal/domain/similarity"
	"github.com/okian/recon/pkg/metrics"
)

// maxCachedPairs triggers an expiry sweep once exceeded. The cache runs no
// janitor goroutine of its own.
const maxCachedPairs = 100000

// textCache memoises text similarity of normalised description pairs.
type textCache struct {
	c *gocache.Cache
}

func newTextCache(ttl time.Duration) *textCache {
	if ttl <= 0 {
		return &textCache{}
	}
	return &textCache{c: gocache.New(ttl, 0)}
}

// score returns the text similarity of a and b, already normalised.
func (tc *textCache) score(a, b string) float64 {
	if a == b || a == "" || b == "" || tc.c == nil {
		return similarity.NormalizedText(a, b)
	}
	if b < a {
		a, b = b, a
	}
	key := a + "\x1f" + b
	if v, ok := tc.c.Get(key); ok {
		metrics.RecordComparisonCache(true)
		return v.(float64)
	}
	metrics.RecordComparisonCache(false)
	s := similarity.NormalizedText(a, b)
	if tc.c.ItemCount() >= maxCachedPairs {
		tc.c.DeleteExpired()
	}
	tc.c.SetDefault(key, s)
	return s
}

// sweep drops expired entries.
func (tc *textCache) sweep() {
	if tc.c != nil {
		tc.c.DeleteExpired()
	}
}
