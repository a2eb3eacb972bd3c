package dedupe

import "sync/atomic"

// Stats is a snapshot of the engine counters since construction.
type Stats struct {
	DuplicatesDetected int64 `json:"duplicates_detected"`
	DuplicatesMerged   int64 `json:"duplicates_merged"`
	DuplicatesMarked   int64 `json:"duplicates_marked"`
	UniqueInserted     int64 `json:"unique_inserted"`
}

type counters struct {
	detected atomic.Int64
	merged   atomic.Int64
	marked   atomic.Int64
	unique   atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		DuplicatesDetected: c.detected.Load(),
		DuplicatesMerged:   c.merged.Load(),
		DuplicatesMarked:   c.marked.Load(),
		UniqueInserted:     c.unique.Load(),
	}
}

// Stats returns the current counters. Safe for concurrent use.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}
