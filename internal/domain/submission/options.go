package submission

// Option configures a memory tracker.
type Option func(*memoryTracker)

// WithMaxSize sets how many ids are remembered. Values <= 0 mean unbounded.
func WithMaxSize(maxSize int) Option {
	return func(t *memoryTracker) {
		t.maxSize = maxSize
	}
}
