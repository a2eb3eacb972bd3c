package dedupe

import "errors"

// Error kinds returned by the engine. Match them with errors.Is.
var (
	// ErrValidation marks a candidate the engine refuses to evaluate.
	ErrValidation = errors.New("invalid activity record")
	// ErrPersistence marks a store failure; no partial state was committed.
	ErrPersistence = errors.New("activity store failure")
	// ErrInvalidConfig marks an engine configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid dedupe configuration")
)
