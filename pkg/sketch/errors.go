package sketch

import "errors"

// Sentinel errors shared by all sketches in this package.
//
// Callers are expected to test with errors.Is; sketches wrap these with
// context (the offending parameters) via fmt.Errorf.
var (
	// ErrEmptySketch is returned by queries that are undefined on an empty
	// sketch, such as quantile or rank lookups before any update.
	ErrEmptySketch = errors.New("sketch is empty")

	// ErrIncompatibleSketch is returned by Merge when the two operands were
	// built with different configuration parameters (quantile k, HLL
	// precision, frequent-items capacity). Sketches never coerce across
	// configurations.
	ErrIncompatibleSketch = errors.New("incompatible sketch configuration")
)
