package profile

import "errors"

// Sentinel errors for profile tracking, merging, and decoding. All errors
// produced by this package wrap one of these; callers test with errors.Is.
var (
	// ErrValueType marks a value of a Go type the profile cannot classify
	// (structs, maps, channels). Track counts it as an error value and
	// keeps going; the caller decides whether to care.
	ErrValueType = errors.New("unsupported value type")

	// ErrSchemaMismatch marks a merge between profiles that do not describe
	// the same column layout: different column names or different sketch
	// configurations for the same column.
	ErrSchemaMismatch = errors.New("profile schema mismatch")

	// ErrTagMismatch marks a merge between dataset profiles carrying
	// different tag sets. Tags partition profiles; merging across
	// partitions is always a caller bug.
	ErrTagMismatch = errors.New("profile tag mismatch")

	// ErrCorruptData marks serialized bytes that do not decode: bad magic,
	// truncation, or internally inconsistent lengths.
	ErrCorruptData = errors.New("corrupt profile data")

	// ErrUnsupportedVersion marks an envelope written by a newer format
	// version than this build understands.
	ErrUnsupportedVersion = errors.New("unsupported profile version")
)
