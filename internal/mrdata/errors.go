package mrdata

import (
	"errors"
	"fmt"
)

// Fatal parse errors. A file that trips one of these never produces a
// usable Dataset (or, for ErrGeometryMismatch, loses only that Dataset).
var (
	// ErrFormat indicates an unrecognized archive or binary signature.
	ErrFormat = errors.New("unrecognized input format")
	// ErrUnsupportedVersion indicates raw-header magic bytes for which no
	// decoder is registered.
	ErrUnsupportedVersion = errors.New("unsupported raw header version")
	// ErrHeaderMissing indicates that no parseable header element was found.
	ErrHeaderMissing = errors.New("no parseable header found")
	// ErrGeometryMismatch indicates a violated slice/timepoint/total-count
	// invariant.
	ErrGeometryMismatch = errors.New("slice geometry mismatch")
)

// ReconError records a failed reconstruction strategy. It is recoverable:
// the Dataset keeps its metadata, voxel data stays absent and the error is
// stored as Dataset.FailureReason instead of being propagated.
type ReconError struct {
	Strategy string
	Err      error
}

func (e *ReconError) Error() string {
	return fmt.Sprintf("%s reconstruction failed: %v", e.Strategy, e.Err)
}

func (e *ReconError) Unwrap() error { return e.Err }
