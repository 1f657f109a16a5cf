package classify

import (
	"errors"
	"fmt"
)

// Sentinel errors for the classification engine. Callers match these with
// errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrInsufficientLabels is returned when propagation is requested with
	// fewer than two distinct manually labeled classes.
	ErrInsufficientLabels = errors.New("propagation requires at least two distinct labeled classes")

	// ErrUnknownMethod is returned for a propagation method name outside the
	// supported set.
	ErrUnknownMethod = errors.New("unknown propagation method")

	// ErrFeatureDimension is returned when the feature table is corrupt:
	// non-uniform vector lengths or non-finite values.
	ErrFeatureDimension = errors.New("feature dimension mismatch")

	// ErrSegmentNotFound is returned when an operation references a segment id
	// that is not part of the project's feature table.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrInvalidState is returned when a session transition is attempted from
	// a state that does not permit it.
	ErrInvalidState = errors.New("invalid session state for operation")

	// ErrRunSuperseded is returned by a propagation run that was cancelled by
	// a newer request for the same project.
	ErrRunSuperseded = errors.New("propagation run superseded")
)

// FeatureDimensionError carries enough detail to locate the offending segment.
type FeatureDimensionError struct {
	SegmentID int64
	Expected  int
	Actual    int
	NonFinite bool
}

func (e *FeatureDimensionError) Error() string {
	if e.NonFinite {
		return fmt.Sprintf("feature dimension mismatch: segment %d has non-finite feature values", e.SegmentID)
	}
	return fmt.Sprintf("feature dimension mismatch: segment %d has %d features, expected %d", e.SegmentID, e.Actual, e.Expected)
}

// Unwrap lets errors.Is(err, ErrFeatureDimension) match.
func (e *FeatureDimensionError) Unwrap() error { return ErrFeatureDimension }
