/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Downstream packages wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - malformed inputs, fail fast before computation
  2. Data-quality conditions - degrade to zero contribution, logged as warnings
  3. Persistence errors - caught per row by the recompute batch, never abort it

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, engine.ErrInvalidRange) {
        // 400, nothing was computed
    }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned when a date range is malformed (zero bound
	// or end before start). Surfaced before any computation starts.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrMissingCostPool marks an absent cost pool for a date. The allocator
	// degrades to zero allocation for that day; this error only appears as a
	// data-quality warning, never as a failure.
	ErrMissingCostPool = errors.New("missing cost pool for date")

	// ErrMissingUnitCost marks an absent product unit cost. Cost of goods is
	// treated as zero for the affected rows.
	ErrMissingUnitCost = errors.New("missing product unit cost")

	// ErrSnapshotWrite is returned when a single snapshot row cannot be
	// persisted. The batch catches it per row and keeps going.
	ErrSnapshotWrite = errors.New("snapshot write failed")

	// ErrAdGroupRequired is returned by operations that need an ad-group key.
	ErrAdGroupRequired = errors.New("ad-group reference is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RowError identifies the (date, ad-group) snapshot row that failed to write.
type RowError struct {
	Date    Day
	AdGroup AdGroupID
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("snapshot row %s/%s: %v", e.Date, e.AdGroup, e.Err)
}

func (e *RowError) Unwrap() error { return ErrSnapshotWrite }

// DataQualityWarning records degraded reference data. Warnings are returned
// alongside results and logged; they never fail a computation.
type DataQualityWarning struct {
	Date Day
	Ref  string
	Err  error
}

func (w DataQualityWarning) String() string {
	return fmt.Sprintf("%s (%s, ref=%s)", w.Err, w.Date, w.Ref)
}

// IsValidation returns true if the error is due to invalid caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrAdGroupRequired)
}
