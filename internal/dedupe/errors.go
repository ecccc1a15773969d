package dedupe

import (
	"fmt"

	"github.com/mhartz/replicaudit/internal/did"
)

// NoLocationError reports a dataset handed to the selector with no known
// locations. It should not occur with well-formed input; when it does, the
// dataset's deletion decision is skipped and the error is surfaced in the
// selection.
type NoLocationError struct {
	DID did.DID
}

func (e *NoLocationError) Error() string {
	return fmt.Sprintf("no known locations for %s", e.DID)
}

// MissingFieldError reports a run data entry missing a field the scan
// needs. The entry is counted and skipped; the scan continues.
type MissingFieldError struct {
	Run   int64
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("run %d: data entry missing %s", e.Run, e.Field)
}

// CapacityUnavailableError reports a storage location missing from the
// capacity directory during ranking. The location is treated as having
// zero remaining bytes - least preferred to keep - and the pass continues.
type CapacityUnavailableError struct {
	RSE string
}

func (e *CapacityUnavailableError) Error() string {
	return fmt.Sprintf("no capacity reading for %s; ranked as zero bytes remaining", e.RSE)
}

// DeletionError reports a failed deletion call for one candidate. The
// batch continues to the next candidate; there is no automatic retry.
type DeletionError struct {
	DID did.DID
	RSE string
	Err error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("delete %s from %s: %v", e.DID, e.RSE, e.Err)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}
