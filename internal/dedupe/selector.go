package dedupe

import (
	"log/slog"

	"github.com/mhartz/replicaudit/internal/did"
)

// DatasetLocations is one dataset and the ordered list of storage
// locations currently holding a copy of it. Order is the order the
// locations were encountered during the scan; it is the tie-break for
// equal capacities.
type DatasetLocations struct {
	DID  did.DID
	RSEs []string
}

// Candidate is one (dataset, location) pair marked for deletion. It lives
// only for the duration of one pass and is never persisted.
type Candidate struct {
	DID did.DID
	RSE string
}

// Selection partitions the scanned replicas into keeps and deletes.
type Selection struct {
	// Keep maps each dataset to the one location retaining its copy.
	Keep map[did.DID]string

	// Delete lists every redundant copy, in scan order.
	Delete []Candidate

	// MissingCapacity lists locations that had no capacity reading and
	// were ranked as zero bytes remaining, in first-encountered order.
	MissingCapacity []string

	// Skipped records datasets whose deletion decision could not be made.
	Skipped []error
}

// SelectForDeletion decides, for each dataset, which copy to keep and
// which copies to delete.
//
// The location with the maximum remaining capacity is kept - the site
// under the least storage pressure - and all others are marked for
// deletion. Ties go to the first location encountered in input order; this
// non-determinism across differently-ordered scans is accepted and
// documented rather than specially resolved. Locations are treated as a
// set: the kept location is excluded from deletion by value, and a
// location listed twice produces at most one candidate. A dataset with a
// single location has nothing to delete and is left untouched. A dataset
// with no locations is skipped with a NoLocationError.
//
// Pure over its inputs: the capacity snapshot may be stale by the time a
// deletion executes, which is fine - the executor deletes rules, not
// bytes it has measured.
func SelectForDeletion(datasets []DatasetLocations, capacity *CapacityDirectory) *Selection {
	sel := &Selection{Keep: make(map[did.DID]string)}
	flagged := make(map[string]bool)

	for _, ds := range datasets {
		if len(ds.RSEs) == 0 {
			err := &NoLocationError{DID: ds.DID}
			slog.Error("selector skipping dataset", "did", ds.DID.String(), "error", err)
			sel.Skipped = append(sel.Skipped, err)
			continue
		}

		if len(ds.RSEs) == 1 {
			// Already a single copy; nothing to delete.
			sel.Keep[ds.DID] = ds.RSEs[0]
			continue
		}

		keepIdx := 0
		keepBytes := remainingOrZero(capacity, ds.RSEs[0], flagged, sel)
		for i := 1; i < len(ds.RSEs); i++ {
			b := remainingOrZero(capacity, ds.RSEs[i], flagged, sel)
			// Strictly greater: first max encountered wins ties.
			if b > keepBytes {
				keepIdx, keepBytes = i, b
			}
		}

		// Compare by value, not index: an input that repeats the kept
		// location must never queue it for deletion, and a repeated
		// non-kept location yields exactly one candidate.
		keep := ds.RSEs[keepIdx]
		sel.Keep[ds.DID] = keep
		queued := make(map[string]bool)
		for _, rse := range ds.RSEs {
			if rse == keep || queued[rse] {
				continue
			}
			queued[rse] = true
			sel.Delete = append(sel.Delete, Candidate{DID: ds.DID, RSE: rse})
		}
	}

	return sel
}

// remainingOrZero looks up a location's capacity, flagging it once in the
// selection if no reading exists.
func remainingOrZero(capacity *CapacityDirectory, rse string, flagged map[string]bool, sel *Selection) int64 {
	b, ok := capacity.Remaining(rse)
	if !ok {
		if !flagged[rse] {
			flagged[rse] = true
			sel.MissingCapacity = append(sel.MissingCapacity, rse)
			slog.Warn("capacity unavailable", "rse", rse, "error", &CapacityUnavailableError{RSE: rse})
		}
		return 0
	}
	return b
}
