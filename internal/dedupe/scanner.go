package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mhartz/replicaudit/internal/did"
	"github.com/mhartz/replicaudit/internal/policy"
	"github.com/mhartz/replicaudit/internal/rundb"
)

// SingleCopyTag marks a run whose raw data is intentionally held at only
// one location and is a candidate for deduplication once redundant copies
// appear elsewhere.
const SingleCopyTag = "_single_copy"

// ScanOptions controls a single-copy scan.
type ScanOptions struct {
	// AllTypes lifts the raw-data-type restriction and considers every
	// data type for deduplication.
	AllTypes bool
}

// ScanStats counts what the scan saw and what it skipped. Per-entry
// problems never abort the scan; they are counted here instead so failures
// stay observable.
type ScanStats struct {
	RunsScanned    int
	PairsFound     int
	MalformedDIDs  int
	MissingFields  int
	FilteredType   int
	ExcludedRSEs   int
	DuplicatePairs int
}

// Scanner finds the (dataset, location) pairs of single-copy-tagged runs.
type Scanner struct {
	store  *rundb.Store
	policy *policy.Policy
}

// NewScanner creates a scanner over the given run store and site policy.
func NewScanner(store *rundb.Store, pol *policy.Policy) *Scanner {
	return &Scanner{store: store, policy: pol}
}

// FindTagged walks every single-copy-tagged run and collects, per dataset,
// the ordered list of storage locations holding a copy.
//
// Data entries with an unparseable DID or no location are counted and
// skipped, never fatal - the run database accumulates junk entries and a
// scan must survive them. Duplicate (dataset, location) entries are
// collapsed to one: the locations handed to the selector form a set, and a
// repeated location must never be mistaken for a second copy. Unless
// opts.AllTypes is set, only raw data types are collected, and excluded
// locations are always skipped.
func (s *Scanner) FindTagged(ctx context.Context, opts ScanOptions) ([]DatasetLocations, *ScanStats, error) {
	numbers, err := s.store.TaggedRuns(ctx, SingleCopyTag)
	if err != nil {
		return nil, nil, fmt.Errorf("list tagged runs: %w", err)
	}

	stats := &ScanStats{}
	var order []did.DID
	byDID := make(map[did.DID][]string)
	seenPair := make(map[did.DID]map[string]bool)

	for _, number := range numbers {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec, err := s.store.GetRunRecord(ctx, number)
		if err != nil {
			return nil, nil, fmt.Errorf("load run %d: %w", number, err)
		}
		stats.RunsScanned++

		for _, datum := range rec.Data {
			if datum.DID == "" || datum.Location == "" {
				stats.MissingFields++
				field := "did"
				if datum.DID != "" {
					field = "location"
				}
				slog.Debug("skipping datum", "error", &MissingFieldError{Run: number, Field: field})
				continue
			}

			d, err := did.Parse(datum.DID)
			if err != nil {
				stats.MalformedDIDs++
				slog.Warn("skipping malformed DID", "run", number, "did", datum.DID, "error", err)
				continue
			}

			if !opts.AllTypes && !s.policy.IsRawType(d.DataType) {
				stats.FilteredType++
				continue
			}
			if s.policy.IsExcluded(datum.Location) {
				stats.ExcludedRSEs++
				continue
			}

			if seenPair[d][datum.Location] {
				stats.DuplicatePairs++
				continue
			}
			if seenPair[d] == nil {
				seenPair[d] = make(map[string]bool)
			}
			seenPair[d][datum.Location] = true

			if _, seen := byDID[d]; !seen {
				order = append(order, d)
			}
			byDID[d] = append(byDID[d], datum.Location)
			stats.PairsFound++
		}
	}

	datasets := make([]DatasetLocations, 0, len(order))
	for _, d := range order {
		datasets = append(datasets, DatasetLocations{DID: d, RSEs: byDID[d]})
	}
	return datasets, stats, nil
}

// RSESet returns the distinct storage locations across all datasets, in
// first-encountered order. This is the set the capacity directory is built
// for.
func RSESet(datasets []DatasetLocations) []string {
	seen := make(map[string]bool)
	var rses []string
	for _, ds := range datasets {
		for _, rse := range ds.RSEs {
			if !seen[rse] {
				seen[rse] = true
				rses = append(rses, rse)
			}
		}
	}
	return rses
}
