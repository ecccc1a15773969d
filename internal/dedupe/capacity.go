// Package dedupe removes redundant replicas of single-copy-tagged datasets.
//
// A run tagged single-copy is meant to keep its raw data at exactly one
// storage location. When copies exist at several locations, the pass keeps
// the copy at the location with the most remaining capacity and deletes the
// rest, one rule at a time. Every decision is made over point-in-time
// snapshots; a crashed pass is recovered by simply re-running it.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mhartz/replicaudit/internal/registry"
)

// CapacityDirectory maps a storage location to its remaining byte capacity
// as of one query pass. It is rebuilt fresh at the start of each deletion
// run and never persisted.
type CapacityDirectory struct {
	remaining map[string]int64
}

// NewCapacityDirectory creates a directory from known readings.
// Used directly by tests; production passes use BuildCapacityDirectory.
func NewCapacityDirectory(remaining map[string]int64) *CapacityDirectory {
	m := make(map[string]int64, len(remaining))
	for rse, b := range remaining {
		m[rse] = b
	}
	return &CapacityDirectory{remaining: m}
}

// BuildCapacityDirectory queries the registry for the remaining capacity of
// each given storage location.
//
// A location whose query fails is left out of the directory (it will rank
// as zero remaining bytes and be flagged during selection); only total
// failure - every single query failing - aborts the pass, since a
// directory built from nothing would mark every location for deletion
// blind.
func BuildCapacityDirectory(ctx context.Context, client registry.Client, rses []string) (*CapacityDirectory, error) {
	remaining := make(map[string]int64, len(rses))
	failed := 0

	for _, rse := range rses {
		usage, err := client.AccountUsage(ctx, rse)
		if err != nil {
			slog.Warn("capacity query failed", "rse", rse, "error", err)
			failed++
			continue
		}
		remaining[rse] = usage.BytesRemaining
	}

	if len(rses) > 0 && failed == len(rses) {
		return nil, fmt.Errorf("capacity directory could not be built: all %d usage queries failed", failed)
	}

	return &CapacityDirectory{remaining: remaining}, nil
}

// Remaining returns the remaining bytes at a location and whether a
// reading exists for it.
func (d *CapacityDirectory) Remaining(rse string) (int64, bool) {
	b, ok := d.remaining[rse]
	return b, ok
}

// Len returns the number of locations with readings.
func (d *CapacityDirectory) Len() int {
	return len(d.remaining)
}
