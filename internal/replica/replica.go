// Package replica merges the three independent observations about one
// dataset at one storage location into a single immutable record.
//
// The run database, the replica registry, and the processing-host disk are
// eventually consistent with each other. Nothing here talks to any of them:
// callers fetch observations through the collaborator clients and hand the
// snapshots to Aggregate. Absence of an observation is itself signal - a
// location the database has never heard of yields a zero-valued database
// observation, not an error - and the classifier consumes that signal.
package replica

import "github.com/mhartz/replicaudit/internal/did"

// UnknownFileCount marks a file count the run database could not provide.
const UnknownFileCount = -1

// DBObservation is what the run database reports about a dataset at a
// location: how many active data entries point there, their status, and
// the authoritative file count if known.
type DBObservation struct {
	EntryCount        int
	Status            string
	ExpectedFileCount int
}

// RegistryObservation is what the replica registry reports: whether a
// replication rule exists at the location and how many physical file
// replicas it counts there.
type RegistryObservation struct {
	RuleExists bool
	FileCount  int
}

// DiskObservation is what the processing-host disk inventory reports.
type DiskObservation struct {
	FileCount int
}

// Record is the merged point-in-time view of one dataset at one storage
// location. Fields are observations, never inferred from one another:
// RegistryFileCount and DBEntryCount disagreeing is exactly what the
// classifier exists to detect.
type Record struct {
	DID      did.DID
	Location string

	// Run database view.
	DBEntryCount      int
	DBStatus          string
	ExpectedFileCount int // UnknownFileCount if the database has no count

	// Replica registry view.
	RegistryRuleExists bool
	RegistryFileCount  int

	// Processing-host disk view.
	DiskFileCount int
}

// Context carries the dataset-level facts the classifier needs beyond the
// per-location record.
type Context struct {
	// EventBuilderStatus is the status of the processing-host copy.
	EventBuilderStatus string

	// RuleLocationCount is the number of storage locations holding a
	// replication rule for the DID, the upload target included.
	RuleLocationCount int

	// UploadTargetLocation is the one location treated specially: the
	// processing site's upload target.
	UploadTargetLocation string
}

// Aggregate merges the three observations into a Record.
//
// Any observation may be nil, meaning the source had no entry for this
// dataset at this location. A nil database observation yields zero entries,
// empty status, and an unknown expected file count; a nil registry
// observation yields no rule and zero replicas; a nil disk observation
// yields zero files on disk. No error is possible: partial visibility is a
// state to classify, not a failure to report.
func Aggregate(d did.DID, location string, db *DBObservation, reg *RegistryObservation, disk *DiskObservation) Record {
	rec := Record{
		DID:               d,
		Location:          location,
		ExpectedFileCount: UnknownFileCount,
	}

	if db != nil {
		rec.DBEntryCount = db.EntryCount
		rec.DBStatus = db.Status
		rec.ExpectedFileCount = db.ExpectedFileCount
	}
	if reg != nil {
		rec.RegistryRuleExists = reg.RuleExists
		rec.RegistryFileCount = reg.FileCount
	}
	if disk != nil {
		rec.DiskFileCount = disk.FileCount
	}

	return rec
}
