// Package audit drives a diagnostic pass: for each run it assembles the
// three observations about every dataset, aggregates them per storage
// location, classifies the result, and persists whatever findings come out.
//
// The pass itself owns no decision logic - that lives in replica and
// classify - and shares no mutable state between datasets, so it can be
// aborted between runs with nothing to clean up.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mhartz/replicaudit/internal/classify"
	"github.com/mhartz/replicaudit/internal/did"
	"github.com/mhartz/replicaudit/internal/disk"
	"github.com/mhartz/replicaudit/internal/policy"
	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/replica"
	"github.com/mhartz/replicaudit/internal/report"
	"github.com/mhartz/replicaudit/internal/rundb"
)

// EventBuilderHost is the host tag of a run's processing-host data entry.
const EventBuilderHost = "eventbuilder"

// Stats counts what a pass saw and skipped.
type Stats struct {
	RunsAudited   int
	Datasets      int
	Locations     int
	MalformedDIDs int
	MissingFields int
}

// Auditor runs diagnostic passes over already-fetched snapshots.
type Auditor struct {
	store    *rundb.Store
	registry registry.Client
	disk     *disk.Inventory
	policy   *policy.Policy
}

// New creates an auditor over the given collaborators.
func New(store *rundb.Store, reg registry.Client, inv *disk.Inventory, pol *policy.Policy) *Auditor {
	return &Auditor{store: store, registry: reg, disk: inv, policy: pol}
}

// Run audits the given runs and persists every finding to the audit log
// under the pass token. Per-entry problems (malformed DIDs, missing
// fields) are counted and skipped; only collaborator failures abort.
func (a *Auditor) Run(ctx context.Context, runs []int64, passToken string) ([]classify.Finding, *Stats, error) {
	stats := &Stats{}
	var findings []classify.Finding

	for _, number := range runs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		runFindings, err := a.auditRun(ctx, number, stats)
		if err != nil {
			return nil, nil, fmt.Errorf("audit run %d: %w", number, err)
		}
		findings = append(findings, runFindings...)
		stats.RunsAudited++
	}

	for _, f := range findings {
		if err := a.persist(ctx, passToken, f); err != nil {
			return nil, nil, err
		}
	}

	return findings, stats, nil
}

// dataset groups one run's data entries by DID.
type dataset struct {
	did     did.DID
	entries []rundb.Datum
}

func (a *Auditor) auditRun(ctx context.Context, number int64, stats *Stats) ([]classify.Finding, error) {
	rec, err := a.store.GetRunRecord(ctx, number)
	if err != nil {
		return nil, err
	}

	datasets := groupByDID(rec.Data, stats)

	var findings []classify.Finding
	for _, ds := range datasets {
		dsFindings, err := a.auditDataset(ctx, ds, stats)
		if err != nil {
			return nil, err
		}
		findings = append(findings, dsFindings...)
	}
	return findings, nil
}

// groupByDID collects parseable data entries per dataset, preserving the
// order datasets first appear in the run record.
func groupByDID(data []rundb.Datum, stats *Stats) []dataset {
	var order []did.DID
	byDID := make(map[did.DID][]rundb.Datum)

	for _, datum := range data {
		if datum.DID == "" {
			stats.MissingFields++
			continue
		}
		d, err := did.Parse(datum.DID)
		if err != nil {
			stats.MalformedDIDs++
			slog.Warn("skipping malformed DID", "did", datum.DID, "error", err)
			continue
		}
		if _, seen := byDID[d]; !seen {
			order = append(order, d)
		}
		byDID[d] = append(byDID[d], datum)
	}

	datasets := make([]dataset, 0, len(order))
	for _, d := range order {
		datasets = append(datasets, dataset{did: d, entries: byDID[d]})
	}
	return datasets
}

func (a *Auditor) auditDataset(ctx context.Context, ds dataset, stats *Stats) ([]classify.Finding, error) {
	stats.Datasets++
	didStr := ds.did.String()

	// Dataset-level context: the event-builder entry carries the
	// processing-host status and the authoritative file count.
	ebStatus := ""
	expected := replica.UnknownFileCount
	for _, e := range ds.entries {
		if e.Host == EventBuilderHost {
			ebStatus = e.Status
			if e.FileCount >= 0 {
				expected = int(e.FileCount)
			}
		}
	}

	rules, err := a.registry.ListRules(ctx, didStr)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", didStr, err)
	}
	ruleAt := make(map[string]bool, len(rules))
	for _, r := range rules {
		ruleAt[r.RSE] = true
	}

	dctx := replica.Context{
		EventBuilderStatus:   ebStatus,
		RuleLocationCount:    len(rules),
		UploadTargetLocation: a.policy.UploadTarget,
	}

	var findings []classify.Finding
	for _, location := range a.locationsToCheck(ds, ruleAt) {
		stats.Locations++

		rec, err := a.aggregateAt(ctx, ds, didStr, location, expected, ruleAt)
		if err != nil {
			return nil, err
		}

		if f := classify.Classify(rec, dctx); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

// locationsToCheck returns every storage location worth classifying for a
// dataset: the upload target always (an upload that never started leaves
// traces nowhere else), then every location the database or the registry
// mentions. Order is deterministic: target, database order, then remaining
// rule locations sorted.
func (a *Auditor) locationsToCheck(ds dataset, ruleAt map[string]bool) []string {
	seen := map[string]bool{a.policy.UploadTarget: true}
	locations := []string{a.policy.UploadTarget}

	for _, e := range ds.entries {
		if e.Location == "" || seen[e.Location] {
			continue
		}
		seen[e.Location] = true
		locations = append(locations, e.Location)
	}

	var fromRules []string
	for rse := range ruleAt {
		if !seen[rse] {
			seen[rse] = true
			fromRules = append(fromRules, rse)
		}
	}
	sort.Strings(fromRules)
	return append(locations, fromRules...)
}

// aggregateAt builds the merged record for one dataset at one location.
func (a *Auditor) aggregateAt(ctx context.Context, ds dataset, didStr, location string, expected int, ruleAt map[string]bool) (replica.Record, error) {
	var dbObs *replica.DBObservation
	for _, e := range ds.entries {
		if e.Location != location {
			continue
		}
		if dbObs == nil {
			dbObs = &replica.DBObservation{Status: e.Status, ExpectedFileCount: expected}
		}
		dbObs.EntryCount++
	}
	if dbObs == nil {
		// Absent from the database: the expected count is still known
		// dataset-wide.
		dbObs = &replica.DBObservation{ExpectedFileCount: expected}
	}

	replicas, err := a.registry.ListReplicas(ctx, didStr, location)
	if err != nil {
		return replica.Record{}, fmt.Errorf("list replicas for %s at %s: %w", didStr, location, err)
	}
	regObs := &replica.RegistryObservation{
		RuleExists: ruleAt[location],
		FileCount:  len(replicas),
	}

	var diskObs *replica.DiskObservation
	if location == a.policy.UploadTarget {
		n, err := a.disk.CountFiles(ds.did)
		if err != nil {
			return replica.Record{}, fmt.Errorf("count local files for %s: %w", didStr, err)
		}
		diskObs = &replica.DiskObservation{FileCount: n}
	}

	return replica.Aggregate(ds.did, location, dbObs, regObs, diskObs), nil
}

// persist appends one finding to the audit log with its canonical payload
// and hash.
func (a *Auditor) persist(ctx context.Context, passToken string, f classify.Finding) error {
	payload := report.Payload(f)
	data, err := report.MarshalCanonical(payload)
	if err != nil {
		return fmt.Errorf("serialize finding: %w", err)
	}
	hash, err := report.Hash(payload)
	if err != nil {
		return fmt.Errorf("hash finding: %w", err)
	}

	return a.store.RecordFinding(ctx, rundb.FindingRow{
		PassToken:   passToken,
		DID:         f.DID.String(),
		Location:    f.Location,
		Kind:        string(f.Kind),
		Remediation: string(f.Remediation),
		Payload:     string(data),
		PayloadHash: hash,
	})
}
