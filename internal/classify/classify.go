// Package classify judges whether the three sources of truth agree about a
// replica and, when they do not, names the failure pattern and the
// remediation it implies.
//
// Uploads are multi-step: copy files to the upload target, create the local
// replication rule, update the run database, create the off-site rules. Any
// step can fail independently, and each partial-completion signature is
// recognizable from the merged observations. The classifier is a decision
// table over those signatures, not a general consistency prover: a
// combination no pattern recognizes at an off-site location is surfaced
// generically, and at the upload target it passes through unflagged.
//
// Classification emits remediation action tokens as data. Nothing here
// executes anything; acting on a finding is the operator's job.
package classify

import (
	"fmt"

	"github.com/mhartz/replicaudit/internal/did"
	"github.com/mhartz/replicaudit/internal/replica"
)

// Kind identifies a recognized divergence pattern.
type Kind string

const (
	// KindRuleMissing: files landed at the upload target but the
	// replication rule was never created (connection lost mid-upload).
	KindRuleMissing Kind = "rule-missing"

	// KindDBNotUpdated: upload complete, run database not yet updated,
	// off-site rules still needed.
	KindDBNotUpdated Kind = "db-not-updated"

	// KindOffsiteRulesMissing: upload complete and recorded; off-site
	// rules still needed.
	KindOffsiteRulesMissing Kind = "offsite-rules-missing"

	// KindUploadBlocked: upload never started and the processing-host
	// status blocks admission.
	KindUploadBlocked Kind = "upload-blocked"

	// KindUploadInterrupted: upload stopped mid-copy.
	KindUploadInterrupted Kind = "upload-interrupted"

	// KindEBStatusStale: upload and off-site copies complete but the
	// processing-host status never reached its terminal state.
	KindEBStatusStale Kind = "eb-status-stale"

	// KindInconsistentReplica: an off-site location in a state no healthy
	// signature matches. The full record is attached for inspection.
	KindInconsistentReplica Kind = "inconsistent-replica"
)

// Action is a stable remediation token. Tokens are emitted as data for the
// operator or a downstream tool; the classifier never acts on them.
type Action string

const (
	ActionCreateRule         Action = "create-rule"
	ActionFixUploadDB        Action = "fix-upload-db"
	ActionCreateOffsiteRules Action = "create-offsite-rules"
	ActionResumeUpload       Action = "resume-upload"
	ActionMarkTransferred    Action = "mark-transferred"
	ActionInspectReplica     Action = "inspect-replica"
)

// ActionSetEBStatus renders the parameterized token that asks the operator
// to reset the processing-host status to the given value.
func ActionSetEBStatus(status string) Action {
	return Action("set-eb-status:" + status)
}

// Finding is the classifier's verdict for one replica record. Produced,
// never mutated; consumed by a report sink.
type Finding struct {
	Kind        Kind
	DID         did.DID
	Location    string
	Remediation Action
	Summary     string

	// Record is the full merged observation the finding was derived from,
	// attached so an operator can inspect the raw disagreement.
	Record replica.Record
}

// ReadyToUploadStatus is the processing-host status that admits a dataset
// for upload. KindUploadBlocked findings ask the operator to reset the
// event-builder status to this value.
const ReadyToUploadStatus = "eb_ready_to_upload"

// pattern is one row of the upload-target decision table.
type pattern struct {
	kind        Kind
	matches     func(rec replica.Record, ctx replica.Context) bool
	remediation func(ctx replica.Context) Action
	summary     string
}

// uploadPatterns are evaluated in order; the first match wins. The rows are
// mutually exclusive by construction (see TestUploadPatterns_MutuallyExclusive),
// so the order only determines which row reports a state that no other row
// could claim anyway.
var uploadPatterns = []pattern{
	{
		kind: KindRuleMissing,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			// ExpectedFileCount > 0 on the landed-files rows keeps a
			// zero-file dataset from reading "nothing uploaded yet" as
			// "upload complete".
			return rec.ExpectedFileCount > 0 &&
				rec.RegistryFileCount == rec.ExpectedFileCount &&
				!rec.RegistryRuleExists &&
				rec.DBStatus == "" &&
				rec.DBEntryCount == 0 &&
				ctx.RuleLocationCount == 0
		},
		remediation: func(replica.Context) Action { return ActionCreateRule },
		summary:     "files landed but no replication rule was created; create the rule, then fix the database entry, then create off-site rules",
	},
	{
		kind: KindDBNotUpdated,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			return rec.ExpectedFileCount > 0 &&
				rec.RegistryFileCount == rec.ExpectedFileCount &&
				rec.RegistryRuleExists &&
				rec.DBStatus == "" &&
				rec.DBEntryCount == 0 &&
				ctx.RuleLocationCount == 1
		},
		remediation: func(replica.Context) Action { return ActionFixUploadDB },
		summary:     "upload complete but the run database was never updated; fix the database entry, then create off-site rules",
	},
	{
		kind: KindOffsiteRulesMissing,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			return rec.ExpectedFileCount > 0 &&
				rec.RegistryFileCount == rec.ExpectedFileCount &&
				rec.RegistryRuleExists &&
				rec.DBStatus == "transferred" &&
				rec.DBEntryCount == 1 &&
				ctx.RuleLocationCount == 1
		},
		remediation: func(replica.Context) Action { return ActionCreateOffsiteRules },
		summary:     "upload complete and recorded; off-site rules still need to be created",
	},
	{
		kind: KindUploadBlocked,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			return rec.RegistryFileCount == 0 &&
				!rec.RegistryRuleExists &&
				rec.DBStatus == "" &&
				rec.DBEntryCount == 0 &&
				ctx.RuleLocationCount == 0 &&
				ctx.EventBuilderStatus != "" &&
				ctx.EventBuilderStatus != "transferred"
		},
		remediation: func(ctx replica.Context) Action { return ActionSetEBStatus(ReadyToUploadStatus) },
		summary:     "upload never started and the event-builder status blocks admission; reset the status to ready-to-upload",
	},
	{
		kind: KindUploadInterrupted,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			return rec.RegistryFileCount != rec.ExpectedFileCount &&
				rec.RegistryRuleExists &&
				rec.DBStatus == "" &&
				rec.DBEntryCount == 0 &&
				ctx.RuleLocationCount == 1 &&
				ctx.EventBuilderStatus == "transferring"
		},
		remediation: func(replica.Context) Action { return ActionResumeUpload },
		summary:     "upload interrupted mid-copy; resume the upload",
	},
	{
		kind: KindEBStatusStale,
		matches: func(rec replica.Record, ctx replica.Context) bool {
			return rec.RegistryFileCount == rec.ExpectedFileCount &&
				rec.RegistryRuleExists &&
				rec.DBStatus == "transferred" &&
				rec.DBEntryCount == 1 &&
				ctx.RuleLocationCount > 1 &&
				ctx.EventBuilderStatus != "" &&
				ctx.EventBuilderStatus != "transferred"
		},
		remediation: func(replica.Context) Action { return ActionMarkTransferred },
		summary:     "upload and off-site copies complete but the event-builder status never reached transferred; mark it transferred",
	},
}

// Classify returns the finding implied by one replica record, or nil when
// the observations agree (or, at the upload target, match no recognized
// pattern).
//
// Classify is total and pure: for any well-formed record and context it
// returns at most one finding, reads nothing but its arguments, and is safe
// to call concurrently.
func Classify(rec replica.Record, ctx replica.Context) *Finding {
	if rec.Location == ctx.UploadTargetLocation {
		return classifyUploadTarget(rec, ctx)
	}
	return classifyOffSite(rec)
}

// classifyUploadTarget walks the decision table. An unmatched combination
// is passed through unflagged: the state is either healthy or unrecognized,
// and guessing a remediation would be worse than staying silent.
func classifyUploadTarget(rec replica.Record, ctx replica.Context) *Finding {
	for _, p := range uploadPatterns {
		if p.matches(rec, ctx) {
			return &Finding{
				Kind:        p.kind,
				DID:         rec.DID,
				Location:    rec.Location,
				Remediation: p.remediation(ctx),
				Summary:     p.summary,
				Record:      rec,
			}
		}
	}
	return nil
}

// classifyOffSite checks a non-target location against the two healthy
// signatures: fully present (files, rule, and a transferred database entry)
// or fully absent (nothing anywhere). Anything else is inconsistent.
func classifyOffSite(rec replica.Record) *Finding {
	fullyPresent := rec.RegistryFileCount == rec.ExpectedFileCount &&
		rec.RegistryRuleExists &&
		rec.DBEntryCount == 1 &&
		rec.DBStatus == "transferred"

	fullyAbsent := rec.RegistryFileCount == 0 &&
		!rec.RegistryRuleExists &&
		rec.DBEntryCount == 0 &&
		rec.DBStatus != "transferred"

	if fullyPresent || fullyAbsent {
		return nil
	}

	return &Finding{
		Kind:        KindInconsistentReplica,
		DID:         rec.DID,
		Location:    rec.Location,
		Remediation: ActionInspectReplica,
		Summary: fmt.Sprintf(
			"replica state matches no healthy signature: db entries=%d status=%q, rule=%t, registry files=%d, expected files=%d",
			rec.DBEntryCount, rec.DBStatus, rec.RegistryRuleExists, rec.RegistryFileCount, rec.ExpectedFileCount,
		),
		Record: rec,
	}
}
