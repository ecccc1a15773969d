package dedupe

import (
	"context"
	"log/slog"

	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/rundb"
)

// Executor deletes one redundant replica: the collaborator contract the
// runner drives. Implementations remove the replication rule and update
// the run database; they return the bytes freed.
type Executor interface {
	Delete(ctx context.Context, c Candidate) (int64, error)
}

// RegistryExecutor deletes replication rules through the registry and
// moves the corresponding run-database entry to the deleted list,
// mirroring the registry-then-database order of the upload pipeline.
type RegistryExecutor struct {
	client registry.Client
	store  *rundb.Store
}

// NewRegistryExecutor creates the production executor.
func NewRegistryExecutor(client registry.Client, store *rundb.Store) *RegistryExecutor {
	return &RegistryExecutor{client: client, store: store}
}

// Delete implements Executor.
func (e *RegistryExecutor) Delete(ctx context.Context, c Candidate) (int64, error) {
	didStr := c.DID.String()

	freed, err := e.client.DeleteRule(ctx, didStr, c.RSE)
	if err != nil {
		return 0, &DeletionError{DID: c.DID, RSE: c.RSE, Err: err}
	}

	if _, err := e.store.MarkDatumDeleted(ctx, didStr, c.RSE); err != nil {
		// The rule is gone but the database still lists the copy; the
		// next diagnostic pass will surface the divergence.
		return freed, &DeletionError{DID: c.DID, RSE: c.RSE, Err: err}
	}

	return freed, nil
}

// PassReport summarizes one deletion pass.
type PassReport struct {
	PassToken  string
	Candidates int
	Deleted    int
	Failed     int
	BytesFreed int64
	Failures   []error
}

// Runner executes a selection sequentially: at most one deletion call per
// candidate per pass.
type Runner struct {
	exec  Executor
	token string
}

// NewRunner creates a runner that stamps the given pass token on
// everything it does.
func NewRunner(exec Executor, token string) *Runner {
	return &Runner{exec: exec, token: token}
}

// Run deletes every candidate in the selection, in order.
//
// A failed deletion is reported and the batch continues; nothing is
// retried - remediation of stuck deletions is manual, consistent with the
// diagnostic's advisory posture. Cancelling the context stops the pass
// between candidates, which violates no invariant: the remaining
// candidates are re-derivable by the next pass.
func (r *Runner) Run(ctx context.Context, sel *Selection) *PassReport {
	report := &PassReport{
		PassToken:  r.token,
		Candidates: len(sel.Delete),
	}

	for _, c := range sel.Delete {
		if err := ctx.Err(); err != nil {
			slog.Info("deletion pass cancelled",
				"pass", r.token,
				"deleted", report.Deleted,
				"remaining", report.Candidates-report.Deleted-report.Failed,
			)
			return report
		}

		slog.Info("deleting replica", "pass", r.token, "did", c.DID.String(), "rse", c.RSE)

		freed, err := r.exec.Delete(ctx, c)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, err)
			slog.Error("deletion failed", "pass", r.token, "did", c.DID.String(), "rse", c.RSE, "error", err)
			continue
		}

		report.Deleted++
		report.BytesFreed += freed
		slog.Info("deleted replica",
			"pass", r.token,
			"did", c.DID.String(),
			"rse", c.RSE,
			"freed_gb", freed>>30,
		)
	}

	return report
}
