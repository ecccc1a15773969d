package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mhartz/replicaudit/internal/audit"
	"github.com/mhartz/replicaudit/internal/dedupe"
	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/report"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Run int64

	// Registry allows overriding the registry client (for testing).
	// If nil, an HTTP client is built from the config.
	Registry registry.Client

	// TokenGenerator allows overriding the pass token generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	TokenGenerator dedupe.PassTokenGenerator
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Diagnose replica inconsistencies",
		Long: `Audit every run (or one run) against the replica registry and local disk.

For each dataset the command merges the run database entries, the
registry's rules and file counts, and the local file count at the upload
target, classifies the result, and prints one finding per divergence.
Findings are also appended to the audit log in the run database.

Exits 1 when findings are reported, 2 on command errors.

Example:
  replicaudit audit --config site.yaml
  replicaudit audit --run 7330 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.Run, "run", 0, "audit a single run number (default: all runs)")

	return cmd
}

func runAudit(cmd *cobra.Command, opts *AuditOptions) error {
	tk, err := openToolkit(opts.Config, opts.Registry)
	if err != nil {
		return err
	}
	defer tk.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runs, err := auditTargets(ctx, tk, opts.Run)
	if err != nil {
		return err
	}

	tokenGen := opts.TokenGenerator
	if tokenGen == nil {
		tokenGen = dedupe.UUIDv7Generator{}
	}
	token := tokenGen.Generate()

	slog.Info("audit pass starting", "pass", token, "runs", len(runs))

	auditor := audit.New(tk.Store, tk.Registry, tk.Disk, tk.Policy)
	findings, stats, err := auditor.Run(ctx, runs, token)
	if err != nil {
		return WrapExitError(ExitCommandError, "audit pass failed", err)
	}

	slog.Info("audit pass finished",
		"pass", token,
		"runs", stats.RunsAudited,
		"datasets", stats.Datasets,
		"locations", stats.Locations,
		"findings", len(findings),
		"malformed_dids", stats.MalformedDIDs,
		"missing_fields", stats.MissingFields,
	)

	formatter := &report.Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.WriteFindings(findings); err != nil {
		return WrapExitError(ExitCommandError, "failed to write findings", err)
	}

	if len(findings) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d finding(s) reported", len(findings)))
	}
	return nil
}

// auditTargets resolves the run numbers a pass covers: one explicit run,
// or every run in the database.
func auditTargets(ctx context.Context, tk *toolkit, run int64) ([]int64, error) {
	if run > 0 {
		return []int64{run}, nil
	}
	runs, err := tk.Store.RunNumbers(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	return runs, nil
}
