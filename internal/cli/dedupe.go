package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mhartz/replicaudit/internal/dedupe"
	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/report"
)

// DedupeOptions holds flags for the dedupe command.
type DedupeOptions struct {
	*RootOptions
	DryRun   bool
	AllTypes bool

	// Registry allows overriding the registry client (for testing).
	Registry registry.Client

	// TokenGenerator allows overriding the pass token generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	TokenGenerator dedupe.PassTokenGenerator
}

// NewDedupeCommand creates the dedupe command.
func NewDedupeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DedupeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Delete redundant copies of single-copy-tagged runs",
		Long: `Run one deduplication pass over every single-copy-tagged run.

The pass scans the tagged runs for datasets replicated at more than one
storage location, keeps the copy at the location with the most remaining
capacity, and deletes the replication rules of the rest, one at a time.
Excluded locations are never touched; non-raw data types are skipped
unless --all-types is given.

--dry-run prints the selection without deleting anything.

Example:
  replicaudit dedupe --config site.yaml --dry-run
  replicaudit dedupe --config site.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDedupe(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the selection without deleting")
	cmd.Flags().BoolVar(&opts.AllTypes, "all-types", false, "consider every data type, not just raw types")

	return cmd
}

func runDedupe(cmd *cobra.Command, opts *DedupeOptions) error {
	tk, err := openToolkit(opts.Config, opts.Registry)
	if err != nil {
		return err
	}
	defer tk.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tokenGen := opts.TokenGenerator
	if tokenGen == nil {
		tokenGen = dedupe.UUIDv7Generator{}
	}
	token := tokenGen.Generate()

	slog.Info("deletion pass starting", "pass", token, "dry_run", opts.DryRun)

	scanner := dedupe.NewScanner(tk.Store, tk.Policy)
	datasets, stats, err := scanner.FindTagged(ctx, dedupe.ScanOptions{AllTypes: opts.AllTypes})
	if err != nil {
		return WrapExitError(ExitCommandError, "scan failed", err)
	}
	slog.Info("scan finished",
		"pass", token,
		"runs", stats.RunsScanned,
		"pairs", stats.PairsFound,
		"malformed_dids", stats.MalformedDIDs,
		"missing_fields", stats.MissingFields,
		"filtered_type", stats.FilteredType,
		"excluded_rses", stats.ExcludedRSEs,
	)

	capacity, err := dedupe.BuildCapacityDirectory(ctx, tk.Registry, dedupe.RSESet(datasets))
	if err != nil {
		return WrapExitError(ExitCommandError, "capacity directory unavailable", err)
	}

	sel := dedupe.SelectForDeletion(datasets, capacity)

	out := cmd.OutOrStdout()
	if opts.DryRun {
		writeSelection(out, sel)
		return nil
	}

	runner := dedupe.NewRunner(dedupe.NewRegistryExecutor(tk.Registry, tk.Store), token)
	rep := runner.Run(ctx, sel)

	formatter := &report.Formatter{Format: opts.Format, Writer: out}
	if err := formatter.WritePassReport(rep); err != nil {
		return WrapExitError(ExitCommandError, "failed to write pass report", err)
	}

	if rep.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d deletion(s) failed", rep.Failed))
	}
	return nil
}

// writeSelection prints a dry-run selection: what would be kept, what
// would be deleted.
func writeSelection(out io.Writer, sel *dedupe.Selection) {
	for _, c := range sel.Delete {
		fmt.Fprintf(out, "would delete %s @ %s (keep @ %s)\n", c.DID, c.RSE, sel.Keep[c.DID])
	}
	for _, rse := range sel.MissingCapacity {
		fmt.Fprintf(out, "warning: no capacity reading for %s\n", rse)
	}
	fmt.Fprintf(out, "%d candidate(s)\n", len(sel.Delete))
}
