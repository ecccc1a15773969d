package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// FindingsOptions holds flags for the findings command.
type FindingsOptions struct {
	*RootOptions
	Limit int
}

// NewFindingsCommand creates the findings command.
func NewFindingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindingsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Show recorded findings from past audit passes",
		Long: `List the findings persisted in the audit log, newest first.

Example:
  replicaudit findings --limit 20
  replicaudit findings --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFindings(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum findings to show (0 for all)")

	return cmd
}

func runFindings(cmd *cobra.Command, opts *FindingsOptions) error {
	tk, err := openToolkit(opts.Config, nil)
	if err != nil {
		return err
	}
	defer tk.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := tk.Store.ListFindings(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list findings", err)
	}

	out := cmd.OutOrStdout()

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		type row struct {
			PassToken   string          `json:"pass_token"`
			DID         string          `json:"did"`
			Location    string          `json:"location"`
			Kind        string          `json:"kind"`
			Remediation string          `json:"remediation"`
			Payload     json.RawMessage `json:"payload"`
			CreatedAt   string          `json:"created_at"`
		}
		jrows := make([]row, len(rows))
		for i, r := range rows {
			jrows[i] = row{
				PassToken:   r.PassToken,
				DID:         r.DID,
				Location:    r.Location,
				Kind:        r.Kind,
				Remediation: r.Remediation,
				Payload:     json.RawMessage(r.Payload),
				CreatedAt:   r.CreatedAt,
			}
		}
		return enc.Encode(jrows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "no recorded findings")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%s  %s @ %s\n", r.CreatedAt, r.DID, r.Location)
		fmt.Fprintf(out, "  kind:        %s\n", r.Kind)
		fmt.Fprintf(out, "  remediation: %s\n", r.Remediation)
		fmt.Fprintf(out, "  pass:        %s\n", r.PassToken)
	}
	fmt.Fprintf(out, "%d recorded finding(s)\n", len(rows))
	return nil
}
