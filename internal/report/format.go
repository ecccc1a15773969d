package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mhartz/replicaudit/internal/classify"
	"github.com/mhartz/replicaudit/internal/dedupe"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Formatter renders findings and pass reports in the configured format.
type Formatter struct {
	Format string
	Writer io.Writer
}

// Payload flattens a finding into the shape that is canonically
// serialized for the audit log.
func Payload(f classify.Finding) map[string]any {
	return map[string]any{
		"kind":        string(f.Kind),
		"did":         f.DID.String(),
		"location":    f.Location,
		"remediation": string(f.Remediation),
		"summary":     f.Summary,
		"record": map[string]any{
			"db_entry_count":       f.Record.DBEntryCount,
			"db_status":            f.Record.DBStatus,
			"expected_file_count":  f.Record.ExpectedFileCount,
			"registry_rule_exists": f.Record.RegistryRuleExists,
			"registry_file_count":  f.Record.RegistryFileCount,
			"disk_file_count":      f.Record.DiskFileCount,
		},
	}
}

// WriteFindings renders a diagnostic pass's findings.
func (f *Formatter) WriteFindings(findings []classify.Finding) error {
	if f.Format == FormatJSON {
		payloads := make([]map[string]any, len(findings))
		for i, fd := range findings {
			payloads[i] = Payload(fd)
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(payloads)
	}

	if len(findings) == 0 {
		fmt.Fprintln(f.Writer, "no findings")
		return nil
	}

	for _, fd := range findings {
		fmt.Fprintf(f.Writer, "%s @ %s\n", fd.DID, fd.Location)
		fmt.Fprintf(f.Writer, "  kind:        %s\n", fd.Kind)
		fmt.Fprintf(f.Writer, "  remediation: %s\n", fd.Remediation)
		fmt.Fprintf(f.Writer, "  %s\n", fd.Summary)
	}
	fmt.Fprintf(f.Writer, "%d finding(s)\n", len(findings))
	return nil
}

// WritePassReport renders a deletion pass summary.
func (f *Formatter) WritePassReport(rep *dedupe.PassReport) error {
	if f.Format == FormatJSON {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"pass_token":  rep.PassToken,
			"candidates":  rep.Candidates,
			"deleted":     rep.Deleted,
			"failed":      rep.Failed,
			"bytes_freed": rep.BytesFreed,
		})
	}

	fmt.Fprintf(f.Writer, "pass %s: %d candidate(s), %d deleted, %d failed, %d GB freed\n",
		rep.PassToken, rep.Candidates, rep.Deleted, rep.Failed, rep.BytesFreed>>30)
	for _, err := range rep.Failures {
		fmt.Fprintf(f.Writer, "  failed: %v\n", err)
	}
	return nil
}
