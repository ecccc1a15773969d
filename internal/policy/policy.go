// Package policy loads the site policy: which experiment this host serves,
// which storage location is its upload target, which locations and data
// types the deletion pass must never touch.
//
// Policy is written in CUE so the constraints travel with the data. It is
// loaded once at command start and passed explicitly to the components that
// need it; nothing reads policy at import time.
package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

// Policy is the validated site policy.
type Policy struct {
	// ExperimentPrefix is the DID prefix this site produces, e.g. "xnt".
	ExperimentPrefix string

	// UploadTarget is the storage location the processing host uploads to.
	UploadTarget string

	// ExcludedRSEs are storage locations the deletion pass must skip.
	ExcludedRSEs []string

	// RawDataTypes are the low-level data types eligible for single-copy
	// deduplication.
	RawDataTypes []string
}

// CompileError reports a policy file that fails to compile or validate.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: policy.%s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("policy.%s: %s", e.Field, e.Message)
}

// Load reads, compiles, and validates a CUE policy file.
//
// The file must define a top-level "policy" struct:
//
//	policy: {
//		experiment_prefix: "xnt"
//		upload_target:     "LNGS_USERDISK"
//		excluded_rses:     ["UC_DALI_USERDISK"]
//		raw_dtypes:        ["raw_records", "raw_records_he"]
//	}
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	root := value.LookupPath(cue.ParsePath("policy"))
	if !root.Exists() {
		return nil, &CompileError{Field: "policy", Message: "top-level policy struct is required", Pos: value.Pos()}
	}

	return compile(root)
}

// compile parses a CUE value into a Policy and checks its constraints.
func compile(v cue.Value) (*Policy, error) {
	p := &Policy{}
	var err error

	if p.ExperimentPrefix, err = requiredString(v, "experiment_prefix"); err != nil {
		return nil, err
	}
	if p.UploadTarget, err = requiredString(v, "upload_target"); err != nil {
		return nil, err
	}
	if p.ExcludedRSEs, err = stringList(v, "excluded_rses"); err != nil {
		return nil, err
	}
	if p.RawDataTypes, err = stringList(v, "raw_dtypes"); err != nil {
		return nil, err
	}

	if len(p.RawDataTypes) == 0 {
		return nil, &CompileError{Field: "raw_dtypes", Message: "at least one raw data type is required", Pos: v.Pos()}
	}
	if p.IsExcluded(p.UploadTarget) {
		return nil, &CompileError{Field: "upload_target", Message: fmt.Sprintf("upload target %q is in excluded_rses", p.UploadTarget), Pos: v.Pos()}
	}

	return p, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: fmt.Sprintf("not a string: %v", err), Pos: fv.Pos()}
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: field + " must be non-empty", Pos: fv.Pos()}
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}

	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("not a list: %v", err), Pos: fv.Pos()}
	}

	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: fmt.Sprintf("element not a string: %v", err), Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// IsRawType reports whether a data type is eligible for single-copy
// deduplication.
func (p *Policy) IsRawType(dataType string) bool {
	for _, t := range p.RawDataTypes {
		if t == dataType {
			return true
		}
	}
	return false
}

// IsExcluded reports whether a storage location is off-limits to the
// deletion pass.
func (p *Policy) IsExcluded(rse string) bool {
	for _, r := range p.ExcludedRSEs {
		if r == rse {
			return true
		}
	}
	return false
}
