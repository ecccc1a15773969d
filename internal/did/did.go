// Package did defines the dataset identifier shared by the run database,
// the replica registry, and the processing host.
//
// A DID names one dataset of one run: the run number, the data type
// produced, and the content hash of the processing lineage. It is the join
// key across all three sources of truth, so parsing is strict - a string
// that does not match the canonical form is rejected, never truncated.
package did

import (
	"fmt"
	"strconv"
	"strings"
)

// DID identifies a dataset by run number, data type, and lineage hash.
//
// Canonical string form: "<prefix>_<run>:<type>-<hash>", with the run
// number zero-padded to six digits, e.g. "xnt_007330:raw_records-rfzvpzj4mf".
//
// DID is a value type and is comparable; it is safe to use as a map key.
type DID struct {
	// Prefix is the experiment prefix, e.g. "xnt".
	Prefix string

	// Run is the run number.
	Run int

	// DataType is the produced data type, e.g. "raw_records".
	DataType string

	// Hash is the lineage hash of the dataset contents.
	Hash string
}

// MalformedDidError reports an identifier string that does not match the
// canonical DID form. The offending input is carried for diagnostics.
type MalformedDidError struct {
	Input  string
	Reason string
}

func (e *MalformedDidError) Error() string {
	return fmt.Sprintf("malformed DID %q: %s", e.Input, e.Reason)
}

// Parse parses a canonical DID string.
//
// Returns MalformedDidError if the input does not match
// "<prefix>_<run>:<type>-<hash>". Partial or truncated identifiers are
// never accepted: every divergence report joins on this key, so a lenient
// parse would silently misattribute observations.
func Parse(s string) (DID, error) {
	prefix, rest, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return DID{}, &MalformedDidError{Input: s, Reason: "missing experiment prefix"}
	}

	runStr, tail, ok := strings.Cut(rest, ":")
	if !ok || runStr == "" {
		return DID{}, &MalformedDidError{Input: s, Reason: "missing run number"}
	}
	// Only the canonical rendering is accepted: exactly six digits, or
	// more than six with no leading zero. Anything Atoi would tolerate
	// beyond that (signs, short or overlong padding) re-renders
	// differently and would break the parse/format round trip.
	if !allDigits(runStr) || len(runStr) < 6 || (len(runStr) > 6 && runStr[0] == '0') {
		return DID{}, &MalformedDidError{Input: s, Reason: fmt.Sprintf("non-canonical run number %q", runStr)}
	}
	run, err := strconv.Atoi(runStr)
	if err != nil {
		return DID{}, &MalformedDidError{Input: s, Reason: fmt.Sprintf("invalid run number %q", runStr)}
	}

	// The hash never contains '-', but data types may contain '_',
	// so the split point is the last '-' in the tail.
	sep := strings.LastIndex(tail, "-")
	if sep <= 0 || sep == len(tail)-1 {
		return DID{}, &MalformedDidError{Input: s, Reason: "missing data type or hash"}
	}
	dataType := tail[:sep]
	hash := tail[sep+1:]

	if strings.ContainsAny(prefix, ":-") {
		return DID{}, &MalformedDidError{Input: s, Reason: "invalid experiment prefix"}
	}

	return DID{Prefix: prefix, Run: run, DataType: dataType, Hash: hash}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String renders the canonical DID form with the run number zero-padded
// to six digits.
func (d DID) String() string {
	return fmt.Sprintf("%s_%06d:%s-%s", d.Prefix, d.Run, d.DataType, d.Hash)
}

// IsZero reports whether d is the zero DID.
func (d DID) IsZero() bool {
	return d == DID{}
}
