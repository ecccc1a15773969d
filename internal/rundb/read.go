package rundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Datum is one data entry of a run: a dataset (or a fragment of one) known
// to live on some host or storage location.
type Datum struct {
	DID       string
	DataType  string
	Host      string
	Location  string
	Status    string
	FileCount int64
}

// RunRecord is the per-run view the diagnostic pass consumes: the active
// data entries plus the entries already deleted from storage.
type RunRecord struct {
	Number      int64
	Name        string
	Data        []Datum
	DeletedData []Datum
}

// FindingRow is one persisted finding in the audit log.
type FindingRow struct {
	ID          int64
	PassToken   string
	DID         string
	Location    string
	Kind        string
	Remediation string
	Payload     string
	PayloadHash string
	CreatedAt   string
}

// ErrRunNotFound is returned by GetRunRecord for an unknown run number.
var ErrRunNotFound = errors.New("run not found")

// TaggedRuns returns the numbers of all runs carrying the given tag,
// in ascending run order.
func (s *Store) TaggedRuns(ctx context.Context, tag string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_number FROM run_tags
		WHERE name = ?
		ORDER BY run_number ASC
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("query tagged runs: %w", err)
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan run number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tagged runs: %w", err)
	}

	if numbers == nil {
		numbers = []int64{}
	}
	return numbers, nil
}

// RunNumbers returns every known run number in ascending order.
func (s *Store) RunNumbers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number FROM runs ORDER BY number ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan run number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if numbers == nil {
		numbers = []int64{}
	}
	return numbers, nil
}

// GetRunRecord returns one run with its active and deleted data entries.
// Entries are ordered deterministically by insertion id.
func (s *Store) GetRunRecord(ctx context.Context, number int64) (*RunRecord, error) {
	rec := &RunRecord{Number: number}

	err := s.db.QueryRowContext(ctx, `SELECT name FROM runs WHERE number = ?`, number).Scan(&rec.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", number, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %d: %w", number, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT did, data_type, host, location, status, file_count, state
		FROM run_data
		WHERE run_number = ?
		ORDER BY id ASC
	`, number)
	if err != nil {
		return nil, fmt.Errorf("query run data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d Datum
		var state string
		if err := rows.Scan(&d.DID, &d.DataType, &d.Host, &d.Location, &d.Status, &d.FileCount, &state); err != nil {
			return nil, fmt.Errorf("scan datum: %w", err)
		}
		if state == StateDeleted {
			rec.DeletedData = append(rec.DeletedData, d)
		} else {
			rec.Data = append(rec.Data, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run data: %w", err)
	}

	if rec.Data == nil {
		rec.Data = []Datum{}
	}
	if rec.DeletedData == nil {
		rec.DeletedData = []Datum{}
	}
	return rec, nil
}

// ListFindings returns the most recent findings from the audit log, newest
// first. limit <= 0 means no limit.
func (s *Store) ListFindings(ctx context.Context, limit int) ([]FindingRow, error) {
	query := `
		SELECT id, pass_token, did, location, kind, remediation, payload, payload_hash, created_at
		FROM findings
		ORDER BY id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []FindingRow
	for rows.Next() {
		var f FindingRow
		if err := rows.Scan(&f.ID, &f.PassToken, &f.DID, &f.Location, &f.Kind,
			&f.Remediation, &f.Payload, &f.PayloadHash, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}

	if findings == nil {
		findings = []FindingRow{}
	}
	return findings, nil
}
