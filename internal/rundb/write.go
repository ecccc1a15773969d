package rundb

import (
	"context"
	"fmt"
)

// UpsertRun inserts or updates a run row.
func (s *Store) UpsertRun(ctx context.Context, number int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (number, name) VALUES (?, ?)
		ON CONFLICT(number) DO UPDATE SET name = excluded.name
	`, number, name)
	if err != nil {
		return fmt.Errorf("upsert run %d: %w", number, err)
	}
	return nil
}

// InsertDatum appends a data entry to a run's active data list.
func (s *Store) InsertDatum(ctx context.Context, number int64, d Datum) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_data (run_number, did, data_type, host, location, status, file_count, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, number, d.DID, d.DataType, d.Host, d.Location, d.Status, d.FileCount, StateActive)
	if err != nil {
		return fmt.Errorf("insert datum for run %d: %w", number, err)
	}
	return nil
}

// TagRun attaches a tag to a run. Re-tagging is a no-op.
func (s *Store) TagRun(ctx context.Context, number int64, tag string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_tags (run_number, name) VALUES (?, ?)
		ON CONFLICT(run_number, name) DO NOTHING
	`, number, tag)
	if err != nil {
		return fmt.Errorf("tag run %d: %w", number, err)
	}
	return nil
}

// MarkDatumDeleted moves a dataset's entry at one location from the active
// data list to the deleted list, mirroring a registry rule deletion.
// Returns the number of entries moved (zero when the entry is already gone,
// which a re-run after a crashed pass treats as success).
func (s *Store) MarkDatumDeleted(ctx context.Context, didStr, location string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_data
		SET state = ?, status = 'deleted'
		WHERE did = ? AND location = ? AND state = ?
	`, StateDeleted, didStr, location, StateActive)
	if err != nil {
		return 0, fmt.Errorf("mark datum deleted (%s at %s): %w", didStr, location, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// UpdateDatumStatus sets the status of a dataset's active entry at one
// location.
func (s *Store) UpdateDatumStatus(ctx context.Context, didStr, location, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE run_data
		SET status = ?
		WHERE did = ? AND location = ? AND state = ?
	`, status, didStr, location, StateActive)
	if err != nil {
		return fmt.Errorf("update datum status (%s at %s): %w", didStr, location, err)
	}
	return nil
}

// RecordFinding appends a finding to the audit log.
func (s *Store) RecordFinding(ctx context.Context, f FindingRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (pass_token, did, location, kind, remediation, payload, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.PassToken, f.DID, f.Location, f.Kind, f.Remediation, f.Payload, f.PayloadHash)
	if err != nil {
		return fmt.Errorf("record finding (%s at %s): %w", f.DID, f.Location, err)
	}
	return nil
}
