package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadRun returns every call of a run ordered by seq.
// Returns an empty slice (not nil) if the run has no records.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, op, client_id, dbname, sync_kind, evicted, outcome, cause,
		       args_digest, result_digest, state_digest, db_fingerprint
		FROM calls
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	records := []CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	return records, nil
}

// ReadClient returns every call for one client across runs, ordered by run
// then seq.
func (s *Store) ReadClient(ctx context.Context, clientID int64) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, op, client_id, dbname, sync_kind, evicted, outcome, cause,
		       args_digest, result_digest, state_digest, db_fingerprint
		FROM calls
		WHERE client_id = ?
		ORDER BY run_id COLLATE BINARY ASC, seq ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query client calls: %w", err)
	}
	defer rows.Close()

	records := []CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client calls: %w", err)
	}

	return records, nil
}

// ListRuns summarizes every journaled run. UUIDv7 run ids sort by start
// time, so the result is in start order.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id,
		       COUNT(*),
		       SUM(CASE WHEN outcome = ? THEN 0 ELSE 1 END),
		       MAX(seq)
		FROM calls
		GROUP BY run_id
		ORDER BY run_id COLLATE BINARY ASC
	`, OutcomeOK)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Calls, &r.Failures, &r.LastSeq); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func scanCall(rows *sql.Rows) (CallRecord, error) {
	var rec CallRecord
	var clientID sql.NullInt64
	err := rows.Scan(
		&rec.RunID,
		&rec.Seq,
		&rec.Op,
		&clientID,
		&rec.DB,
		&rec.SyncKind,
		&rec.Evicted,
		&rec.Outcome,
		&rec.Cause,
		&rec.ArgsDigest,
		&rec.ResultDigest,
		&rec.StateDigest,
		&rec.DBFingerprint,
	)
	if err != nil {
		return CallRecord{}, fmt.Errorf("scan call: %w", err)
	}
	if clientID.Valid {
		rec.ClientID = clientID.Int64
		rec.HasClient = true
	}
	return rec, nil
}
