package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordCall appends a call record.
// Uses ON CONFLICT DO NOTHING for idempotency - a (run_id, seq) pair is
// written at most once.
func (s *Store) RecordCall(ctx context.Context, rec CallRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("record call: run id is required")
	}
	if rec.Outcome == "" {
		return fmt.Errorf("record call: outcome is required")
	}

	var clientID sql.NullInt64
	if rec.HasClient {
		clientID = sql.NullInt64{Int64: rec.ClientID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls
		(run_id, seq, op, client_id, dbname, sync_kind, evicted, outcome, cause,
		 args_digest, result_digest, state_digest, db_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		rec.RunID,
		rec.Seq,
		rec.Op,
		clientID,
		rec.DB,
		rec.SyncKind,
		rec.Evicted,
		rec.Outcome,
		rec.Cause,
		rec.ArgsDigest,
		rec.ResultDigest,
		rec.StateDigest,
		rec.DBFingerprint,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}

	return nil
}
