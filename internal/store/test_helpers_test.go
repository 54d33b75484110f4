package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCall creates a successful client call record.
func createTestCall(runID string, seq int64, op string, clientID int64) CallRecord {
	return CallRecord{
		RunID:     runID,
		Seq:       seq,
		Op:        op,
		ClientID:  clientID,
		HasClient: true,
		DB:        "shop",
		SyncKind:  "diff",
		Outcome:   OutcomeOK,
	}
}
