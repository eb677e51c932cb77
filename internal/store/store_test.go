package store

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/convogate/convogate/internal/models"
)

// storeUnderTest runs the contract tests against any Store implementation.
func storeUnderTest(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("missing session returns nil", func(t *testing.T) {
		session, err := s.GetSession(ctx, "absent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session != nil {
			t.Errorf("expected nil for missing session, got %+v", session)
		}
	})

	t.Run("save and reload session", func(t *testing.T) {
		session := models.NewSession("session-store-1")
		session.CurrentState = models.StateCollectingInfo
		session.TurnCount = 4
		session.EscalationCount = 1
		if err := s.SaveSession(ctx, session); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		loaded, err := s.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loaded == nil {
			t.Fatal("expected session")
		}
		if loaded.CurrentState != models.StateCollectingInfo || loaded.TurnCount != 4 || loaded.EscalationCount != 1 {
			t.Errorf("session round-trip mismatch: %+v", loaded)
		}
	})

	t.Run("save rejects empty id", func(t *testing.T) {
		if err := s.SaveSession(ctx, &models.Session{}); err == nil {
			t.Error("expected error for empty session id")
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		record := models.AuditRecord{
			Timestamp:        time.Now(),
			SessionID:        "session-store-2",
			TurnCount:        1,
			AgentConfidences: map[string]float64{"intent": 0.9},
			FinalState:       models.StateCollectingInfo,
			FinalMessageType: "question",
			Flags:            models.AuditFlags{FSMSuccess: true},
		}
		if err := s.AddAuditRecord(ctx, record); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records, err := s.ListAuditRecords(ctx, "session-store-2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		got := records[0]
		if got.FinalState != models.StateCollectingInfo || !got.Flags.FSMSuccess {
			t.Errorf("audit round-trip mismatch: %+v", got)
		}
		if got.AgentConfidences["intent"] != 0.9 {
			t.Errorf("agent confidences not preserved: %+v", got.AgentConfidences)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "convogate.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	storeUnderTest(t, s)
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error when DSN not set")
	}
}

func TestSQLiteStoreMapsLegacyNumericState(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "legacy.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, current_state, turn_count, escalation_count, created_at, updated_at) VALUES (?, ?, 0, 0, ?, ?)`,
		"legacy-1", "4", now, now,
	)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := s.GetSession(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.CurrentState != models.StateHandoffHuman {
		t.Errorf("expected legacy code 4 mapped to HANDOFF_HUMAN, got %s", loaded.CurrentState)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to enable.
	dsn := ""
	if v, ok := syscall.Getenv("DATABASE_URL"); ok {
		dsn = v
	}
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgresStore(WithDSN(dsn))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	s.db.Exec("DELETE FROM audit_records WHERE session_id IN ('session-store-2')")
	s.db.Exec("DELETE FROM sessions WHERE id IN ('session-store-1')")
	storeUnderTest(t, s)
}
