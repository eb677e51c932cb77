package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/convogate/convogate/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists sessions and audit records in PostgreSQL for shared
// deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run Postgres migrations: %w", err)
	}

	slog.Debug("PostgresStore ready")
	return &PostgresStore{db: db}, nil
}

// GetSession loads a session, mapping any legacy numeric state code to the
// canonical name on the way in. Returns (nil, nil) if absent.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	var rawState string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, current_state, turn_count, escalation_count, created_at, updated_at FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&session.ID, &rawState, &session.TurnCount, &session.EscalationCount, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	state, err := models.ParseState(rawState)
	if err != nil {
		return nil, fmt.Errorf("session %s has unmappable state %q: %w", sessionID, rawState, err)
	}
	session.CurrentState = state
	return &session, nil
}

// SaveSession upserts the session row.
func (s *PostgresStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return models.ErrEmptySessionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, current_state, turn_count, escalation_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   current_state = EXCLUDED.current_state,
		   turn_count = EXCLUDED.turn_count,
		   escalation_count = EXCLUDED.escalation_count,
		   updated_at = EXCLUDED.updated_at`,
		session.ID, string(session.CurrentState), session.TurnCount, session.EscalationCount,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// AddAuditRecord appends one audit row.
func (s *PostgresStore) AddAuditRecord(ctx context.Context, record models.AuditRecord) error {
	confidences, err := json.Marshal(record.AgentConfidences)
	if err != nil {
		return fmt.Errorf("failed to encode agent confidences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records
		 (session_id, turn_count, agent_confidences, final_state, final_message_type,
		  force_close, force_escalation, fsm_success, should_escalate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.SessionID, record.TurnCount, string(confidences), string(record.FinalState),
		record.FinalMessageType, record.Flags.ForceClose, record.Flags.ForceEscalation,
		record.Flags.FSMSuccess, record.ShouldEscalate, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns the audit trail for one session in append order.
func (s *PostgresStore) ListAuditRecords(ctx context.Context, sessionID string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_count, agent_confidences, final_state, final_message_type,
		        force_close, force_escalation, fsm_success, should_escalate, created_at
		 FROM audit_records WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
