package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/convogate/convogate/internal/models"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists sessions and audit records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; a missing directory is created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run SQLite migrations: %w", err)
	}

	slog.Debug("SQLiteStore ready", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// GetSession loads a session, mapping any legacy numeric state code to the
// canonical name on the way in. Returns (nil, nil) if absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	var rawState string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, current_state, turn_count, escalation_count, created_at, updated_at FROM sessions WHERE id = ?`,
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
func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return models.ErrEmptySessionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, current_state, turn_count, escalation_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current_state = excluded.current_state,
		   turn_count = excluded.turn_count,
		   escalation_count = excluded.escalation_count,
		   updated_at = excluded.updated_at`,
		session.ID, string(session.CurrentState), session.TurnCount, session.EscalationCount,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// AddAuditRecord appends one audit row.
func (s *SQLiteStore) AddAuditRecord(ctx context.Context, record models.AuditRecord) error {
	confidences, err := json.Marshal(record.AgentConfidences)
	if err != nil {
		return fmt.Errorf("failed to encode agent confidences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records
		 (session_id, turn_count, agent_confidences, final_state, final_message_type,
		  force_close, force_escalation, fsm_success, should_escalate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) ListAuditRecords(ctx context.Context, sessionID string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_count, agent_confidences, final_state, final_message_type,
		        force_close, force_escalation, fsm_success, should_escalate, created_at
		 FROM audit_records WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanAuditRows decodes audit rows shared by the SQL stores.
func scanAuditRows(rows *sql.Rows) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	for rows.Next() {
		var record models.AuditRecord
		var rawState, confidences string
		if err := rows.Scan(&record.SessionID, &record.TurnCount, &confidences, &rawState,
			&record.FinalMessageType, &record.Flags.ForceClose, &record.Flags.ForceEscalation,
			&record.Flags.FSMSuccess, &record.ShouldEscalate, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		record.FinalState = models.SessionState(rawState)
		if confidences != "" && confidences != "null" {
			if err := json.Unmarshal([]byte(confidences), &record.AgentConfidences); err != nil {
				return nil, fmt.Errorf("failed to decode agent confidences: %w", err)
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
