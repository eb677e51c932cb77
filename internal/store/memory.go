package store

import (
	"context"
	"sync"

	"github.com/convogate/convogate/internal/models"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	audits   []models.AuditRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

// GetSession returns a copy of the stored session, or (nil, nil) if absent.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	clone := session
	return &clone, nil
}

// SaveSession stores a copy of the session.
func (s *MemoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return models.ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// AddAuditRecord appends to the in-memory audit trail.
func (s *MemoryStore) AddAuditRecord(ctx context.Context, record models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, record)
	return nil
}

// ListAuditRecords returns the audit records for one session in append order.
func (s *MemoryStore) ListAuditRecords(ctx context.Context, sessionID string) ([]models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []models.AuditRecord
	for _, record := range s.audits {
		if record.SessionID == sessionID {
			records = append(records, record)
		}
	}
	return records, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
