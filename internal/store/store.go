// Package store provides storage backends for ConvoGate sessions and audit
// records.
//
// It includes an in-memory store for tests and single-node development, an
// SQLite store, and a PostgreSQL store for shared deployments.
package store

import (
	"context"
	"strings"

	"github.com/convogate/convogate/internal/models"
)

// Store is the persistence contract for session state and the append-only
// audit trail. GetSession returns (nil, nil) when the session does not exist.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	AddAuditRecord(ctx context.Context, record models.AuditRecord) error
	ListAuditRecords(ctx context.Context, sessionID string) ([]models.AuditRecord, error)
	Close() error
}

// Opts holds configuration options shared by the persistent stores.
type Opts struct {
	DSN string
}

// Option configures a store constructor.
type Option func(*Opts)

// WithDSN sets the database connection string (a file path for SQLite, a
// connection URL for PostgreSQL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that is
// not a PostgreSQL URL or key-value connection string is treated as an SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
