// Package audit provides the append-only audit sinks consumed by the session
// governor. Sink failures must never block the user-facing response; the
// governor logs and continues.
package audit

import (
	"context"
	"log/slog"

	"github.com/convogate/convogate/internal/models"
)

// Sink is an append-only consumer of per-turn governance records.
type Sink interface {
	Emit(ctx context.Context, record models.AuditRecord) error
}

// Compile-time checks for the provided sinks.
var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*StoreSink)(nil)
	_ Sink = (MultiSink)(nil)
)

// LogSink writes audit records to the structured log.
type LogSink struct{}

// NewLogSink creates a log-backed audit sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit logs the record at Info level.
func (s *LogSink) Emit(ctx context.Context, record models.AuditRecord) error {
	slog.Info("audit",
		"sessionID", record.SessionID,
		"turn", record.TurnCount,
		"final_state", record.FinalState,
		"message_type", record.FinalMessageType,
		"force_close", record.Flags.ForceClose,
		"force_escalation", record.Flags.ForceEscalation,
		"fsm_success", record.Flags.FSMSuccess,
		"should_escalate", record.ShouldEscalate,
	)
	return nil
}

// RecordStore is the subset of the store contract the StoreSink needs.
type RecordStore interface {
	AddAuditRecord(ctx context.Context, record models.AuditRecord) error
}

// StoreSink persists audit records through a backing store.
type StoreSink struct {
	store RecordStore
}

// NewStoreSink creates a store-backed audit sink.
func NewStoreSink(store RecordStore) *StoreSink {
	return &StoreSink{store: store}
}

// Emit appends the record to the backing store.
func (s *StoreSink) Emit(ctx context.Context, record models.AuditRecord) error {
	return s.store.AddAuditRecord(ctx, record)
}

// MultiSink fans one record out to several sinks, returning the first error
// after attempting all of them.
type MultiSink []Sink

// Emit delivers the record to every sink.
func (m MultiSink) Emit(ctx context.Context, record models.AuditRecord) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Emit(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
