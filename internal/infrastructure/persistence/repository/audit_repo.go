package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/pkg/database"
)

// AuditRepository implements port.AuditRepository as an append-only table.
type AuditRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAuditRepository creates a SQLite-backed audit repository.
func NewAuditRepository(db *database.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append records one engine decision. Events are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, threadID string, event entity.AuditEvent) error {
	var details sql.NullString
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (thread_id, node, message, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		threadID, event.Node, event.Message, details, event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListByThread returns the trail for a thread in insertion order.
func (r *AuditRepository) ListByThread(ctx context.Context, threadID string) ([]entity.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node, message, details, created_at
		FROM audit_events
		WHERE thread_id = ?
		ORDER BY id ASC
	`, threadID)
	if err != nil {
		r.logger.Error("Failed to list audit events",
			zap.String("thread_id", threadID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []entity.AuditEvent
	for rows.Next() {
		var event entity.AuditEvent
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&event.Node, &event.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			event.Timestamp = ts
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &event.Details); err != nil {
				return nil, fmt.Errorf("corrupt audit details: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

var _ port.AuditRepository = (*AuditRepository)(nil)
