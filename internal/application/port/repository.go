package port

import (
	"context"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// ReceiptRepository persists the immutable extraction result for a thread:
// the receipt totals and its items. Written once, on gate accept.
type ReceiptRepository interface {
	// SaveReceipt stores the receipt totals and items atomically.
	SaveReceipt(ctx context.Context, threadID string, items []entity.Item, totals entity.Totals) error

	// GetReceipt loads the stored items and totals for a thread. Returns
	// found=false when the thread has no persisted receipt.
	GetReceipt(ctx context.Context, threadID string) (items []entity.Item, totals entity.Totals, found bool, err error)

	// DeleteReceipt removes a receipt and, through cascade, its items,
	// participants, and assignments. Used on session reset.
	DeleteReceipt(ctx context.Context, threadID string) error
}

// AssignmentRepository persists the item-to-participant fractional
// assignments. Each interview round fully replaces the previous set.
type AssignmentRepository interface {
	ReplaceAssignments(ctx context.Context, threadID string, participants []string, assignments []entity.ItemAssignment) error
}

// AuditRepository is the append-only trail of engine decisions.
type AuditRepository interface {
	Append(ctx context.Context, threadID string, event entity.AuditEvent) error
	ListByThread(ctx context.Context, threadID string) ([]entity.AuditEvent, error)
}
