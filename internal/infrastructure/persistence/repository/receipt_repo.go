// Package repository implements the persistence ports on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/pkg/database"
)

// ReceiptRepository implements port.ReceiptRepository. Money is stored as
// exact decimal strings, never floats.
type ReceiptRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a SQLite-backed receipt repository.
func NewReceiptRepository(db *database.DB, logger *zap.Logger) port.ReceiptRepository {
	return &ReceiptRepository{db: db, logger: logger}
}

// SaveReceipt stores totals and items atomically, replacing any previous
// receipt for the thread.
func (r *ReceiptRepository) SaveReceipt(ctx context.Context, threadID string, items []entity.Item, totals entity.Totals) error {
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		// Replacing the receipt row cascades away old items, participants,
		// and assignments.
		if _, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("failed to clear previous receipt: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO receipts (thread_id, subtotal, tax_total, tip_total, fees_total, grand_total)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			threadID,
			totals.Subtotal.String(),
			totals.TaxTotal.String(),
			totals.TipTotal.String(),
			totals.FeesTotal.String(),
			totals.GrandTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}

		for i, item := range items {
			confidence, err := marshalConfidence(item.Confidence)
			if err != nil {
				return fmt.Errorf("failed to encode confidence for item %d: %w", i, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO receipt_items (thread_id, item_index, name, quantity, unit_price, confidence)
				VALUES (?, ?, ?, ?, ?, ?)
			`,
				threadID, i, item.Name, item.Quantity.String(), item.UnitPrice.String(), confidence,
			)
			if err != nil {
				return fmt.Errorf("failed to insert item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save receipt", zap.String("thread_id", threadID), zap.Error(err))
		return err
	}

	r.logger.Debug("Receipt saved",
		zap.String("thread_id", threadID),
		zap.Int("items", len(items)))
	return nil
}

// GetReceipt loads the stored items and totals for a thread.
func (r *ReceiptRepository) GetReceipt(ctx context.Context, threadID string) ([]entity.Item, entity.Totals, bool, error) {
	var subtotal, taxTotal, tipTotal, feesTotal, grandTotal string
	err := r.db.QueryRowContext(ctx, `
		SELECT subtotal, tax_total, tip_total, fees_total, grand_total
		FROM receipts WHERE thread_id = ?
	`, threadID).Scan(&subtotal, &taxTotal, &tipTotal, &feesTotal, &grandTotal)
	if err == sql.ErrNoRows {
		return nil, entity.Totals{}, false, nil
	}
	if err != nil {
		r.logger.Error("Failed to load receipt", zap.String("thread_id", threadID), zap.Error(err))
		return nil, entity.Totals{}, false, fmt.Errorf("failed to load receipt: %w", err)
	}

	totals, err := scanTotals(subtotal, taxTotal, tipTotal, feesTotal, grandTotal)
	if err != nil {
		return nil, entity.Totals{}, false, fmt.Errorf("corrupt receipt totals for %s: %w", threadID, err)
	}

	items, err := r.loadItems(ctx, threadID)
	if err != nil {
		return nil, entity.Totals{}, false, err
	}

	return items, totals, true, nil
}

// DeleteReceipt removes a receipt; items, participants, and assignments go
// with it through cascade.
func (r *ReceiptRepository) DeleteReceipt(ctx context.Context, threadID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE thread_id = ?`, threadID)
	if err != nil {
		r.logger.Error("Failed to delete receipt", zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) loadItems(ctx context.Context, threadID string) ([]entity.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, quantity, unit_price, confidence
		FROM receipt_items
		WHERE thread_id = ?
		ORDER BY item_index ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	var items []entity.Item
	for rows.Next() {
		var name, quantity, unitPrice string
		var confidence sql.NullString
		if err := rows.Scan(&name, &quantity, &unitPrice, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity %q: %w", quantity, err)
		}
		price, err := decimal.NewFromString(unitPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt unit price %q: %w", unitPrice, err)
		}

		var scores map[string]float64
		if confidence.Valid && confidence.String != "" {
			if err := json.Unmarshal([]byte(confidence.String), &scores); err != nil {
				return nil, fmt.Errorf("corrupt confidence payload: %w", err)
			}
		}

		item, err := entity.NewItem(name, qty, price, scores)
		if err != nil {
			return nil, fmt.Errorf("stored item failed validation: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func scanTotals(subtotal, taxTotal, tipTotal, feesTotal, grandTotal string) (entity.Totals, error) {
	parse := func(s string) (decimal.Decimal, error) {
		return decimal.NewFromString(s)
	}
	sub, err := parse(subtotal)
	if err != nil {
		return entity.Totals{}, err
	}
	tax, err := parse(taxTotal)
	if err != nil {
		return entity.Totals{}, err
	}
	tip, err := parse(tipTotal)
	if err != nil {
		return entity.Totals{}, err
	}
	fees, err := parse(feesTotal)
	if err != nil {
		return entity.Totals{}, err
	}
	grand, err := parse(grandTotal)
	if err != nil {
		return entity.Totals{}, err
	}
	return entity.NewTotals(sub, tax, tip, fees, grand)
}

func marshalConfidence(confidence map[string]float64) (sql.NullString, error) {
	if len(confidence) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(confidence)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

var _ port.ReceiptRepository = (*ReceiptRepository)(nil)
