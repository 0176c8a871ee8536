package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/pkg/database"
)

// AssignmentRepository implements port.AssignmentRepository.
type AssignmentRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a SQLite-backed assignment repository.
func NewAssignmentRepository(db *database.DB, logger *zap.Logger) port.AssignmentRepository {
	return &AssignmentRepository{db: db, logger: logger}
}

// ReplaceAssignments swaps the full participant and share set for a thread
// in one transaction. A completed round always writes the whole picture.
func (r *AssignmentRepository) ReplaceAssignments(ctx context.Context, threadID string, participants []string, assignments []entity.ItemAssignment) error {
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("failed to clear participants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("failed to clear assignments: %w", err)
		}

		for _, name := range participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants (thread_id, name) VALUES (?, ?)`,
				threadID, name,
			); err != nil {
				return fmt.Errorf("failed to insert participant %q: %w", name, err)
			}
		}

		for _, assignment := range assignments {
			for _, share := range assignment.Shares {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO assignments (thread_id, item_index, participant, fraction)
					VALUES (?, ?, ?, ?)
				`,
					threadID, assignment.ItemIndex, share.Participant, share.Fraction.String(),
				); err != nil {
					return fmt.Errorf("failed to insert share for item %d: %w", assignment.ItemIndex, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to replace assignments",
			zap.String("thread_id", threadID), zap.Error(err))
		return err
	}

	r.logger.Debug("Assignments replaced",
		zap.String("thread_id", threadID),
		zap.Int("participants", len(participants)),
		zap.Int("assignments", len(assignments)))
	return nil
}

var _ port.AssignmentRepository = (*AssignmentRepository)(nil)
