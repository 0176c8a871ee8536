package port

import (
	"context"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// ExtractionResult is what the vision collaborator produces for one receipt
// image: line items, receipt totals, and typed diagnostics for the quality
// gate. Totals is nil when extraction could not read them.
type ExtractionResult struct {
	Items       []entity.Item
	Totals      *entity.Totals
	Diagnostics []entity.Diagnostic
}

// Extractor reads line items and totals out of a receipt image. A failed
// vision call is reported as a single extraction-failure diagnostic, not an
// error, so the quality gate can apply its rejection rules uniformly.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*ExtractionResult, error)
}

// InterpretationResult is what the language-understanding collaborator
// produces for one round of free-form assignment text: either a complete
// fractional assignment set, or clarification questions to put back to the
// user. Exactly one of the two is populated.
type InterpretationResult struct {
	Participants []string
	Assignments  []entity.ItemAssignment
	Questions    []string
}

// Interpreter turns free-form natural-language assignment text into
// structured fractional shares. It is the sole source of new assignment
// data; the engine never parses user text itself.
type Interpreter interface {
	Interpret(ctx context.Context, items []entity.Item, participants []string, text string) (*InterpretationResult, error)
}
