// Package gate implements the extraction quality gate: the single accept or
// reject decision made on an extraction result before any interview round.
package gate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// Reject reasons surfaced verbatim to the caller.
const (
	ReasonExtractionFailed = "extraction failed"
	ReasonNoItems          = "no items found"
	ReasonLowConfidence    = "too many low-confidence fields"
)

// DefaultLowConfidenceRatio is the fraction of flagged field slots at or
// above which an extraction is rejected.
const DefaultLowConfidenceRatio = 0.5

// Decision is the gate verdict for one extraction.
type Decision struct {
	Accepted bool
	Reason   string
}

// Gate evaluates extraction diagnostics against the configured
// low-confidence ratio. It runs exactly once per upload.
type Gate struct {
	lowConfidenceRatio float64
	logger             *zap.Logger
}

// New creates a Gate. A ratio outside (0,1] falls back to the default.
func New(lowConfidenceRatio float64, logger *zap.Logger) *Gate {
	if lowConfidenceRatio <= 0 || lowConfidenceRatio > 1 {
		lowConfidenceRatio = DefaultLowConfidenceRatio
	}
	return &Gate{
		lowConfidenceRatio: lowConfidenceRatio,
		logger:             logger,
	}
}

// Evaluate applies the rejection rules in order; the first match wins.
//
//  1. Exactly one diagnostic indicating extraction-process failure.
//  2. Zero extracted items.
//  3. Flagged low-confidence fields cover at least the configured ratio of
//     the 3xN field slots (boundary inclusive).
func (g *Gate) Evaluate(items []entity.Item, diagnostics []entity.Diagnostic) Decision {
	if len(diagnostics) == 1 && diagnostics[0].Kind == entity.DiagnosticExtractionFailure {
		return g.reject(ReasonExtractionFailed, zap.String("detail", diagnostics[0].Message))
	}

	if len(items) == 0 {
		return g.reject(ReasonNoItems)
	}

	totalFields := len(items) * entity.FieldsPerItem
	flagCount := 0
	for _, diag := range diagnostics {
		if diag.Kind == entity.DiagnosticLowConfidence {
			flagCount++
		}
	}
	if totalFields > 0 && float64(flagCount)/float64(totalFields) >= g.lowConfidenceRatio {
		return g.reject(ReasonLowConfidence,
			zap.Int("flagged", flagCount),
			zap.Int("total_fields", totalFields))
	}

	g.logger.Info("Extraction accepted",
		zap.Int("items", len(items)),
		zap.Int("flagged", flagCount))
	return Decision{Accepted: true}
}

func (g *Gate) reject(reason string, fields ...zap.Field) Decision {
	g.logger.Warn(fmt.Sprintf("Extraction rejected: %s", reason), fields...)
	return Decision{Accepted: false, Reason: reason}
}
