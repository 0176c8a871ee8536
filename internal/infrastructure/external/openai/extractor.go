// Package openai implements the vision and language collaborators on the
// OpenAI chat completion API.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// DefaultConfidenceThreshold flags extracted fields whose reported
// confidence falls below it.
const DefaultConfidenceThreshold = 0.8

// Extractor implements port.Extractor using the Vision API.
type Extractor struct {
	client              *openai.Client
	model               string
	confidenceThreshold float64
	logger              *zap.Logger
}

// NewExtractor creates a vision-backed extractor. A threshold outside (0,1]
// falls back to the default.
func NewExtractor(apiKey, model string, confidenceThreshold float64, logger *zap.Logger) *Extractor {
	if confidenceThreshold <= 0 || confidenceThreshold > 1 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Extractor{
		client:              openai.NewClient(apiKey),
		model:               model,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
	}
}

// extractedReceipt is the wire shape the vision model is asked to produce.
type extractedReceipt struct {
	Items  []extractedItem `json:"items"`
	Totals extractedTotals `json:"totals"`
}

type extractedItem struct {
	Name       string             `json:"name"`
	Quantity   float64            `json:"quantity"`
	UnitPrice  float64            `json:"unit_price"`
	Confidence map[string]float64 `json:"confidence"`
}

type extractedTotals struct {
	Subtotal   float64 `json:"subtotal"`
	TaxTotal   float64 `json:"tax_total"`
	TipTotal   float64 `json:"tip_total"`
	FeesTotal  float64 `json:"fees_total"`
	GrandTotal float64 `json:"grand_total"`
}

// Extract reads line items and totals out of a receipt image. Vision
// failures surface as a single extraction-failure diagnostic so the quality
// gate can reject them uniformly; the returned error covers only programming
// mistakes, never model behavior.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string) (*port.ExtractionResult, error) {
	e.logger.Info("Extracting receipt with Vision API",
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(image)))

	base64Img := base64.StdEncoding.EncodeToString(image)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   4096,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: extractionSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: extractionUserPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64Img),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("Vision API call failed", zap.Error(err))
		return extractionFailure(fmt.Sprintf("Vision API call failed: %v", err)), nil
	}
	if len(resp.Choices) == 0 {
		return extractionFailure("no response from Vision API"), nil
	}

	content := resp.Choices[0].Message.Content

	var receipt extractedReceipt
	if err := json.Unmarshal([]byte(content), &receipt); err != nil {
		// Fallback: try to extract JSON from markdown code blocks.
		jsonStr := extractJSON(content)
		if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &receipt) != nil {
			e.logger.Error("Failed to parse Vision API response",
				zap.Error(err),
				zap.String("content", content))
			return extractionFailure(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
	}

	return e.toExtractionResult(&receipt)
}

func (e *Extractor) toExtractionResult(receipt *extractedReceipt) (*port.ExtractionResult, error) {
	items := make([]entity.Item, 0, len(receipt.Items))
	diagnostics := make([]entity.Diagnostic, 0)

	for i, raw := range receipt.Items {
		item, err := entity.NewItem(
			raw.Name,
			decimal.NewFromFloat(raw.Quantity),
			decimal.NewFromFloat(raw.UnitPrice),
			raw.Confidence,
		)
		if err != nil {
			e.logger.Warn("Dropping malformed extracted item",
				zap.Int("index", i),
				zap.String("name", raw.Name),
				zap.Error(err))
			continue
		}
		items = append(items, item)

		for _, field := range []string{entity.FieldName, entity.FieldQuantity, entity.FieldUnitPrice} {
			score, ok := raw.Confidence[field]
			if ok && score < e.confidenceThreshold {
				diagnostics = append(diagnostics, entity.Diagnostic{
					Kind:    entity.DiagnosticLowConfidence,
					Message: fmt.Sprintf("item %d field %s confidence %.2f", i, field, score),
				})
			}
		}
	}

	totals, err := entity.NewTotals(
		decimal.NewFromFloat(receipt.Totals.Subtotal),
		decimal.NewFromFloat(receipt.Totals.TaxTotal),
		decimal.NewFromFloat(receipt.Totals.TipTotal),
		decimal.NewFromFloat(receipt.Totals.FeesTotal),
		decimal.NewFromFloat(receipt.Totals.GrandTotal),
	)
	if err != nil {
		e.logger.Warn("Extracted totals are inconsistent", zap.Error(err))
		return extractionFailure(fmt.Sprintf("extracted totals are inconsistent: %v", err)), nil
	}

	e.logger.Info("Receipt extracted",
		zap.Int("items", len(items)),
		zap.Int("low_confidence_fields", len(diagnostics)),
		zap.String("grand_total", totals.GrandTotal.String()))

	return &port.ExtractionResult{
		Items:       items,
		Totals:      &totals,
		Diagnostics: diagnostics,
	}, nil
}

func extractionFailure(message string) *port.ExtractionResult {
	return &port.ExtractionResult{
		Diagnostics: []entity.Diagnostic{
			{Kind: entity.DiagnosticExtractionFailure, Message: message},
		},
	}
}
