package openai

import (
	"fmt"
	"strings"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

const extractionSystemPrompt = `You are an expert at reading restaurant and retail receipts from photographs. You read item names, quantities, and prices with high accuracy and you honestly report your confidence in each field. Always respond with valid JSON.`

const extractionUserPrompt = `Carefully examine this receipt image and extract every line item and the receipt totals.

Return a JSON object with this exact structure:
{
  "items": [
    {
      "name": "string",
      "quantity": number,
      "unit_price": number,
      "confidence": {"name": number, "quantity": number, "unit_price": number}
    }
  ],
  "totals": {
    "subtotal": number,
    "tax_total": number,
    "tip_total": number,
    "fees_total": number,
    "grand_total": number
  }
}

IMPORTANT:
- Extract EXACTLY what you see. Do not guess or invent items.
- unit_price is the price of ONE unit, not the line total.
- Each confidence value is between 0.0 and 1.0 and reflects how certain you are about that specific field.
- subtotal is the sum of item line totals before tax, tip, and fees.
- tip_total and fees_total are 0 when not printed on the receipt.
- grand_total must equal subtotal + tax_total + tip_total + fees_total.
- For amounts, use plain numbers without currency symbols.`

const interviewSystemPrompt = `You convert informal descriptions of who ordered what at a shared meal into precise fractional item assignments. You never guess: when the description does not cover an item or is ambiguous, you ask targeted clarification questions instead. Always respond with valid JSON.`

// buildInterviewPrompt lists the receipt context and the user's free-form
// round text for the language model.
func buildInterviewPrompt(items []entity.Item, participants []string, text string) string {
	var b strings.Builder

	b.WriteString("Receipt items (referenced by index):\n")
	for i, item := range items {
		fmt.Fprintf(&b, "  [%d] %s - $%s x %s\n", i, item.Name, item.UnitPrice.StringFixed(2), item.Quantity)
	}

	if len(participants) > 0 {
		fmt.Fprintf(&b, "\nKnown participants from earlier rounds: %s\n", strings.Join(participants, ", "))
	}

	fmt.Fprintf(&b, `
User description of who ordered what:
%q

Convert the description into fractional assignments. Respond with ONLY a valid JSON object:
{
  "complete": boolean,
  "participants": [string],
  "assignments": [
    {"item_index": number, "shares": [{"participant": "string", "fraction": number}]}
  ],
  "questions": [string]
}

Rules:
- Every item index from 0 to %d must appear in assignments when complete is true.
- fraction is the portion of the item assigned to that participant, between 0.0 and 1.0.
- The fractions for one item must sum to exactly 1.0. An item shared evenly by N people gets fraction 1/N each.
- If the description leaves any item unassigned, or you cannot tell how an item is split, set complete to false and put specific questions in the questions array. Do not invent assignments.
- participants lists every distinct person mentioned, with consistent spelling.`,
		text, len(items)-1)

	return b.String()
}

// extractJSON extracts the first balanced JSON object from markdown or
// free-text model output.
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd scans for the closing brace that balances the object opened at
// start, skipping braces inside string literals.
func findJSONEnd(content string, start int) int {
	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}
