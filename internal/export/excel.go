// Package export builds the settlement spreadsheet for a completed session.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

const sheetName = "Settlement"

// SettlementExporter renders final per-participant costs as an xlsx sheet.
type SettlementExporter struct {
	logger *zap.Logger
}

// NewSettlementExporter creates a settlement exporter.
func NewSettlementExporter(logger *zap.Logger) *SettlementExporter {
	return &SettlementExporter{logger: logger}
}

// Write builds the settlement workbook: one itemized block per participant,
// followed by the receipt totals and a reconciliation line.
func (e *SettlementExporter) Write(
	threadID string,
	totals entity.Totals,
	results []entity.ParticipantCost,
	mismatch bool,
) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	setCell := func(cell string, value interface{}) {
		// Cell references are generated below, SetCellValue cannot fail on them.
		_ = f.SetCellValue(sheetName, cell, value)
	}

	setCell("A1", fmt.Sprintf("Settlement for %s", threadID))
	_ = f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	row := 3
	setCell(fmt.Sprintf("A%d", row), "Participant")
	setCell(fmt.Sprintf("B%d", row), "Item")
	setCell(fmt.Sprintf("C%d", row), "Share %")
	setCell(fmt.Sprintf("D%d", row), "Cost")
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("D%d", row), headerStyle)
	row++

	for _, pc := range results {
		setCell(fmt.Sprintf("A%d", row), pc.Participant)
		row++
		for _, ic := range pc.ItemCosts {
			setCell(fmt.Sprintf("B%d", row), ic.ItemName)
			setCell(fmt.Sprintf("C%d", row), ic.SharePercentage.StringFixed(1))
			setCell(fmt.Sprintf("D%d", row), ic.Cost.StringFixed(2))
			row++
		}
		setCell(fmt.Sprintf("B%d", row), "Subtotal")
		setCell(fmt.Sprintf("D%d", row), pc.Subtotal.StringFixed(2))
		row++
		setCell(fmt.Sprintf("B%d", row), "Tax share")
		setCell(fmt.Sprintf("D%d", row), pc.TaxShare.StringFixed(2))
		row++
		setCell(fmt.Sprintf("B%d", row), "Tip share")
		setCell(fmt.Sprintf("D%d", row), pc.TipShare.StringFixed(2))
		row++
		setCell(fmt.Sprintf("B%d", row), "Fees share")
		setCell(fmt.Sprintf("D%d", row), pc.FeesShare.StringFixed(2))
		row++
		setCell(fmt.Sprintf("B%d", row), "Total owed")
		setCell(fmt.Sprintf("D%d", row), pc.TotalOwed.StringFixed(2))
		_ = f.SetCellStyle(sheetName, fmt.Sprintf("B%d", row), fmt.Sprintf("D%d", row), headerStyle)
		row += 2
	}

	setCell(fmt.Sprintf("A%d", row), "Receipt grand total")
	setCell(fmt.Sprintf("D%d", row), totals.GrandTotal.StringFixed(2))
	row++

	if mismatch {
		setCell(fmt.Sprintf("A%d", row), "Note: allocated totals differ from the receipt grand total beyond tolerance")
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "D", 12)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	e.logger.Debug("Settlement export built",
		zap.String("thread_id", threadID),
		zap.Int("participants", len(results)),
		zap.Int("bytes", buf.Len()))

	return buf, nil
}
