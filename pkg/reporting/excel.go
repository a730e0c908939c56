package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tuborlabs/tyield/internal/oracle"
	"github.com/tuborlabs/tyield/internal/protocol"
)

// ExcelReporter writes trade reports as xlsx workbooks.
type ExcelReporter struct{}

// NewExcelReporter creates an Excel reporter.
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// excelStyles holds the style IDs used across sheets.
type excelStyles struct {
	header   int
	price    int
	positive int
	negative int
}

// WriteTradesXLSX writes the trade list and a summary sheet to path.
func (r *ExcelReporter) WriteTradesXLSX(trades []protocol.Trade, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}
	if err := r.writeTradesSheet(fx, tradesSheet, trades, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, summarySheet, trades, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.price, err = fx.NewStyle(&excelize.Style{
		NumFmt: 4, // #,##0.00
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.positive, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "006400"},
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.negative, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "8B0000"},
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}

func (r *ExcelReporter) writeTradesSheet(fx *excelize.File, sheet string, trades []protocol.Trade, styles excelStyles) error {
	headers := []string{"ID", "Owner", "Pair", "Side", "Entry", "Stop Loss", "Take Profit", "Size", "State", "Opened", "Closed", "Close Price", "Realized PnL"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.header); err != nil {
			return err
		}
	}

	for i, tr := range trades {
		row := i + 2
		closedAt := ""
		if tr.ClosedAt != nil {
			closedAt = tr.ClosedAt.Format(time.RFC3339)
		}
		values := []interface{}{
			tr.ID,
			tr.Owner,
			tr.Pair,
			string(tr.Side),
			oracle.FromFixed(tr.EntryPrice),
			oracle.FromFixed(tr.StopLoss),
			oracle.FromFixed(tr.TakeProfit),
			tr.Size,
			string(tr.State),
			tr.OpenedAt.Format(time.RFC3339),
			closedAt,
			oracle.FromFixed(tr.ClosePrice),
			tr.RealizedPnL,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}

		pnlCell, err := excelize.CoordinatesToCellName(len(values), row)
		if err != nil {
			return err
		}
		pnlStyle := styles.positive
		if tr.RealizedPnL < 0 {
			pnlStyle = styles.negative
		}
		if err := fx.SetCellStyle(sheet, pnlCell, pnlCell, pnlStyle); err != nil {
			return err
		}
	}

	return fx.SetColWidth(sheet, "A", "M", 18)
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, sheet string, trades []protocol.Trade, styles excelStyles) error {
	summary := Summarize(trades)
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Total Trades", summary.Total},
		{"Open", summary.Open},
		{"Closed Take-Profit", summary.ClosedTakeProfit},
		{"Closed Stop-Loss", summary.ClosedStopLoss},
		{"Cancelled", summary.Cancelled},
		{"Realized PnL", summary.RealizedPnL},
	}
	for i, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+1)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if i == 0 {
				if err := fx.SetCellStyle(sheet, cell, cell, styles.header); err != nil {
					return err
				}
			}
		}
	}
	return fx.SetColWidth(sheet, "A", "B", 22)
}
