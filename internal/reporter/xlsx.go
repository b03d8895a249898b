package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"commerce-reconciliation-service/internal/reconciler"
)

// Workbook sheet names
const (
	SheetSummary     = "Summary"
	SheetComparisons = "Comparisons"
	SheetMismatches  = "Date Mismatches"
	SheetDuplicates  = "Duplicates"
	SheetAnomalies   = "Anomalies"
	SheetIssues      = "Data Quality"
)

// amountFormat is the built-in "#,##0.00" number format
const amountFormat = 4

type sheetWriter struct {
	f      *excelize.File
	name   string
	row    int
	header int
	amount int
}

func (sw *sheetWriter) writeRow(values ...interface{}) error {
	sw.row++
	cell, err := excelize.CoordinatesToCellName(1, sw.row)
	if err != nil {
		return err
	}
	for i, v := range values {
		if d, ok := v.(decimal.Decimal); ok {
			values[i] = d.InexactFloat64()
			col, _ := excelize.CoordinatesToCellName(i+1, sw.row)
			if err := sw.f.SetCellStyle(sw.name, col, col, sw.amount); err != nil {
				return err
			}
		}
	}
	return sw.f.SetSheetRow(sw.name, cell, &values)
}

func (sw *sheetWriter) writeHeader(headers ...string) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := sw.writeRow(row...); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), sw.row)
	if err != nil {
		return err
	}
	if err := sw.f.SetCellStyle(sw.name, "A1", last, sw.header); err != nil {
		return err
	}
	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return err
	}
	return sw.f.SetColWidth(sw.name, "A", lastCol, 18)
}

func (rg *ReportGenerator) generateXLSXReport(report *reconciler.Report, writer io.Writer) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: amountFormat})
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	sheet := func(name string) (*sheetWriter, error) {
		if name != SheetSummary {
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
			}
		}
		return &sheetWriter{f: f, name: name, header: headerStyle, amount: amountStyle}, nil
	}

	summary, err := sheet(SheetSummary)
	if err != nil {
		return err
	}
	if err := summary.writeHeader(csvHeaders...); err != nil {
		return err
	}
	for _, rec := range report.Records {
		r := recordRow(report.RunID, rec)
		row := make([]interface{}, len(r))
		for i, v := range r {
			row[i] = v
		}
		// amounts and counts as numbers
		row[6], row[7], row[8] = rec.ExpectedAmount, rec.ActualAmount, rec.Variance
		row[9] = rec.VariancePct.InexactFloat64()
		row[10], row[11] = rec.Matches.Exact, rec.Matches.Fuzzy
		row[12], row[13] = rec.Matches.UnmatchedOrders, rec.Matches.UnmatchedTransactions
		row[14], row[15], row[16], row[17] = rec.Payout.GrossSales, rec.Payout.Refunds, rec.Payout.Fees, rec.Payout.NetPayout
		row[18], row[19], row[20] = len(rec.Duplicates), len(rec.Anomalies), len(rec.Issues)
		if err := summary.writeRow(row...); err != nil {
			return err
		}
	}

	if rg.config.IncludeComparisons {
		sw, err := sheet(SheetComparisons)
		if err != nil {
			return err
		}
		if err := sw.writeHeader("Expected_View", "Actual_View", "Expected_Amount", "Actual_Amount", "Variance", "Pending_Amount", "Likely_Cause"); err != nil {
			return err
		}
		for _, c := range report.Comparisons {
			if err := sw.writeRow(string(c.ExpectedView), string(c.ActualView), c.ExpectedAmount, c.ActualAmount,
				c.Variance, c.PendingAmount, c.LikelyCause); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeDateMismatches {
		sw, err := sheet(SheetMismatches)
		if err != nil {
			return err
		}
		if err := sw.writeHeader("Category", "Order_ID", "Transaction_ID", "Order_Day", "Processed_Day", "Amount"); err != nil {
			return err
		}
		for _, m := range report.DateMismatches {
			if err := sw.writeRow(m.Category, m.OrderID, m.TransactionID, m.OrderDay, m.ProcessedDay, m.Amount); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeDuplicates {
		sw, err := sheet(SheetDuplicates)
		if err != nil {
			return err
		}
		if err := sw.writeHeader("Perspective", "Transaction_A", "Transaction_B", "Similarity", "Reason"); err != nil {
			return err
		}
		for _, rec := range report.Records {
			for _, d := range rec.Duplicates {
				if err := sw.writeRow(string(rec.PerspectiveName), d.TransactionIDA, d.TransactionIDB, d.SimilarityScore, d.Reason); err != nil {
					return err
				}
			}
		}
	}

	if rg.config.IncludeAnomalies {
		sw, err := sheet(SheetAnomalies)
		if err != nil {
			return err
		}
		if err := sw.writeHeader("Perspective", "Transaction_ID", "Severity", "Reasons"); err != nil {
			return err
		}
		for _, rec := range report.Records {
			for _, a := range rec.Anomalies {
				if err := sw.writeRow(string(rec.PerspectiveName), a.TransactionID, a.Severity.String(), joinReasons(a.Reasons)); err != nil {
					return err
				}
			}
		}
	}

	if rg.config.IncludeIssues {
		sw, err := sheet(SheetIssues)
		if err != nil {
			return err
		}
		if err := sw.writeHeader("Record_Type", "Record_ID", "Code", "Reason"); err != nil {
			return err
		}
		for _, issue := range report.Issues {
			if err := sw.writeRow(string(issue.RecordType), issue.RecordID, string(issue.Code), strings.TrimSpace(issue.Reason)); err != nil {
				return err
			}
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
