// Package reporter renders reconciliation reports for people and machines.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: the full report envelope for programmatic consumption
//   - CSV: one row per perspective record for spreadsheet tools
//   - XLSX: a workbook with one sheet per report section
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeComparisons    bool `json:"include_comparisons"`
	IncludeDateMismatches bool `json:"include_date_mismatches"`
	IncludeDuplicates     bool `json:"include_duplicates"`
	IncludeAnomalies      bool `json:"include_anomalies"`
	IncludeIssues         bool `json:"include_issues"`
	IncludeRunStats       bool `json:"include_run_stats"`

	// MaxListItems caps console lists; 0 prints everything
	MaxListItems int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                FormatConsole,
		IncludeComparisons:    true,
		IncludeDateMismatches: true,
		IncludeDuplicates:     true,
		IncludeAnomalies:      true,
		IncludeIssues:         true,
		IncludeRunStats:       true,
		MaxListItems:          10,
		CSVDelimiter:          ',',
		CSVHeaders:            true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport renders report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *reconciler.Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *reconciler.Report, writer io.Writer) error {
	ew := &errWriter{w: writer}

	ew.printf("RECONCILIATION REPORT\n")
	ew.printf("Run:       %s\n", report.RunID)
	ew.printf("Generated: %s\n", report.GeneratedAt.UTC().Format(time.RFC3339))
	ew.printf("Range:     %s (%s)\n", report.DateRange.String(), locationName(report.DateRange))
	ew.printf("Outcome:   %s\n", strings.ToUpper(string(report.Outcome)))
	if report.Partial {
		ew.printf("WARNING: partial run, failed feeds: %s\n", strings.Join(report.FailedFeeds, ", "))
	}
	ew.printf("\n")

	for _, rec := range report.Records {
		rg.printRecord(ew, rec)
	}

	if rg.config.IncludeComparisons && len(report.Comparisons) > 0 {
		ew.printf("=== CROSS-VIEW COMPARISONS ===\n")
		for _, c := range report.Comparisons {
			ew.printf("  %s expected %s vs %s actual %s: variance %s, pending %s, likely cause %s\n",
				c.ExpectedView, money(c.ExpectedAmount),
				c.ActualView, money(c.ActualAmount),
				money(c.Variance), money(c.PendingAmount), c.LikelyCause)
		}
		ew.printf("\n")
	}

	if rg.config.IncludeDateMismatches && len(report.DateMismatches) > 0 {
		ew.printf("=== DATE MISMATCHES (%d) ===\n", len(report.DateMismatches))
		rg.printList(ew, len(report.DateMismatches), func(i int) string {
			m := report.DateMismatches[i]
			return fmt.Sprintf("%s order=%s transaction=%s ordered=%s processed=%s amount=%s",
				m.Category, dash(m.OrderID), dash(m.TransactionID), dash(m.OrderDay), dash(m.ProcessedDay), money(m.Amount))
		})
		ew.printf("\n")
	}

	if rg.config.IncludeIssues && len(report.Issues) > 0 {
		ew.printf("=== DATA QUALITY ISSUES (%d excluded) ===\n", len(report.Issues))
		rg.printList(ew, len(report.Issues), func(i int) string {
			return report.Issues[i].String()
		})
		ew.printf("\n")
	}

	if rg.config.IncludeRunStats {
		s := report.Stats
		ew.printf("=== RUN STATISTICS ===\n")
		ew.printf("Orders:       %d extracted, %d normalized\n", s.OrdersExtracted, s.OrdersNormalized)
		ew.printf("Transactions: %d extracted, %d normalized\n", s.TransactionsExtracted, s.TransactionsNormalized)
		ew.printf("Excluded:     %d\n", s.Excluded)
		ew.printf("Extraction:   %v\n", s.ExtractionTime)
		ew.printf("Total:        %v\n", s.TotalTime)
	}

	return ew.err
}

func (rg *ReportGenerator) printRecord(ew *errWriter, rec *models.ReconciliationRecord) {
	ew.printf("=== %s VIEW ===\n", strings.ToUpper(string(rec.PerspectiveName)))
	ew.printf("Status:    %s", strings.ToUpper(string(rec.Status)))
	if rec.Partial {
		ew.printf(" (partial)")
	}
	ew.printf("\n")
	ew.printf("Expected:  %s\n", money(rec.ExpectedAmount))
	ew.printf("Actual:    %s\n", money(rec.ActualAmount))
	ew.printf("Variance:  %s (%s)\n", money(rec.Variance), percent(rec.VariancePct))
	ew.printf("Orders: %d  Transactions: %d\n", len(rec.OrderIDs), len(rec.TransactionIDs))

	m := rec.Matches
	ew.printf("Matches:   exact %d, fuzzy %d, ambiguous %d, unmatched orders %d, unmatched transactions %d\n",
		m.Exact, m.Fuzzy, m.Ambiguous, m.UnmatchedOrders, m.UnmatchedTransactions)

	p := rec.Payout
	ew.printf("Payout:    gross %s, refunds %s, fees %s, net %s\n",
		money(p.GrossSales), money(p.Refunds), money(p.Fees), money(p.NetPayout))
	for _, b := range p.ByGateway {
		ew.printf("  %-20s %-10s %4d  gross %12s  fees %10s  net %12s\n",
			b.Gateway, dash(b.PaymentMethod), b.Count, money(b.Gross), money(b.Fees), money(b.Net))
	}

	if rg.config.IncludeDuplicates && len(rec.Duplicates) > 0 {
		ew.printf("Possible duplicates (%d):\n", len(rec.Duplicates))
		rg.printList(ew, len(rec.Duplicates), func(i int) string {
			d := rec.Duplicates[i]
			return fmt.Sprintf("%s / %s score %.2f: %s", d.TransactionIDA, d.TransactionIDB, d.SimilarityScore, d.Reason)
		})
	}

	if rg.config.IncludeAnomalies && len(rec.Anomalies) > 0 {
		ew.printf("Anomalies (%d):\n", len(rec.Anomalies))
		rg.printList(ew, len(rec.Anomalies), func(i int) string {
			a := rec.Anomalies[i]
			return fmt.Sprintf("%s %s [%s]", strings.ToUpper(a.Severity.String()), a.TransactionID, joinReasons(a.Reasons))
		})
	}
	ew.printf("\n")
}

func (rg *ReportGenerator) printList(ew *errWriter, n int, line func(int) string) {
	for i := 0; i < n; i++ {
		if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
			ew.printf("  ... and %d more\n", n-i)
			return
		}
		ew.printf("  %d. %s\n", i+1, line(i))
	}
}

func (rg *ReportGenerator) generateJSONReport(report *reconciler.Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(report)
}

// csvHeaders are shared by the CSV and XLSX summary rows
var csvHeaders = []string{
	"Run_ID",
	"Perspective",
	"Date_Range",
	"Timezone",
	"Status",
	"Partial",
	"Expected_Amount",
	"Actual_Amount",
	"Variance",
	"Variance_Pct",
	"Exact_Matches",
	"Fuzzy_Matches",
	"Unmatched_Orders",
	"Unmatched_Transactions",
	"Gross_Sales",
	"Refunds",
	"Fees",
	"Net_Payout",
	"Duplicates",
	"Anomalies",
	"Data_Quality_Issues",
}

func recordRow(runID string, rec *models.ReconciliationRecord) []string {
	return []string{
		runID,
		string(rec.PerspectiveName),
		rec.DateRange.String(),
		locationName(rec.DateRange),
		string(rec.Status),
		strconv.FormatBool(rec.Partial),
		rec.ExpectedAmount.StringFixed(2),
		rec.ActualAmount.StringFixed(2),
		rec.Variance.StringFixed(2),
		rec.VariancePct.StringFixed(4),
		strconv.Itoa(rec.Matches.Exact),
		strconv.Itoa(rec.Matches.Fuzzy),
		strconv.Itoa(rec.Matches.UnmatchedOrders),
		strconv.Itoa(rec.Matches.UnmatchedTransactions),
		rec.Payout.GrossSales.StringFixed(2),
		rec.Payout.Refunds.StringFixed(2),
		rec.Payout.Fees.StringFixed(2),
		rec.Payout.NetPayout.StringFixed(2),
		strconv.Itoa(len(rec.Duplicates)),
		strconv.Itoa(len(rec.Anomalies)),
		strconv.Itoa(len(rec.Issues)),
	}
}

func (rg *ReportGenerator) generateCSVReport(report *reconciler.Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, rec := range report.Records {
		if err := csvWriter.Write(recordRow(report.RunID, rec)); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.PerspectiveName, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// errWriter keeps the first write error so console output can be written
// without checking every Fprintf.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func percent(fraction decimal.Decimal) string {
	return fraction.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func locationName(r models.DateRange) string {
	if r.Location == nil {
		return "UTC"
	}
	return r.Location.String()
}

func joinReasons(reasons []models.ReasonCode) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
