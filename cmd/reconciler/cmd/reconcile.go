package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"commerce-reconciliation-service/cmd/reconciler/config"
	"commerce-reconciliation-service/internal/extraction"
	"commerce-reconciliation-service/internal/fees"
	"commerce-reconciliation-service/internal/normalizer"
	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/internal/reporter"
	"commerce-reconciliation-service/internal/store"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Flags for the reconcile command
var (
	runDate      string
	startDate    string
	endDate      string
	perspectives []string
	showProgress bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile orders against payment transactions for a day or a date range",
	Long: `Reconcile pulls orders and transactions for the requested days (plus a
buffer on each side), normalizes them, and produces one reconciliation record
per view together with cross-view comparisons and date mismatches.

Exit codes:
  0  every feed was read and the report was produced
  2  one feed failed; the report was produced and marked partial
  1  fatal error; no report was produced

Examples:
  # One business day from the platform API
  reconciler reconcile --date 2025-07-29

  # A month, written as a workbook and stored for review
  reconciler reconcile --start-date 2025-07-01 --end-date 2025-07-31 \
    --output-format xlsx --output-file july.xlsx --store records.db

  # Exported files, creation and processing views only
  reconciler reconcile --date 2025-07-29 --source file \
    --orders-file orders.json --transactions-file transactions.csv \
    --perspectives creation,processing --output-format json`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Date flags
	reconcileCmd.Flags().StringVar(&runDate, "date", "", "business day to reconcile (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&startDate, "start-date", "", "first day of the range (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&endDate, "end-date", "", "last day of the range, inclusive (YYYY-MM-DD)")
	reconcileCmd.Flags().StringSliceVarP(&perspectives, "perspectives", "p", nil, "views to build: creation, processing, hybrid (default all)")

	// Source flags
	reconcileCmd.Flags().String("source", config.SourceREST, "record source: rest or file")
	reconcileCmd.Flags().String("orders-file", "", "orders export (json, ndjson or csv) for --source file")
	reconcileCmd.Flags().String("transactions-file", "", "transactions export (json, ndjson or csv) for --source file")

	// Output flags
	reconcileCmd.Flags().StringP("output-format", "f", string(reporter.FormatConsole), "output format: console, json, csv, xlsx")
	reconcileCmd.Flags().StringP("output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().String("store", "", "SQLite database to store records in")

	// UI flags
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	// Bind flags to viper
	viper.BindPFlag("extraction.source", reconcileCmd.Flags().Lookup("source"))
	viper.BindPFlag("extraction.orders_file", reconcileCmd.Flags().Lookup("orders-file"))
	viper.BindPFlag("extraction.transactions_file", reconcileCmd.Flags().Lookup("transactions-file"))
	viper.BindPFlag("output.format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output.file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("store.path", reconcileCmd.Flags().Lookup("store"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	req := reconcileRequest()
	if _, err := req.DateRange(nil); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date", dateFlags(req), err).
			WithSuggestion("Use --date YYYY-MM-DD, or --start-date and --end-date together")
	}
	if _, err := req.PerspectiveNames(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "perspectives", perspectives, err)
	}

	if viper.GetString("extraction.source") == config.SourceFile {
		if err := validateFileExists(viper.GetString("extraction.orders_file"), "orders file"); err != nil {
			return errors.ConfigurationError(errors.CodeMissingConfig, "extraction.orders_file", nil, err)
		}
		if err := validateFileExists(viper.GetString("extraction.transactions_file"), "transactions file"); err != nil {
			return errors.ConfigurationError(errors.CodeMissingConfig, "extraction.transactions_file", nil, err)
		}
	}

	// Validate output file directory exists if specified
	if out := viper.GetString("output.file"); out != "" && out != "-" {
		dir := filepath.Dir(out)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.ConfigurationError(errors.CodeInvalidConfig, "output.file", out,
					fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}

	return nil
}

func reconcileRequest() *reconciler.Request {
	return &reconciler.Request{
		Date:         runDate,
		StartDate:    startDate,
		EndDate:      endDate,
		Perspectives: perspectives,
	}
}

func dateFlags(req *reconciler.Request) string {
	if req.Date != "" {
		return req.Date
	}
	return req.StartDate + ".." + req.EndDate
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAppConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress io.Writer
	if showProgress {
		progress = cmd.ErrOrStderr()
	}

	report, err := runReconciliation(ctx, cfg, log, reconcileRequest(), progress)
	outcome := reconciler.OutcomeFor(report, err)
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		printRunSummary(cmd.ErrOrStderr(), report)
	}

	if code := outcome.ExitCode(); code != errors.ExitSuccess {
		return &ExitError{Code: code, Outcome: outcome, FailedFeeds: report.FailedFeeds}
	}
	return nil
}

// runReconciliation wires the configured source, core and sinks and runs one request
func runReconciliation(ctx context.Context, cfg *config.AppConfig, log logger.Logger, req *reconciler.Request, progress io.Writer) (*reconciler.Report, error) {
	pipeline, closeSinks, err := buildPipeline(cfg, log)
	if err != nil {
		return nil, err
	}
	defer closeSinks()

	if progress != nil {
		pipeline.AddProgressCallback(func(p reconciler.Progress) {
			fmt.Fprintf(progress, "\r[%d/%d] %-24s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
			if p.CompletedSteps == p.TotalSteps {
				fmt.Fprintln(progress)
			}
		})
	}

	return pipeline.Run(ctx, req)
}

// buildPipeline assembles the pipeline. The returned func closes the sinks
// that hold resources.
func buildPipeline(cfg *config.AppConfig, log logger.Logger) (*reconciler.Pipeline, func(), error) {
	noop := func() {}

	estimator, err := fees.NewEstimator(cfg.Fees)
	if err != nil {
		return nil, noop, errors.ConfigurationError(errors.CodeInvalidConfig, "fees", nil, err)
	}

	normConfig, err := cfg.NormalizerConfig()
	if err != nil {
		return nil, noop, errors.ConfigurationError(errors.CodeInvalidConfig, "perspective.timezone", cfg.Perspective.Timezone, err)
	}
	norm := normalizer.New(normConfig, estimator, log)

	recConfig, err := cfg.ReconcilerConfig()
	if err != nil {
		return nil, noop, errors.ConfigurationError(errors.CodeInvalidConfig, "perspective.timezone", cfg.Perspective.Timezone, err)
	}
	service, err := reconciler.NewReconciliationService(recConfig, log)
	if err != nil {
		return nil, noop, err
	}

	source, err := newSource(cfg, log)
	if err != nil {
		return nil, noop, err
	}
	fetcher := extraction.NewFetcher(source, cfg.RetryPolicy(), log)

	pipeline := reconciler.NewPipeline(fetcher, norm, service, log)

	sink, err := reporter.NewFileSink(cfg.ReportConfig(), cfg.Output.File, log)
	if err != nil {
		return nil, noop, err
	}
	pipeline.AddSink(sink)

	closeSinks := noop
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return nil, noop, errors.ConfigurationError(errors.CodeInvalidConfig, "store.path", cfg.Store.Path, err)
		}
		pipeline.AddSink(db)
		closeSinks = func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Warn("Failed to close record store")
			}
		}
	}

	return pipeline, closeSinks, nil
}

func newSource(cfg *config.AppConfig, log logger.Logger) (extraction.Source, error) {
	switch cfg.Extraction.Source {
	case config.SourceFile:
		return extraction.NewFileSource(cfg.Extraction.OrdersFile, cfg.Extraction.TransactionsFile, log), nil
	default:
		src, err := extraction.NewRESTSource(cfg.RESTConfig(), log)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extraction", cfg.Extraction.BaseURL, err)
		}
		return src, nil
	}
}

func printRunSummary(w io.Writer, report *reconciler.Report) {
	fmt.Fprintf(w, "\nReconciliation %s finished: %s\n", report.RunID, report.Outcome)
	fmt.Fprintf(w, "Extracted %d orders and %d transactions, %d records excluded.\n",
		report.Stats.OrdersExtracted, report.Stats.TransactionsExtracted, report.Stats.Excluded)
	if n := len(report.Discrepancies()); n > 0 {
		fmt.Fprintf(w, "Detected %d views with discrepancies.\n", n)
	}
	fmt.Fprintf(w, "Processing time: %v\n", report.Stats.TotalTime)
}
