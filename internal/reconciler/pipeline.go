// Package reconciler runs reconciliation for a date range.
//
// The Pipeline coordinates the whole run:
//   - request validation
//   - concurrent extraction of the order and transaction feeds
//   - normalization into an immutable snapshot
//   - the deterministic core (perspectives, matching, duplicates, anomalies)
//   - report emission to the configured sinks
//
// Everything after extraction is single-threaded and side-effect free; the
// report is handed to sinks only once the full run has completed.
//
// Example usage:
//
//	pipeline := reconciler.NewPipeline(fetcher, norm, service, logger.GetGlobalLogger())
//	pipeline.AddSink(jsonSink)
//
//	report, err := pipeline.Run(ctx, &reconciler.Request{Date: "2025-07-29"})
//	os.Exit(reconciler.OutcomeFor(report, err).ExitCode())
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"commerce-reconciliation-service/internal/extraction"
	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/internal/normalizer"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Outcome classifies a finished run for the invoking collaborator
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFatal   Outcome = "fatal"
)

// ExitCode maps the outcome to a process exit code
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return errors.ExitSuccess
	case OutcomePartial:
		return errors.ExitPartial
	default:
		return errors.ExitFatal
	}
}

// OutcomeFor derives the outcome of a run from its report and error
func OutcomeFor(report *Report, err error) Outcome {
	if err != nil || report == nil {
		return OutcomeFatal
	}
	return report.Outcome
}

// Request describes one run. Either Date or both StartDate and EndDate are set.
type Request struct {
	Date         string
	StartDate    string
	EndDate      string
	Perspectives []string
}

// DateRange resolves the request's days in loc
func (r *Request) DateRange(loc *time.Location) (models.DateRange, error) {
	switch {
	case r.Date != "" && (r.StartDate != "" || r.EndDate != ""):
		return models.DateRange{}, fmt.Errorf("date cannot be combined with start/end dates")
	case r.Date != "":
		return models.ParseDateRange(r.Date, r.Date, loc)
	case r.StartDate != "" && r.EndDate != "":
		return models.ParseDateRange(r.StartDate, r.EndDate, loc)
	case r.StartDate != "" || r.EndDate != "":
		return models.DateRange{}, fmt.Errorf("both start and end dates are required")
	default:
		return models.DateRange{}, fmt.Errorf("a date or a start/end date range is required")
	}
}

// PerspectiveNames parses the requested views. Empty means all views;
// repeated names are kept once.
func (r *Request) PerspectiveNames() ([]models.PerspectiveName, error) {
	if len(r.Perspectives) == 0 {
		return append([]models.PerspectiveName(nil), models.AllPerspectives...), nil
	}

	seen := make(map[models.PerspectiveName]struct{}, len(r.Perspectives))
	names := make([]models.PerspectiveName, 0, len(r.Perspectives))
	for _, raw := range r.Perspectives {
		name, err := models.ParsePerspectiveName(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// Report is the envelope handed to sinks once a run completes
type Report struct {
	RunID          string                         `json:"run_id"`
	GeneratedAt    time.Time                      `json:"generated_at"`
	DateRange      models.DateRange               `json:"date_range"`
	Outcome        Outcome                        `json:"outcome"`
	Partial        bool                           `json:"partial"`
	FailedFeeds    []string                       `json:"failed_feeds,omitempty"`
	Records        []*models.ReconciliationRecord `json:"records"`
	Comparisons    []models.CrossViewComparison   `json:"comparisons"`
	DateMismatches []models.DateMismatch          `json:"date_mismatches"`
	Issues         []errors.DataQualityIssue      `json:"data_quality_issues"`
	Stats          RunStats                       `json:"stats"`
}

// Discrepancies returns the records that need attention
func (r *Report) Discrepancies() []*models.ReconciliationRecord {
	var out []*models.ReconciliationRecord
	for _, rec := range r.Records {
		if rec.HasDiscrepancy() {
			out = append(out, rec)
		}
	}
	return out
}

// RunStats contains run processing statistics
type RunStats struct {
	OrdersExtracted        int           `json:"orders_extracted"`
	TransactionsExtracted  int           `json:"transactions_extracted"`
	OrdersNormalized       int           `json:"orders_normalized"`
	TransactionsNormalized int           `json:"transactions_normalized"`
	Excluded               int           `json:"excluded"`
	ExtractionTime         time.Duration `json:"extraction_time"`
	TotalTime              time.Duration `json:"total_time"`
}

// Sink receives completed reports
type Sink interface {
	Publish(ctx context.Context, report *Report) error
}

// Extractor pulls both feeds for a window
type Extractor interface {
	Fetch(ctx context.Context, window extraction.Window) (*extraction.Result, error)
}

// Progress tracks the steps of a run
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called to report run progress
type ProgressCallback func(Progress)

const totalSteps = 5

// Pipeline runs extraction, normalization, the core and report emission
type Pipeline struct {
	extractor  Extractor
	normalizer *normalizer.Normalizer
	service    *ReconciliationService
	sinks      []Sink
	logger     logger.Logger

	// now and newRunID are replaced in tests
	now      func() time.Time
	newRunID func() string

	progressCallbacks []ProgressCallback
	progressMutex     sync.Mutex
}

// NewPipeline creates a pipeline
func NewPipeline(extractor Extractor, norm *normalizer.Normalizer, service *ReconciliationService, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Pipeline{
		extractor:  extractor,
		normalizer: norm,
		service:    service,
		logger:     log.WithComponent("pipeline"),
		now:        time.Now,
		newRunID:   func() string { return uuid.New().String() },
	}
}

// AddSink registers a report sink. Sinks publish in registration order.
func (p *Pipeline) AddSink(sink Sink) {
	p.sinks = append(p.sinks, sink)
}

// AddProgressCallback adds a progress callback function
func (p *Pipeline) AddProgressCallback(callback ProgressCallback) {
	p.progressCallbacks = append(p.progressCallbacks, callback)
}

// Run performs a complete reconciliation. A nil error means a report was
// produced and published; its Outcome is success or partial. Any error is
// fatal and no report is published.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Report, error) {
	start := p.now()
	cfg := p.service.GetConfiguration()

	// Step 1: validate
	p.updateProgress("Validating request", 0, start)
	dateRange, names, err := p.validate(req, cfg.Location)
	if err != nil {
		p.logger.WithError(err).Error("Invalid reconciliation request")
		return nil, err
	}

	log := p.logger.WithFields(logger.Fields{
		"range":        dateRange.String(),
		"perspectives": names,
	})
	op := logger.NewOperationLogger("reconciliation_run", p.logger).
		WithField("range", dateRange.String()).
		WithField("perspectives", names)

	// Step 2: extract
	p.updateProgress("Extracting feeds", 1, start)
	windowStart, windowEnd := dateRange.Widen(cfg.BufferDays)
	extractStart := p.now()
	extracted, err := p.extractor.Fetch(ctx, extraction.Window{Start: windowStart, End: windowEnd})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Run cancelled during extraction")
			return nil, ctx.Err()
		}
		op.Error(err, "Extraction failed")
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "extraction failed")
	}
	extractionTime := p.now().Sub(extractStart)

	// Step 3: normalize
	p.updateProgress("Normalizing records", 2, start)
	normalized := p.normalizer.Normalize(extracted.Orders, extracted.Transactions)
	op.Step("normalized", logger.Fields{
		"orders":       len(normalized.Orders),
		"transactions": len(normalized.Transactions),
		"excluded":     len(normalized.Issues),
	})
	snap := models.NewSnapshot(normalized.Orders, normalized.Transactions)

	// Step 4: reconcile
	p.updateProgress("Reconciling perspectives", 3, start)
	core, err := p.service.Reconcile(snap, dateRange, names, normalized.Issues, extracted.Partial())
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		log.Warn("Run cancelled before report emission")
		return nil, err
	}

	report := &Report{
		RunID:          p.newRunID(),
		GeneratedAt:    p.now().UTC(),
		DateRange:      dateRange,
		Outcome:        OutcomeSuccess,
		Partial:        extracted.Partial(),
		FailedFeeds:    extracted.FailedFeeds(),
		Records:        core.Records,
		Comparisons:    core.Comparisons,
		DateMismatches: core.DateMismatches,
		Issues:         sortedIssues(normalized.Issues),
		Stats: RunStats{
			OrdersExtracted:        len(extracted.Orders),
			TransactionsExtracted:  len(extracted.Transactions),
			OrdersNormalized:       len(normalized.Orders),
			TransactionsNormalized: len(normalized.Transactions),
			Excluded:               len(normalized.Issues),
			ExtractionTime:         extractionTime,
		},
	}
	if report.Partial {
		report.Outcome = OutcomePartial
		for _, feed := range extracted.FailedFeeds() {
			log.WithField(logger.FieldFeed, feed).WithError(extracted.FeedErrors[extraction.Feed(feed)]).
				Warn("Report built without feed")
		}
	}
	report.Stats.TotalTime = p.now().Sub(start)

	// Step 5: publish
	p.updateProgress("Publishing report", 4, start)
	if err := p.publish(ctx, report); err != nil {
		return nil, err
	}

	p.updateProgress("Completed", totalSteps, start)
	op.WithField(logger.FieldRunID, report.RunID).
		WithField("outcome", report.Outcome).
		WithField("discrepancies", len(report.Discrepancies())).
		Success("Reconciliation run completed")

	return report, nil
}

func (p *Pipeline) validate(req *Request, loc *time.Location) (models.DateRange, []models.PerspectiveName, error) {
	if req == nil {
		return models.DateRange{}, nil, errors.ConfigurationError(errors.CodeMissingConfig, "request", nil, nil)
	}
	dateRange, err := req.DateRange(loc)
	if err != nil {
		return models.DateRange{}, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "date", dateArgs(req), err).
			WithSuggestion("use --date YYYY-MM-DD or --start-date and --end-date")
	}
	names, err := req.PerspectiveNames()
	if err != nil {
		return models.DateRange{}, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "perspectives",
			strings.Join(req.Perspectives, ","), err)
	}
	return dateRange, names, nil
}

// publish hands the report to each sink in registration order. A sink that
// has returned keeps what it wrote; cancellation stops the run before the
// next sink and the published count is logged.
func (p *Pipeline) publish(ctx context.Context, report *Report) error {
	for i, sink := range p.sinks {
		if err := ctx.Err(); err != nil {
			p.logger.WithRun(report.RunID).WithFields(logger.Fields{
				"published_sinks": i,
				"total_sinks":     len(p.sinks),
			}).Warn("Run cancelled during report emission")
			return err
		}
		if err := sink.Publish(ctx, report); err != nil {
			p.logger.WithRun(report.RunID).WithError(err).Error("Failed to publish report")
			return errors.InternalError("publish_report", err)
		}
	}
	return nil
}

func (p *Pipeline) updateProgress(step string, completed int, start time.Time) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	progress := Progress{
		TotalSteps:      totalSteps,
		CompletedSteps:  completed,
		CurrentStep:     step,
		PercentComplete: float64(completed) / float64(totalSteps) * 100,
		ElapsedTime:     p.now().Sub(start),
	}
	for _, callback := range p.progressCallbacks {
		callback(progress)
	}
}

func dateArgs(req *Request) string {
	if req.Date != "" {
		return req.Date
	}
	return req.StartDate + ".." + req.EndDate
}
