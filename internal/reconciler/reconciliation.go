package reconciler

import (
	"fmt"
	"time"

	"commerce-reconciliation-service/internal/anomaly"
	"commerce-reconciliation-service/internal/matcher"
	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/internal/perspective"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	Variance Thresholds
	Matching *matcher.Config
	Anomaly  *anomaly.Config

	// BufferDays widens the extraction window on both sides so that late
	// payments and early orders of neighbouring days are available
	BufferDays int

	// Location is the business timezone in which days are cut
	Location *time.Location
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Variance:   DefaultThresholds(),
		Matching:   matcher.DefaultConfig(),
		Anomaly:    anomaly.DefaultConfig(),
		BufferDays: 3,
		Location:   time.UTC,
	}
}

// Validate validates the configuration. Every failure is a fatal configuration error.
func (c *Config) Validate() error {
	if err := c.Variance.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "variance", c.Variance, err)
	}
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := c.Matching.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", c.Matching.String(), err)
	}
	if c.Anomaly == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "anomaly", nil, nil)
	}
	if err := c.Anomaly.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", nil, err)
	}
	if c.BufferDays < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "extraction.buffer_days", c.BufferDays,
			fmt.Errorf("buffer days cannot be negative"))
	}
	return nil
}

// CoreResult is the output of the deterministic core over one snapshot
type CoreResult struct {
	Records        []*models.ReconciliationRecord
	Comparisons    []models.CrossViewComparison
	DateMismatches []models.DateMismatch
}

// ReconciliationService runs perspective building, matching, duplicate
// detection, anomaly scoring and report generation over a snapshot. It is
// single-threaded and holds no per-run state.
type ReconciliationService struct {
	builder    *perspective.Builder
	engine     *matcher.MatchingEngine
	duplicates *matcher.DuplicateDetector
	scorer     *anomaly.Scorer
	generator  *Generator
	config     *Config
	logger     logger.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(config *Config, log logger.Logger) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	scorer, err := anomaly.NewScorer(config.Anomaly, log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", nil, err)
	}
	generator, err := NewGenerator(config.Variance, log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "variance", config.Variance, err)
	}

	return &ReconciliationService{
		builder:    perspective.NewBuilder(log),
		engine:     matcher.NewMatchingEngine(config.Matching, log),
		duplicates: matcher.NewDuplicateDetector(config.Matching.DuplicateWindow),
		scorer:     scorer,
		generator:  generator,
		config:     config,
		logger:     log.WithComponent("reconciliation_service"),
	}, nil
}

// Reconcile produces one record per requested perspective, in the order
// given, plus cross-view comparisons against the creation view and the date
// mismatches that explain them. issues are carried on every record.
func (rs *ReconciliationService) Reconcile(
	snap *models.Snapshot,
	dateRange models.DateRange,
	names []models.PerspectiveName,
	issues []errors.DataQualityIssue,
	partial bool,
) (*CoreResult, error) {

	views, err := rs.builder.BuildAll(snap, dateRange, names)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "perspectives", names, err)
	}

	result := &CoreResult{
		Records:        make([]*models.ReconciliationRecord, 0, len(views)),
		Comparisons:    []models.CrossViewComparison{},
		DateMismatches: perspective.DateMismatches(snap, dateRange),
	}
	if result.DateMismatches == nil {
		result.DateMismatches = []models.DateMismatch{}
	}

	for _, view := range views {
		matches := rs.engine.Match(view, snap)
		record := rs.generator.Generate(Inputs{
			Perspective: view,
			Matches:     matches,
			Duplicates:  rs.duplicates.DetectDuplicates(view.Transactions),
			Anomalies:   rs.scorer.ScoreAll(view.Transactions, matches),
			Issues:      issues,
			Partial:     partial,
		})
		result.Records = append(result.Records, record)
	}

	creation := -1
	for i, view := range views {
		if view.Name == models.PerspectiveCreation {
			creation = i
			break
		}
	}
	if creation >= 0 {
		for i, view := range views {
			if i == creation {
				continue
			}
			result.Comparisons = append(result.Comparisons,
				CompareViews(result.Records[creation], result.Records[i], views[creation], view))
		}
	}

	rs.logger.WithFields(logger.Fields{
		"range":       dateRange.String(),
		"records":     len(result.Records),
		"comparisons": len(result.Comparisons),
		"mismatches":  len(result.DateMismatches),
	}).Info("Reconciled snapshot")

	return result, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}
