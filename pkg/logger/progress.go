package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks pages and records pulled for a single extraction feed.
// Each feed owns its own tracker, but the mutex keeps Stats safe to call from
// a reporting goroutine.
type ProgressTracker struct {
	logger      Logger
	operation   string
	pages       int64
	records     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.RWMutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithField(FieldOperation, config.Operation).Debug("Starting operation")
	return tracker
}

// AddPage records one fetched page holding n records.
func (p *ProgressTracker) AddPage(n int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.pages++
	p.records += int64(n)

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fieldsLocked(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.logger.WithFields(p.fieldsLocked(time.Now())).Info("Operation completed")
}

// CompleteWithError logs final statistics together with the failure
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.logger.WithError(err).WithFields(p.fieldsLocked(time.Now())).Error("Operation completed with error")
}

// Stats returns current progress statistics
func (p *ProgressTracker) Stats() ProgressStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	duration := time.Since(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.records) / duration.Seconds()
	}

	return ProgressStats{
		Operation: p.operation,
		Pages:     p.pages,
		Records:   p.records,
		Duration:  duration,
		Rate:      rate,
	}
}

func (p *ProgressTracker) fieldsLocked(now time.Time) Fields {
	duration := now.Sub(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.records) / duration.Seconds()
	}
	return Fields{
		FieldOperation: p.operation,
		"pages":        p.pages,
		"records":      p.records,
		"duration":     duration.String(),
		"rate":         fmt.Sprintf("%.2f/sec", rate),
	}
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation string        `json:"operation"`
	Pages     int64         `json:"pages"`
	Records   int64         `json:"records"`
	Duration  time.Duration `json:"duration"`
	Rate      float64       `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	return fmt.Sprintf("%s: %d records in %d pages at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Records, ps.Pages, ps.Rate, ps.Duration)
}

// OperationLogger provides structured logging for a multi-step operation with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField(FieldOperation, operation).Info("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string, extra Fields) {
	fields := ol.merged(Fields{"step": step})
	for k, v := range extra {
		fields[k] = v
	}
	ol.logger.WithFields(fields).Info("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	})).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	})).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.logger.WithFields(ol.merged(nil)).Warn(message)
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	fields := Fields{FieldOperation: ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}
