package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents the failure classes a reconciliation run distinguishes.
type ErrorCategory string

const (
	// CategoryTransient covers network and rate-limit failures that are retried.
	CategoryTransient ErrorCategory = "transient"
	// CategoryDataQuality covers malformed records; the record is excluded and the run continues.
	CategoryDataQuality ErrorCategory = "data_quality"
	// CategoryConfiguration covers missing or invalid configuration. Always fatal.
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryExtraction covers feeds that stayed unavailable after retries.
	CategoryExtraction ErrorCategory = "extraction"
	// CategoryInternal covers bugs and unexpected states.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Transient errors
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeTimeout             ErrorCode = "timeout"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// Data-quality errors
	CodeMissingField        ErrorCode = "missing_field"
	CodeInvalidAmount       ErrorCode = "invalid_amount"
	CodeInvalidDate         ErrorCode = "invalid_date"
	CodeInvalidEnum         ErrorCode = "invalid_enum"
	CodeUnknownGateway      ErrorCode = "unknown_gateway"
	CodeMissingExchangeRate ErrorCode = "missing_exchange_rate"
	CodeDuplicateID         ErrorCode = "duplicate_id"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Extraction errors
	CodeFeedUnavailable  ErrorCode = "feed_unavailable"
	CodeFeedsUnavailable ErrorCode = "feeds_unavailable"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must abort the run before a report is produced.
func (e *ReconcilerError) IsFatal() bool {
	switch e.Category {
	case CategoryConfiguration, CategoryInternal:
		return true
	case CategoryExtraction:
		return e.Code == CodeFeedsUnavailable
	default:
		return false
	}
}

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// GetExitCode returns the process exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	if e.IsFatal() {
		return ExitFatal
	}
	return ExitPartial
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// TransientError creates a retryable extraction error.
func TransientError(code ErrorCode, endpoint string, err error) *ReconcilerError {
	var message string
	switch code {
	case CodeRateLimited:
		message = fmt.Sprintf("rate limited by %s", endpoint)
	case CodeTimeout:
		message = fmt.Sprintf("timeout fetching %s", endpoint)
	case CodeUpstreamUnavailable:
		message = fmt.Sprintf("upstream unavailable: %s", endpoint)
	default:
		message = fmt.Sprintf("transient failure: %s", endpoint)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryTransient, code, message)
	} else {
		result = New(CategoryTransient, code, message)
	}
	return result.WithContext("endpoint", endpoint)
}

// DataQualityError creates an error describing a record that must be excluded.
func DataQualityError(code ErrorCode, recordID, field string, value interface{}, err error) *ReconcilerError {
	var message string
	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid timestamp in field '%s': %v", field, value)
	case CodeInvalidEnum:
		message = fmt.Sprintf("unsupported value in field '%s': %v", field, value)
	case CodeUnknownGateway:
		message = fmt.Sprintf("no fee rate configured for gateway %v", value)
	case CodeMissingExchangeRate:
		message = fmt.Sprintf("no exchange rate available for %v", value)
	case CodeDuplicateID:
		message = fmt.Sprintf("duplicate record id %v", value)
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryDataQuality, code, message)
	} else {
		result = New(CategoryDataQuality, code, message)
	}
	return result.
		WithContext("record_id", recordID).
		WithContext("field", field)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting in the config file or as RECONCILER_ environment variable"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting)
}

// ExtractionError creates an error for a feed that could not be read.
// CodeFeedsUnavailable (both feeds down) is fatal; CodeFeedUnavailable marks a partial run.
func ExtractionError(code ErrorCode, feed string, err error) *ReconcilerError {
	var message string
	switch code {
	case CodeFeedsUnavailable:
		message = "both extraction feeds are unavailable"
	default:
		message = fmt.Sprintf("extraction feed %s unavailable after retries", feed)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryExtraction, code, message)
	} else {
		result = New(CategoryExtraction, code, message)
	}
	return result.
		WithSuggestion("check upstream availability and credentials, then re-run the same date range").
		WithContext("feed", feed)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}
	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// String returns a deterministic one-line description of the summary
func (es *ErrorSummary) String() string {
	if es.Total == 0 {
		return "no errors"
	}

	codes := make([]string, 0, len(es.ByCode))
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}
	sort.Strings(codes)

	return fmt.Sprintf("%d errors (%s)", es.Total, strings.Join(codes, ", "))
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsTransient reports whether err (or anything it wraps) is a transient failure.
func IsTransient(err error) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Category == CategoryTransient
	}
	return false
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.IsFatal()
	}
	return err != nil
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
