package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// ExitError reports a run that produced a report but must exit non-zero
type ExitError struct {
	Code        int
	Outcome     reconciler.Outcome
	FailedFeeds []string
}

func (e *ExitError) Error() string {
	if len(e.FailedFeeds) > 0 {
		return fmt.Sprintf("run finished %s, failed feeds: %s", e.Outcome, strings.Join(e.FailedFeeds, ", "))
	}
	return fmt.Sprintf("run finished %s", e.Outcome)
}

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return errors.ExitSuccess
	}

	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		fmt.Fprintf(h.out, "Warning: %v\n", exitErr)
		fmt.Fprintf(h.out, "The report was produced from the feeds that could be read.\n")
		return exitErr.Code
	}

	h.logger.WithError(err).Error("Command failed")

	// Handle ReconcilerError with detailed information
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	// Show underlying error in verbose mode
	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	// anything that reaches the CLI stopped the run before a report
	return errors.ExitFatal
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
	default:
		fmt.Fprintf(h.out, "Error: %v\n", err)
	}

	if h.verbose {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err)
	}
	return errors.ExitFatal
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and the --config file
• RECONCILER_ environment variables override the config file
• Use 'reconciler reconcile --help' to see all available options`

	case errors.CategoryExtraction:
		return `Extraction error help:
• Check that extraction.base_url points at the store's admin API
• Verify the access token and its read scopes for orders and transactions
• Retry later if the platform reported an outage or rate limiting`

	case errors.CategoryTransient:
		return `Transient error help:
• The platform did not answer in time or asked us to slow down
• Lower extraction.requests_per_second or retry the run later`

	case errors.CategoryDataQuality:
		return `Data quality help:
• Malformed records are excluded and listed in the report
• Check the exported files for missing ids, amounts and timestamps`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Run again with --verbose for the underlying error
• Report the run id and the error on the project repository`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return stderrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
