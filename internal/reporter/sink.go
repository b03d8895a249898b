package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// FileSink renders completed reports to a file, or to stdout when no path is
// given. It implements reconciler.Sink.
type FileSink struct {
	*ReportGenerator
	path   string
	stdout io.Writer
	logger logger.Logger
}

// NewFileSink creates a sink that writes reports to path. An empty path or
// "-" writes to stdout.
func NewFileSink(config *ReportConfig, path string, log logger.Logger) (*FileSink, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"output.format",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	if path == "-" {
		path = ""
	}
	if path == "" && generator.config.Format == FormatXLSX {
		return nil, errors.ConfigurationError(
			errors.CodeMissingConfig,
			"output.file",
			nil,
			fmt.Errorf("xlsx reports need an output file"),
		)
	}

	return &FileSink{
		ReportGenerator: generator,
		path:            path,
		stdout:          os.Stdout,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// Publish renders the report and writes it to the sink's destination. When the
// destination file cannot be written, the report is saved to the temporary
// directory with a _backup suffix.
func (s *FileSink) Publish(ctx context.Context, report *reconciler.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report == nil {
		return errors.InternalError("report_generation", fmt.Errorf("report cannot be nil"))
	}

	s.logger.WithFields(logger.Fields{
		"format": s.config.Format,
		"output": s.destination(),
		"run_id": report.RunID,
	}).Info("Starting report generation")

	var buf bytes.Buffer
	if err := s.GenerateReport(report, &buf); err != nil {
		s.logger.WithError(err).Error("Report generation failed")
		return s.wrapGenerationError(err)
	}

	if s.path == "" {
		if _, err := s.stdout.Write(buf.Bytes()); err != nil {
			return s.wrapGenerationError(err)
		}
		return nil
	}

	err := writeFile(s.path, buf.Bytes())
	if err == nil {
		s.logger.WithField("file", s.path).Info("Report written")
		return nil
	}
	if !isFileError(err) {
		return s.wrapGenerationError(err)
	}

	return s.writeBackup(buf.Bytes(), err)
}

func (s *FileSink) writeBackup(data []byte, originalErr error) error {
	backupPath := generateBackupPath(s.path)

	s.logger.WithFields(logger.Fields{
		"original_file": s.path,
		"backup_file":   backupPath,
	}).WithError(originalErr).Warn("Attempting output fallback")

	if err := writeFile(backupPath, data); err != nil {
		return errors.InternalError(
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	s.logger.WithField("backup_file", backupPath).Warn("Report saved to backup location")
	return nil
}

func (s *FileSink) destination() string {
	if s.path == "" {
		return "stdout"
	}
	return "file:" + s.path
}

// wrapGenerationError wraps generation errors with context
func (s *FileSink) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.InternalError(
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

// writeFile replaces path atomically through a temporary file in the same directory
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

// generateBackupPath creates a backup file path under the temporary directory
func generateBackupPath(originalPath string) string {
	dir := os.TempDir()
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
