package extraction

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// CSVConfig holds configuration for CSV exports
type CSVConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultCSVConfig returns a configuration with sensible defaults
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Delimiter:        ',',
		Comment:          0,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
	}
}

// ParseError represents an error that occurred while reading an export
type ParseError struct {
	Line    int
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s): %s: %v", e.Line, e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s): %s", e.Line, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// csvReader turns a headed CSV export into raw records keyed by header
type csvReader struct {
	config *CSVConfig
	logger logger.Logger
}

func newCSVReader(config *CSVConfig, log logger.Logger) *csvReader {
	if config == nil {
		config = DefaultCSVConfig()
	}
	return &csvReader{config: config, logger: log}
}

// ReadAll reads every data row. Header names are trimmed and lower-cased.
func (cr *csvReader) ReadAll(r io.Reader) ([]models.RawRecord, error) {
	if cr.config.ValidateEncoding {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if err := cr.validateEncoding(data); err != nil {
			return nil, err
		}
		r = strings.NewReader(string(data))
	}

	reader := csv.NewReader(r)
	cr.configureReader(reader)

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &ParseError{Line: 1, Field: "headers", Message: "file is empty"}
		}
		return nil, &ParseError{Line: 1, Field: "headers", Message: "failed to read header row", Err: err}
	}
	headers = cleanHeaders(headers)

	var records []models.RawRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &ParseError{Line: line, Field: "row", Message: "failed to read record", Err: err}
		}

		if cr.config.SkipEmptyRows && isEmptyRecord(row) {
			cr.logger.WithField("line_number", line).Debug("Skipping empty record")
			continue
		}

		record := make(models.RawRecord, len(headers))
		for i, h := range headers {
			if i >= len(row) {
				break
			}
			value := strings.TrimSpace(row[i])
			if cr.config.MaxFieldSize > 0 && len(value) > cr.config.MaxFieldSize {
				return nil, &ParseError{
					Line:    line,
					Field:   h,
					Message: fmt.Sprintf("field exceeds maximum size of %d bytes", cr.config.MaxFieldSize),
				}
			}
			if value != "" {
				record[h] = value
			}
		}
		records = append(records, record)
	}

	return records, nil
}

// configureReader sets up the CSV reader with our configuration
func (cr *csvReader) configureReader(reader *csv.Reader) {
	reader.Comma = cr.config.Delimiter
	reader.Comment = cr.config.Comment
	reader.TrimLeadingSpace = cr.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // Variable number of fields
}

// validateEncoding checks that the first 100 lines are valid UTF-8
func (cr *csvReader) validateEncoding(data []byte) error {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), cr.config.MaxFieldSize+1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return &ParseError{Line: lineNum, Field: "encoding", Message: "invalid UTF-8 encoding detected"}
		}
	}

	return scanner.Err()
}

// cleanHeaders removes whitespace and normalizes header names
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	}
	return cleaned
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
