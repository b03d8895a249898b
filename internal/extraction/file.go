package extraction

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// FileSource serves exported feeds from local files. Each file is a single
// page. JSON arrays, JSON objects keyed by feed name, NDJSON and headed CSV
// are accepted; the format follows the file extension.
type FileSource struct {
	paths  map[Feed]string
	csv    *csvReader
	logger logger.Logger
}

// NewFileSource creates a file source. Feeds without a path fail on fetch.
func NewFileSource(ordersPath, transactionsPath string, log logger.Logger) *FileSource {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("file_source")
	return &FileSource{
		paths: map[Feed]string{
			FeedOrders:       ordersPath,
			FeedTransactions: transactionsPath,
		},
		csv:    newCSVReader(DefaultCSVConfig(), log),
		logger: log,
	}
}

// FetchPage implements Source
func (s *FileSource) FetchPage(ctx context.Context, feed Feed, window Window, cursor string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.paths[feed]
	if path == "" {
		return nil, &FetchError{Feed: feed, Err: fmt.Errorf("no file configured")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FetchError{Feed: feed, Err: err}
	}

	records, err := s.decode(feed, path, data)
	if err != nil {
		return nil, &FetchError{Feed: feed, Err: fmt.Errorf("%s: %w", path, err)}
	}

	s.logger.WithFields(logger.Fields{
		logger.FieldFeed: feed,
		"path":           path,
		"records":        len(records),
	}).Debug("Read export file")

	return &Page{Records: records}, nil
}

func (s *FileSource) decode(feed Feed, path string, data []byte) ([]models.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return s.csv.ReadAll(bytes.NewReader(data))
	case ".ndjson", ".jsonl":
		return decodeNDJSON(data)
	default:
		return decodeJSON(feed, data)
	}
}

func decodeJSON(feed Feed, data []byte) ([]models.RawRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var records []models.RawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return records, nil
	}

	var wrapped map[string][]models.RawRecord
	if err := dec.Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	records, ok := wrapped[string(feed)]
	if !ok {
		return nil, fmt.Errorf("JSON document has no '%s' key", feed)
	}
	return records, nil
}

func decodeNDJSON(data []byte) ([]models.RawRecord, error) {
	var records []models.RawRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var record models.RawRecord
		if err := dec.Decode(&record); err != nil {
			return nil, &ParseError{Line: line, Field: "record", Message: "invalid JSON", Err: err}
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}
