package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "default", config: *DefaultConfig()},
		{name: "debug", config: *DebugConfig()},
		{name: "bad level", config: Config{Level: "trace", Format: TextFormat, Output: StderrOutput}, wantErr: true},
		{name: "bad format", config: Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, wantErr: true},
		{name: "file without path", config: Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, wantErr: true},
		{name: "unknown output", config: Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)
	require.NoError(t, err)

	log.WithComponent("fetcher").
		WithFields(Fields{"feed": "orders", "pages": 3}).
		WithError(errors.New("status 503")).
		Warn("Transient failure, retrying")
	log.Debug("dropped below info")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "Transient failure, retrying", entry["msg"])
	assert.Equal(t, "fetcher", entry["component"])
	assert.Equal(t, "orders", entry["feed"])
	assert.Equal(t, float64(3), entry["pages"])
	assert.Equal(t, "status 503", entry["error"])
	assert.NotContains(t, entry, "time")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reconciler.log")
	log, err := NewLogger(&Config{Level: DebugLevel, Format: TextFormat, Output: FileOutput, File: path})
	require.NoError(t, err)

	log.Infof("stored %d records", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stored 3 records")
}

func TestOperationLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)
	require.NoError(t, err)

	op := NewOperationLogger("reconciliation_run", log).WithField("range", "2025-07-29")
	op.Step("normalized", Fields{"excluded": 1})
	op.WithField("run_id", "run-1").Success("Reconciliation run completed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "Starting operation", lines[0]["msg"])
	assert.Equal(t, "normalized", lines[1]["step"])
	assert.Equal(t, "2025-07-29", lines[1]["range"])
	assert.Equal(t, float64(1), lines[1]["excluded"])
	assert.Equal(t, "success", lines[2]["status"])
	assert.Equal(t, "run-1", lines[2]["run_id"])
	assert.Equal(t, "reconciliation_run", lines[2]["operation"])
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "extract_orders", Logger: Discard()})
	tracker.AddPage(250)
	tracker.AddPage(12)
	tracker.Complete()

	stats := tracker.Stats()
	assert.Equal(t, "extract_orders", stats.Operation)
	assert.Equal(t, int64(2), stats.Pages)
	assert.Equal(t, int64(262), stats.Records)
	assert.Contains(t, stats.String(), "262 records in 2 pages")
}

func TestGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StderrOutput}, &buf)
	require.NoError(t, err)
	SetGlobalLogger(log)

	WithComponent("cli").Info("hello")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "cli", lines[0]["component"])
}

func TestValidateNormalizesLevel(t *testing.T) {
	cfg := Config{Level: "WARNING", Format: "JSON", Output: StderrOutput}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, WarnLevel, cfg.Level)
	assert.Equal(t, JSONFormat, cfg.Format)
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: InfoLevel, Format: JSONFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)
	require.NoError(t, err)

	log.WithRun("run-7").WithField(FieldFeed, "orders").Info("Feed read")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-7", lines[0][FieldRunID])
	assert.Equal(t, "orders", lines[0][FieldFeed])
}
