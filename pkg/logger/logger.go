package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger every package receives through its constructor
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
	WithRun(runID string) Logger
}

// Fields are structured key/value pairs attached to a log line
type Fields map[string]interface{}

// Field keys shared by every package so log lines of one run can be joined.
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldRunID       = "run_id"
	FieldFeed        = "feed"
	FieldPerspective = "perspective"
	FieldRecordID    = "record_id"
)

// Config is the log section of the application config
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`
}

// Level represents log levels
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format represents log output formats
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output represents log output destinations
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// logrusLogger embeds an entry so fields survive chained With* calls. The level
// methods come from the entry; the With* methods are redeclared to return Logger.
type logrusLogger struct {
	*logrus.Entry
}

// NewLogger builds a logger writing to the configured output. A nil config
// means DefaultConfig.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}

	w, err := openOutput(config)
	if err != nil {
		return nil, fmt.Errorf("logger output %s: %w", config.Output, err)
	}
	return build(config, w)
}

// NewWithWriter builds a logger writing to w regardless of config.Output.
func NewWithWriter(config *Config, w io.Writer) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}
	return build(config, w)
}

func build(config *Config, w io.Writer) (Logger, error) {
	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetLevel(level)
	base.SetOutput(w)
	base.SetFormatter(formatterFor(config))
	base.SetReportCaller(config.CallerInfo)

	return &logrusLogger{Entry: logrus.NewEntry(base)}, nil
}

// DefaultConfig is info-level text on stderr
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// DebugConfig is DefaultConfig at debug level with caller locations
func DebugConfig() *Config {
	cfg := DefaultConfig()
	cfg.Level = DebugLevel
	cfg.CallerInfo = true
	return cfg
}

var (
	validLevels  = map[Level]bool{DebugLevel: true, InfoLevel: true, WarnLevel: true, ErrorLevel: true}
	validFormats = map[Format]bool{JSONFormat: true, TextFormat: true}
	validOutputs = map[Output]bool{StdoutOutput: true, StderrOutput: true, FileOutput: true}
)

// Validate checks the configuration. Level and format are matched case-insensitively
// and "warning" is accepted for warn, so values from env vars work as typed.
func (c *Config) Validate() error {
	c.Level = Level(strings.ToLower(strings.TrimSpace(string(c.Level))))
	if c.Level == "warning" {
		c.Level = WarnLevel
	}
	c.Format = Format(strings.ToLower(strings.TrimSpace(string(c.Format))))

	switch {
	case !validLevels[c.Level]:
		return fmt.Errorf("unknown level %q", c.Level)
	case !validFormats[c.Format]:
		return fmt.Errorf("unknown format %q", c.Format)
	case !validOutputs[c.Output]:
		return fmt.Errorf("unknown output %q", c.Output)
	case c.Output == FileOutput && strings.TrimSpace(c.File) == "":
		return fmt.Errorf("output %q needs a file path", FileOutput)
	}
	return nil
}

func openOutput(config *Config) (io.Writer, error) {
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, err
		}
		return os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	default:
		return os.Stderr, nil
	}
}

// callerLocation renders file:line; JSON output also keeps the function name.
func callerLocation(withFunc bool) func(*runtime.Frame) (string, string) {
	return func(f *runtime.Frame) (string, string) {
		location := fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		if withFunc {
			return f.Function, location
		}
		return "", location
	}
}

func formatterFor(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339Nano,
			CallerPrettyfier: callerLocation(true),
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		FullTimestamp:    !config.DisableTimestamp,
		TimestampFormat:  time.DateTime,
		CallerPrettyfier: callerLocation(false),
	}
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField(FieldComponent, component)
}

func (l *logrusLogger) WithRun(runID string) Logger {
	return l.WithField(FieldRunID, runID)
}

// globalLogger wraps the logrus standard logger until the CLI installs the
// configured one.
var globalLogger Logger = &logrusLogger{Entry: logrus.NewEntry(logrus.StandardLogger())}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(l Logger) {
	globalLogger = l
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() Logger {
	return globalLogger
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() Logger {
	l, _ := NewWithWriter(&Config{Level: ErrorLevel, Format: TextFormat, Output: StderrOutput}, io.Discard)
	return l
}

// WithComponent tags the global logger with a component name
func WithComponent(component string) Logger {
	return globalLogger.WithComponent(component)
}
