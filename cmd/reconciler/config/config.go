// Package config loads and validates the reconciler's application settings
// and turns them into the configuration of each internal package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"commerce-reconciliation-service/internal/anomaly"
	"commerce-reconciliation-service/internal/extraction"
	"commerce-reconciliation-service/internal/fees"
	"commerce-reconciliation-service/internal/matcher"
	"commerce-reconciliation-service/internal/normalizer"
	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/internal/reporter"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Extraction sources
const (
	SourceREST = "rest"
	SourceFile = "file"
)

// MatchingConfig holds the fuzzy matching tolerances
type MatchingConfig struct {
	AmountTolerancePct float64       `mapstructure:"amount_tolerance_pct" validate:"gte=0,lte=100"`
	AmountToleranceAbs float64       `mapstructure:"amount_tolerance_abs" validate:"gte=0"`
	TimeWindow         time.Duration `mapstructure:"time_window" validate:"gt=0"`
}

// DuplicatesConfig holds the duplicate detection window
type DuplicatesConfig struct {
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

// VarianceConfig holds the discrepancy thresholds; both bounds are inclusive
type VarianceConfig struct {
	AbsoluteThreshold float64 `mapstructure:"absolute_threshold" validate:"gt=0"`
	PercentThreshold  float64 `mapstructure:"percent_threshold" validate:"gt=0,lte=100"`
}

// PerspectiveConfig holds the business timezone days are cut in
type PerspectiveConfig struct {
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// ExtractionConfig selects and configures the record source
type ExtractionConfig struct {
	Source            string          `mapstructure:"source" validate:"oneof=rest file"`
	BaseURL           string          `mapstructure:"base_url" validate:"omitempty,url"`
	AccessToken       string          `mapstructure:"access_token"`
	TokenHeader       string          `mapstructure:"token_header" validate:"required"`
	PageSize          int             `mapstructure:"page_size" validate:"gte=1,lte=250"`
	PageTimeout       time.Duration   `mapstructure:"page_timeout" validate:"gt=0"`
	MaxAttempts       int             `mapstructure:"max_attempts" validate:"gte=1,lte=3"`
	RetryDelays       []time.Duration `mapstructure:"retry_delays" validate:"max=3,dive,gte=0"`
	BufferDays        int             `mapstructure:"buffer_days" validate:"gte=0,lte=31"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int             `mapstructure:"burst" validate:"gte=0"`
	OrdersFile        string          `mapstructure:"orders_file"`
	TransactionsFile  string          `mapstructure:"transactions_file"`
}

// OutputConfig selects the report format and destination
type OutputConfig struct {
	Format string `mapstructure:"format" validate:"oneof=console json csv xlsx"`
	File   string `mapstructure:"file"`
}

// StoreConfig points at the SQLite database; empty disables persistence
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// AppConfig is the complete application configuration
type AppConfig struct {
	Fees        *fees.Config      `mapstructure:"fees" validate:"required"`
	Matching    MatchingConfig    `mapstructure:"matching"`
	Duplicates  DuplicatesConfig  `mapstructure:"duplicates"`
	Anomaly     *anomaly.Config   `mapstructure:"anomaly" validate:"required"`
	Variance    VarianceConfig    `mapstructure:"variance"`
	Perspective PerspectiveConfig `mapstructure:"perspective"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Gateways    map[string]string `mapstructure:"gateways" validate:"dive,keys,required,endkeys,required"`
	Output      OutputConfig      `mapstructure:"output"`
	Log         logger.Config     `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
}

// Default returns the documented defaults
func Default() *AppConfig {
	matching := matcher.DefaultConfig()
	rest := extraction.DefaultRESTConfig("", "")
	retry := extraction.DefaultRetryPolicy()
	variance := reconciler.DefaultThresholds()

	return &AppConfig{
		Fees: fees.DefaultConfig(),
		Matching: MatchingConfig{
			AmountTolerancePct: matching.AmountTolerancePercent,
			AmountToleranceAbs: matching.AmountToleranceAbsolute,
			TimeWindow:         matching.TimeWindow,
		},
		Duplicates: DuplicatesConfig{Window: matching.DuplicateWindow},
		Anomaly:    anomaly.DefaultConfig(),
		Variance: VarianceConfig{
			AbsoluteThreshold: variance.Absolute.InexactFloat64(),
			PercentThreshold:  variance.Percent.InexactFloat64(),
		},
		Perspective: PerspectiveConfig{Timezone: "UTC"},
		Extraction: ExtractionConfig{
			Source:            SourceREST,
			TokenHeader:       rest.TokenHeader,
			PageSize:          rest.PageSize,
			PageTimeout:       retry.PageTimeout,
			MaxAttempts:       retry.MaxAttempts,
			RetryDelays:       retry.Delays,
			BufferDays:        reconciler.DefaultConfig().BufferDays,
			RequestsPerSecond: rest.RequestsPerSecond,
			Burst:             rest.Burst,
		},
		Gateways: normalizer.DefaultGatewayAliases(),
		Output:   OutputConfig{Format: string(reporter.FormatConsole)},
		Log:      *logger.DefaultConfig(),
	}
}

// SetDefaults registers the scalar defaults with v so that environment
// variables can override them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("matching.amount_tolerance_pct", d.Matching.AmountTolerancePct)
	v.SetDefault("matching.amount_tolerance_abs", d.Matching.AmountToleranceAbs)
	v.SetDefault("matching.time_window", d.Matching.TimeWindow)
	v.SetDefault("duplicates.window", d.Duplicates.Window)
	v.SetDefault("anomaly.high_value_threshold", d.Anomaly.HighValueThreshold)
	v.SetDefault("anomaly.critical_threshold", d.Anomaly.CriticalThreshold)
	v.SetDefault("variance.absolute_threshold", d.Variance.AbsoluteThreshold)
	v.SetDefault("variance.percent_threshold", d.Variance.PercentThreshold)
	v.SetDefault("perspective.timezone", d.Perspective.Timezone)
	v.SetDefault("fees.conversion_pct", d.Fees.ConversionPct)
	v.SetDefault("fees.vat_on_fees_pct", d.Fees.VATOnFeesPct)
	v.SetDefault("fees.destination_currency", d.Fees.DestinationCurrency)
	v.SetDefault("extraction.source", d.Extraction.Source)
	v.SetDefault("extraction.base_url", "")
	v.SetDefault("extraction.access_token", "")
	v.SetDefault("extraction.token_header", d.Extraction.TokenHeader)
	v.SetDefault("extraction.page_size", d.Extraction.PageSize)
	v.SetDefault("extraction.page_timeout", d.Extraction.PageTimeout)
	v.SetDefault("extraction.max_attempts", d.Extraction.MaxAttempts)
	v.SetDefault("extraction.retry_delays", d.Extraction.RetryDelays)
	v.SetDefault("extraction.buffer_days", d.Extraction.BufferDays)
	v.SetDefault("extraction.requests_per_second", d.Extraction.RequestsPerSecond)
	v.SetDefault("extraction.burst", d.Extraction.Burst)
	v.SetDefault("extraction.orders_file", "")
	v.SetDefault("extraction.transactions_file", "")
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.file", "")
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.output", string(d.Log.Output))
	v.SetDefault("store.path", "")
}

// Load decodes v over the defaults and validates the result
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err).
			WithSuggestion("Check the config file syntax and value types")
	}
	cfg.Gateways = lowerKeys(cfg.Gateways)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate runs the struct tag rules and then the semantic checks of each
// section. Every failure is a fatal configuration error.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return errors.ConfigurationError(errors.CodeInvalidConfig, settingName(fe.Namespace()), fe.Value(),
				fmt.Errorf("failed '%s' rule", fe.Tag()))
		}
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err)
	}

	if err := c.Fees.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "fees", nil, err)
	}
	if err := c.Anomaly.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", nil, err)
	}
	if _, err := c.Location(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "perspective.timezone", c.Perspective.Timezone, err)
	}
	for raw, key := range c.Gateways {
		if _, ok := c.Fees.Gateways[key]; !ok && c.Fees.Fallback == nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "gateways."+raw, key,
				fmt.Errorf("no fee rate configured for gateway '%s'", key))
		}
	}

	switch c.Extraction.Source {
	case SourceREST:
		if err := c.RESTConfig().Validate(); err != nil {
			return errors.ConfigurationError(errors.CodeMissingConfig, "extraction", nil, err).
				WithSuggestion("Set extraction.base_url and extraction.access_token, or use --source file")
		}
	case SourceFile:
		if c.Extraction.OrdersFile == "" || c.Extraction.TransactionsFile == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "extraction.orders_file", nil,
				fmt.Errorf("file source needs both an orders file and a transactions file"))
		}
	}

	if c.Output.Format == string(reporter.FormatXLSX) && c.Output.File == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "output.file", nil,
			fmt.Errorf("xlsx reports need an output file"))
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// settingName turns "AppConfig.Extraction.PageSize" into "extraction.pagesize"
func settingName(namespace string) string {
	namespace = strings.TrimPrefix(namespace, "AppConfig.")
	return strings.ToLower(namespace)
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Location loads the business timezone
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Perspective.Timezone)
}

// MatchingConfig builds the matcher configuration
func (c *AppConfig) MatchingConfig() *matcher.Config {
	return &matcher.Config{
		AmountTolerancePercent:  c.Matching.AmountTolerancePct,
		AmountToleranceAbsolute: c.Matching.AmountToleranceAbs,
		TimeWindow:              c.Matching.TimeWindow,
		DuplicateWindow:         c.Duplicates.Window,
	}
}

// ReconcilerConfig builds the reconciliation service configuration
func (c *AppConfig) ReconcilerConfig() (*reconciler.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return &reconciler.Config{
		Variance: reconciler.Thresholds{
			Absolute: decimal.NewFromFloat(c.Variance.AbsoluteThreshold),
			Percent:  decimal.NewFromFloat(c.Variance.PercentThreshold),
		},
		Matching:   c.MatchingConfig(),
		Anomaly:    c.Anomaly,
		BufferDays: c.Extraction.BufferDays,
		Location:   loc,
	}, nil
}

// NormalizerConfig builds the normalizer configuration
func (c *AppConfig) NormalizerConfig() (normalizer.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return normalizer.Config{}, err
	}
	cfg := normalizer.DefaultConfig()
	cfg.Location = loc
	cfg.GatewayAliases = c.Gateways
	cfg.DefaultCurrency = c.Fees.DestinationCurrency
	return cfg, nil
}

// RESTConfig builds the REST source configuration
func (c *AppConfig) RESTConfig() *extraction.RESTConfig {
	cfg := extraction.DefaultRESTConfig(c.Extraction.BaseURL, c.Extraction.AccessToken)
	cfg.TokenHeader = c.Extraction.TokenHeader
	cfg.PageSize = c.Extraction.PageSize
	cfg.RequestsPerSecond = c.Extraction.RequestsPerSecond
	cfg.Burst = c.Extraction.Burst
	return cfg
}

// RetryPolicy builds the retry schedule for page requests
func (c *AppConfig) RetryPolicy() *extraction.RetryPolicy {
	policy := extraction.DefaultRetryPolicy()
	policy.MaxAttempts = c.Extraction.MaxAttempts
	policy.Delays = append([]time.Duration(nil), c.Extraction.RetryDelays...)
	policy.PageTimeout = c.Extraction.PageTimeout
	return policy
}

// ReportConfig builds the report configuration for the configured format
func (c *AppConfig) ReportConfig() *reporter.ReportConfig {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(c.Output.Format)
	if cfg.Format == reporter.FormatConsole && c.Log.Level == logger.DebugLevel {
		cfg.MaxListItems = 0
	}
	return cfg
}
