// Package matcher correlates orders with payment transactions and flags
// transactions that look like re-submissions of the same payment.
//
// Matching runs in two passes over a perspective:
//  1. Exact: a transaction whose order reference (a refund's is taken from
//     its parent sale) resolves to an order in the perspective
//  2. Fuzzy: orders left without an exact transaction are paired with
//     unreferenced sales by amount and time proximity
//
// Whatever is left is returned as unmatched residuals. Ambiguous fuzzy
// matches are flagged on the result rather than dropped.
//
// Example usage:
//
//	cfg := matcher.DefaultConfig()
//	cfg.TimeWindow = 48 * time.Hour
//
//	m := matcher.NewMatchingEngine(cfg, log)
//	set := m.Match(perspective, snapshot)
//	summary := set.Summary()
package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the tolerances used for matching and duplicate detection
type Config struct {
	// AmountTolerancePercent is the fuzzy amount tolerance as a percent of the order total
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_pct" validate:"gte=0,lte=100"`

	// AmountToleranceAbsolute is the minimum fuzzy amount tolerance; the larger of the two applies
	AmountToleranceAbsolute float64 `json:"amount_tolerance_absolute" mapstructure:"amount_tolerance_abs" validate:"gte=0"`

	// TimeWindow bounds |processed_at - created_at| for fuzzy candidates
	TimeWindow time.Duration `json:"time_window" mapstructure:"time_window" validate:"gt=0"`

	// DuplicateWindow is the processed_at distance below which same-bucket
	// transactions are duplicate candidates
	DuplicateWindow time.Duration `json:"duplicate_window" mapstructure:"duplicate_window" validate:"gt=0"`
}

// DefaultConfig returns 1% or 0.01 (whichever is larger), a ±72h window and a 5 minute duplicate window
func DefaultConfig() *Config {
	return &Config{
		AmountTolerancePercent:  1.0,
		AmountToleranceAbsolute: 0.01,
		TimeWindow:              72 * time.Hour,
		DuplicateWindow:         5 * time.Minute,
	}
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	if c.AmountTolerancePercent < 0.0 || c.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", c.AmountTolerancePercent)
	}

	if c.AmountToleranceAbsolute < 0.0 {
		return fmt.Errorf("absolute amount tolerance cannot be negative: %f", c.AmountToleranceAbsolute)
	}

	if c.TimeWindow <= 0 {
		return fmt.Errorf("time window must be positive: %s", c.TimeWindow)
	}

	if c.DuplicateWindow <= 0 {
		return fmt.Errorf("duplicate window must be positive: %s", c.DuplicateWindow)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// AmountTolerance returns max(pct × |amount|, absolute), rounded to cents
func (c *Config) AmountTolerance(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Abs().Mul(decimal.NewFromFloat(c.AmountTolerancePercent)).Div(decimal.NewFromInt(100))
	abs := decimal.NewFromFloat(c.AmountToleranceAbsolute)
	return decimal.Max(pct, abs).Round(2)
}

// IsWithinTimeWindow checks if two instants are within the fuzzy window (inclusive)
func (c *Config) IsWithinTimeWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= c.TimeWindow
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("MatcherConfig{AmountTolerance: max(%.2f%%, %.2f), TimeWindow: %s, DuplicateWindow: %s}",
		c.AmountTolerancePercent, c.AmountToleranceAbsolute, c.TimeWindow, c.DuplicateWindow)
}
