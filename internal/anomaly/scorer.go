// Package anomaly classifies transactions by risk.
//
// Every rule that fires adds a reason code; the flag's severity is the
// highest severity among them. Thresholds and risky routes come from Config.
package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// AnyMethod matches every payment method of a route's gateway
const AnyMethod = "*"

// Route is a gateway and payment method combination
type Route struct {
	Gateway       string `json:"gateway" mapstructure:"gateway" validate:"required"`
	PaymentMethod string `json:"payment_method" mapstructure:"payment_method" validate:"required"`
}

func (r Route) String() string {
	return r.Gateway + "/" + r.PaymentMethod
}

// ParseRoute parses "gateway/method"
func ParseRoute(s string) (Route, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Route{}, fmt.Errorf("invalid route '%s': expected gateway/method", s)
	}
	return Route{Gateway: parts[0], PaymentMethod: parts[1]}, nil
}

// Config holds anomaly thresholds
type Config struct {
	HighValueThreshold float64 `json:"high_value_threshold" mapstructure:"high_value_threshold" validate:"gt=0"`
	CriticalThreshold  float64 `json:"critical_threshold" mapstructure:"critical_threshold" validate:"gtfield=HighValueThreshold"`
	HighRiskRoutes     []Route `json:"high_risk_routes" mapstructure:"high_risk_routes" validate:"dive"`
}

// DefaultConfig flags amounts above 500 as high and above 10,000 as critical
func DefaultConfig() *Config {
	return &Config{
		HighValueThreshold: 500,
		CriticalThreshold:  10000,
		HighRiskRoutes: []Route{
			{Gateway: "other", PaymentMethod: "manual"},
			{Gateway: "other", PaymentMethod: "cash_on_delivery"},
		},
	}
}

// Validate checks threshold ordering and route shape
func (c *Config) Validate() error {
	if c.HighValueThreshold <= 0 {
		return fmt.Errorf("high value threshold must be positive: %f", c.HighValueThreshold)
	}
	if c.CriticalThreshold <= c.HighValueThreshold {
		return fmt.Errorf("critical threshold %f must exceed high value threshold %f",
			c.CriticalThreshold, c.HighValueThreshold)
	}
	for _, r := range c.HighRiskRoutes {
		if r.Gateway == "" || r.PaymentMethod == "" {
			return fmt.Errorf("high risk route '%s' needs both gateway and payment method", r)
		}
	}
	return nil
}

// Scorer applies the rules to transactions
type Scorer struct {
	high     decimal.Decimal
	critical decimal.Decimal
	routes   map[Route]struct{}
	logger   logger.Logger
}

// NewScorer creates a scorer from a validated config
func NewScorer(cfg *Config, log logger.Logger) (*Scorer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Scorer{
		high:     decimal.NewFromFloat(cfg.HighValueThreshold),
		critical: decimal.NewFromFloat(cfg.CriticalThreshold),
		routes:   make(map[Route]struct{}, len(cfg.HighRiskRoutes)),
		logger:   log.WithComponent("anomaly"),
	}
	for _, r := range cfg.HighRiskRoutes {
		s.routes[r] = struct{}{}
	}
	return s, nil
}

// Score classifies one transaction. match is its match result in the
// perspective, or nil when matching was not run. Returns nil when no rule fires.
func (s *Scorer) Score(tx *models.Transaction, match *models.MatchResult) *models.AnomalyFlag {
	amount := tx.GrossAmount.Abs()
	severity := models.SeverityNone
	var reasons []models.ReasonCode

	raise := func(reason models.ReasonCode, level models.Severity) {
		reasons = append(reasons, reason)
		severity = severity.Max(level)
	}

	if amount.GreaterThan(s.critical) {
		raise(models.ReasonCriticalValue, models.SeverityCritical)
	}
	if amount.GreaterThan(s.high) {
		raise(models.ReasonHighValue, models.SeverityHigh)
	}
	if s.isHighRiskRoute(tx) {
		raise(models.ReasonHighRiskRoute, models.SeverityMedium)
	}
	if tx.Status == models.StatusFailure && amount.GreaterThan(s.high) {
		raise(models.ReasonFailedHighValue, models.SeverityMedium)
	}
	if match != nil && !match.IsMatched() {
		if amount.GreaterThan(s.high) {
			raise(models.ReasonUnmatched, models.SeverityMedium)
		} else {
			raise(models.ReasonUnmatched, models.SeverityLow)
		}
	}

	if len(reasons) == 0 {
		return nil
	}

	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return &models.AnomalyFlag{
		TransactionID: tx.ID,
		Severity:      severity,
		Reasons:       reasons,
	}
}

// MatchLookup finds the match result recorded for a transaction.
// *matcher.MatchSet satisfies it.
type MatchLookup interface {
	ResultFor(txID string) (models.MatchResult, bool)
}

// ScoreAll scores every transaction against its match result. A nil lookup
// scores without match context. Flags come back in transaction order
// (processed_at, id).
func (s *Scorer) ScoreAll(txs []*models.Transaction, matches MatchLookup) []models.AnomalyFlag {
	ordered := append([]*models.Transaction(nil), txs...)
	models.SortTransactions(ordered)

	var flags []models.AnomalyFlag
	for _, tx := range ordered {
		var match *models.MatchResult
		if matches != nil {
			if r, ok := matches.ResultFor(tx.ID); ok {
				match = &r
			}
		}
		if flag := s.Score(tx, match); flag != nil {
			flags = append(flags, *flag)
		}
	}

	s.logger.WithFields(logger.Fields{
		"transactions": len(txs),
		"flagged":      len(flags),
	}).Debug("Scored transactions")

	return flags
}

func (s *Scorer) isHighRiskRoute(tx *models.Transaction) bool {
	if _, ok := s.routes[Route{Gateway: tx.Gateway, PaymentMethod: tx.PaymentMethod}]; ok {
		return true
	}
	_, ok := s.routes[Route{Gateway: tx.Gateway, PaymentMethod: AnyMethod}]
	return ok
}
