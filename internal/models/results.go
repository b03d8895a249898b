package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/pkg/errors"
)

// PerspectiveName identifies a grouping rule for the records of a run
type PerspectiveName string

const (
	PerspectiveCreation   PerspectiveName = "creation"
	PerspectiveProcessing PerspectiveName = "processing"
	PerspectiveHybrid     PerspectiveName = "hybrid"
)

// AllPerspectives lists every supported view in report order
var AllPerspectives = []PerspectiveName{PerspectiveCreation, PerspectiveProcessing, PerspectiveHybrid}

// ParsePerspectiveName validates a perspective name
func ParsePerspectiveName(s string) (PerspectiveName, error) {
	name := PerspectiveName(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range AllPerspectives {
		if p == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown perspective '%s': must be one of creation, processing, hybrid", s)
}

// Perspective is one view of the run's records. Orders and transactions are
// shared pointers into the snapshot and must not be mutated.
type Perspective struct {
	Name         PerspectiveName
	DateRange    DateRange
	Orders       []*Order
	Transactions []*Transaction
}

// MatchConfidence describes how an order and a transaction were paired
type MatchConfidence string

const (
	ConfidenceExact     MatchConfidence = "exact"
	ConfidenceFuzzy     MatchConfidence = "fuzzy"
	ConfidenceUnmatched MatchConfidence = "unmatched"
)

// MatchResult pairs an order with a transaction. Either side is empty for residuals.
type MatchResult struct {
	OrderID        string          `json:"order_id,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Confidence     MatchConfidence `json:"confidence"`
	VarianceAmount decimal.Decimal `json:"variance_amount"`
	Ambiguous      bool            `json:"ambiguous,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// IsMatched reports whether the result pairs an order with a transaction
func (m MatchResult) IsMatched() bool {
	return m.Confidence == ConfidenceExact || m.Confidence == ConfidenceFuzzy
}

// MatchSummary counts match results by outcome
type MatchSummary struct {
	Exact                 int `json:"exact"`
	Fuzzy                 int `json:"fuzzy"`
	Ambiguous             int `json:"ambiguous"`
	UnmatchedOrders       int `json:"unmatched_orders"`
	UnmatchedTransactions int `json:"unmatched_transactions"`
}

// Summarize counts a list of match results
func Summarize(results []MatchResult) MatchSummary {
	var s MatchSummary
	for _, r := range results {
		switch r.Confidence {
		case ConfidenceExact:
			s.Exact++
		case ConfidenceFuzzy:
			s.Fuzzy++
		case ConfidenceUnmatched:
			if r.OrderID != "" {
				s.UnmatchedOrders++
			} else {
				s.UnmatchedTransactions++
			}
		}
		if r.Ambiguous {
			s.Ambiguous++
		}
	}
	return s
}

// DuplicateCandidate flags two distinct transactions that look like the same payment
type DuplicateCandidate struct {
	TransactionIDA  string  `json:"transaction_id_a"`
	TransactionIDB  string  `json:"transaction_id_b"`
	SimilarityScore float64 `json:"similarity_score"`
	Reason          string  `json:"reason"`
}

// Severity is a total order over anomaly levels
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

// String returns the string representation of Severity
func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// Max returns the higher of two severities
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

// MarshalText implements encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("invalid severity '%s'", name)
}

// ReasonCode explains why an anomaly flag was raised
type ReasonCode string

const (
	ReasonCriticalValue   ReasonCode = "CRITICAL_VALUE"
	ReasonHighValue       ReasonCode = "HIGH_VALUE"
	ReasonHighRiskRoute   ReasonCode = "HIGH_RISK_ROUTE"
	ReasonFailedHighValue ReasonCode = "FAILED_HIGH_VALUE"
	ReasonUnmatched       ReasonCode = "UNMATCHED"
)

// AnomalyFlag is the risk classification of a single transaction
type AnomalyFlag struct {
	TransactionID string       `json:"transaction_id"`
	Severity      Severity     `json:"severity"`
	Reasons       []ReasonCode `json:"reasons"`
}

// ReconciliationStatus is the state of a persisted reconciliation record
type ReconciliationStatus string

const (
	StatusMatched       ReconciliationStatus = "matched"
	StatusDiscrepancy   ReconciliationStatus = "discrepancy"
	StatusInvestigating ReconciliationStatus = "investigating"
	StatusResolved      ReconciliationStatus = "resolved"
)

// CanTransitionTo reports whether a manual status change is allowed
func (s ReconciliationStatus) CanTransitionTo(next ReconciliationStatus) bool {
	switch s {
	case StatusDiscrepancy:
		return next == StatusInvestigating || next == StatusResolved
	case StatusInvestigating:
		return next == StatusResolved
	default:
		return false
	}
}

// GatewayBreakdown aggregates settled transactions for one gateway and method
type GatewayBreakdown struct {
	Gateway       string          `json:"gateway"`
	PaymentMethod string          `json:"payment_method"`
	Count         int             `json:"count"`
	Gross         decimal.Decimal `json:"gross"`
	Fees          decimal.Decimal `json:"fees"`
	Net           decimal.Decimal `json:"net"`
}

// PayoutSummary describes the expected deposit for a perspective's settled transactions
type PayoutSummary struct {
	GrossSales decimal.Decimal    `json:"gross_sales"`
	Refunds    decimal.Decimal    `json:"refunds"`
	NetSales   decimal.Decimal    `json:"net_sales"`
	Fees       decimal.Decimal    `json:"fees"`
	NetPayout  decimal.Decimal    `json:"net_payout"`
	ByGateway  []GatewayBreakdown `json:"by_gateway"`
}

// ReconciliationRecord is the per-perspective outcome of a run
type ReconciliationRecord struct {
	ID              string                    `json:"id"`
	PerspectiveName PerspectiveName           `json:"perspective_name"`
	DateRange       DateRange                 `json:"date_range"`
	ExpectedAmount  decimal.Decimal           `json:"expected_amount"`
	ActualAmount    decimal.Decimal           `json:"actual_amount"`
	Variance        decimal.Decimal           `json:"variance"`
	VariancePct     decimal.Decimal           `json:"variance_pct"`
	Status          ReconciliationStatus      `json:"status"`
	Partial         bool                      `json:"partial"`
	OrderIDs        []string                  `json:"order_ids"`
	TransactionIDs  []string                  `json:"transaction_ids"`
	Matches         MatchSummary              `json:"matches"`
	Payout          PayoutSummary             `json:"payout"`
	Duplicates      []DuplicateCandidate      `json:"duplicates"`
	Anomalies       []AnomalyFlag             `json:"anomalies"`
	Issues          []errors.DataQualityIssue `json:"data_quality_issues"`
}

// HasDiscrepancy reports whether the record needs attention
func (r *ReconciliationRecord) HasDiscrepancy() bool {
	return r.Status == StatusDiscrepancy || r.Status == StatusInvestigating
}

// CrossViewComparison contrasts the expected amount of one perspective with the
// actual amount of another for the same date range.
type CrossViewComparison struct {
	ExpectedView   PerspectiveName `json:"expected_view"`
	ActualView     PerspectiveName `json:"actual_view"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Variance       decimal.Decimal `json:"variance"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	LikelyCause    string          `json:"likely_cause"`
}

// DateMismatch labels a record that lands in one date view but not the other
type DateMismatch struct {
	Category      string          `json:"category"`
	OrderID       string          `json:"order_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderDay      string          `json:"order_day,omitempty"`
	ProcessedDay  string          `json:"processed_day,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// SortedIDs returns a sorted copy of ids with duplicates removed
func SortedIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
