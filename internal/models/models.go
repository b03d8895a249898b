package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the closed set of transaction classifications. The zero
// value is not a valid kind; values are only produced by ParseTransactionKind.
type TransactionKind uint8

const (
	kindInvalid TransactionKind = iota
	// KindSale is a captured-at-checkout payment
	KindSale
	// KindRefund returns money to the customer; its gross amount is negative
	KindRefund
	// KindAuthorization reserves funds without moving them
	KindAuthorization
	// KindCapture settles a previous authorization
	KindCapture
	// KindVoid cancels an authorization
	KindVoid
)

var kindNames = [...]string{
	kindInvalid:       "invalid",
	KindSale:          "sale",
	KindRefund:        "refund",
	KindAuthorization: "authorization",
	KindCapture:       "capture",
	KindVoid:          "void",
}

// String returns the string representation of TransactionKind
func (k TransactionKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[kindInvalid]
}

// IsValid checks if the kind is one of the closed set
func (k TransactionKind) IsValid() bool {
	return k >= KindSale && k <= KindVoid
}

// MovesMoney reports whether a transaction of this kind changes the payout.
func (k TransactionKind) MovesMoney() bool {
	switch k {
	case KindSale, KindCapture, KindRefund:
		return true
	case KindAuthorization, KindVoid:
		return false
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler
func (k TransactionKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid transaction kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *TransactionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseTransactionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseTransactionKind parses and validates a transaction kind from string
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sale":
		return KindSale, nil
	case "refund":
		return KindRefund, nil
	case "authorization", "auth":
		return KindAuthorization, nil
	case "capture":
		return KindCapture, nil
	case "void":
		return KindVoid, nil
	default:
		return kindInvalid, fmt.Errorf("invalid transaction kind '%s'", s)
	}
}

// TransactionStatus is the processing state reported by the gateway
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "success"
	StatusPending TransactionStatus = "pending"
	StatusFailure TransactionStatus = "failure"
)

// ParseTransactionStatus parses a status, accepting the upstream "error" alias for failure
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusSuccess, nil
	case "pending":
		return StatusPending, nil
	case "failure", "failed", "error":
		return StatusFailure, nil
	default:
		return "", fmt.Errorf("invalid transaction status '%s'", s)
	}
}

// FinancialStatus is the payment state of an order
type FinancialStatus string

const (
	FinancialPending       FinancialStatus = "pending"
	FinancialPaid          FinancialStatus = "paid"
	FinancialPartiallyPaid FinancialStatus = "partially_paid"
	FinancialRefunded      FinancialStatus = "refunded"
	FinancialVoided        FinancialStatus = "voided"
)

// ParseFinancialStatus parses an order financial status
func ParseFinancialStatus(s string) (FinancialStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "authorized":
		return FinancialPending, nil
	case "paid":
		return FinancialPaid, nil
	case "partially_paid":
		return FinancialPartiallyPaid, nil
	case "refunded":
		return FinancialRefunded, nil
	case "voided":
		return FinancialVoided, nil
	default:
		return "", fmt.Errorf("invalid financial status '%s'", s)
	}
}

// Order represents a commerce order as extracted for a run
type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	CreatedAt       time.Time       `json:"created_at"`
	FinancialStatus FinancialStatus `json:"financial_status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	Currency        string          `json:"currency"`
}

// NetRevenue is the revenue the order is expected to produce: total minus
// refunds, and nothing for voided orders.
func (o *Order) NetRevenue() decimal.Decimal {
	if o.FinancialStatus == FinancialVoided {
		return decimal.Zero
	}
	return o.TotalPrice.Sub(o.TotalRefunded)
}

// Validate performs basic validation on the Order
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("order ID cannot be empty")
	}
	if o.CreatedAt.IsZero() {
		return fmt.Errorf("order created_at cannot be zero")
	}
	if o.TotalPrice.IsNegative() {
		return fmt.Errorf("order total cannot be negative: %s", o.TotalPrice)
	}
	if strings.TrimSpace(o.Currency) == "" {
		return fmt.Errorf("order currency cannot be empty")
	}
	return nil
}

// String returns a string representation of the Order
func (o *Order) String() string {
	return fmt.Sprintf("Order{ID: %s, Total: %s %s, Created: %s}",
		o.ID, o.TotalPrice.StringFixed(2), o.Currency, o.CreatedAt.Format(time.RFC3339))
}

// FeeBreakdown is the estimated cost of processing one transaction.
// Every component carries the sign of the gross amount.
type FeeBreakdown struct {
	ProcessingFee         decimal.Decimal     `json:"processing_fee"`
	CurrencyConversionFee decimal.Decimal     `json:"currency_conversion_fee"`
	VATOnFees             decimal.Decimal     `json:"vat_on_fees"`
	TotalFee              decimal.Decimal     `json:"total_fee"`
	NetAmount             decimal.Decimal     `json:"net_amount"`
	SettlementCurrency    string              `json:"settlement_currency,omitempty"`
	ExchangeRate          decimal.NullDecimal `json:"exchange_rate"`
	ConvertedNet          decimal.NullDecimal `json:"converted_net"`
}

// ZeroFees returns a breakdown with no fees for the given gross amount
func ZeroFees(gross decimal.Decimal) FeeBreakdown {
	return FeeBreakdown{
		ProcessingFee:         decimal.Zero,
		CurrencyConversionFee: decimal.Zero,
		VATOnFees:             decimal.Zero,
		TotalFee:              decimal.Zero,
		NetAmount:             gross,
	}
}

// Transaction represents a payment event reported by a gateway
type Transaction struct {
	ID            string              `json:"id"`
	OrderRef      string              `json:"order_ref,omitempty"`
	ParentID      string              `json:"parent_id,omitempty"`
	Kind          TransactionKind     `json:"kind"`
	Status        TransactionStatus   `json:"status"`
	Gateway       string              `json:"gateway"`
	PaymentMethod string              `json:"payment_method"`
	GrossAmount   decimal.Decimal     `json:"gross_amount"`
	Currency      string              `json:"currency"`
	ExchangeRate  decimal.NullDecimal `json:"exchange_rate"`
	CreatedAt     time.Time           `json:"created_at"`
	ProcessedAt   time.Time           `json:"processed_at"`
	Fees          FeeBreakdown        `json:"fees"`
}

// NetAmount returns gross minus estimated fees
func (t *Transaction) NetAmount() decimal.Decimal {
	return t.GrossAmount.Sub(t.Fees.TotalFee)
}

// HasOrderRef reports whether the transaction carries a reference to an order
func (t *Transaction) HasOrderRef() bool {
	return t.OrderRef != ""
}

// IsSettled reports whether the transaction moved money successfully
func (t *Transaction) IsSettled() bool {
	return t.Status == StatusSuccess && t.Kind.MovesMoney()
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid transaction kind: %s", t.Kind)
	}
	if t.ProcessedAt.IsZero() {
		return fmt.Errorf("transaction processed_at cannot be zero")
	}
	if t.Kind == KindRefund && t.GrossAmount.IsPositive() {
		return fmt.Errorf("refund %s must carry a negative amount", t.ID)
	}
	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Kind: %s, Status: %s, Gross: %s %s, Processed: %s}",
		t.ID, t.Kind, t.Status, t.GrossAmount.StringFixed(2), t.Currency, t.ProcessedAt.Format(time.RFC3339))
}

// DateRange is an inclusive range of calendar days in a business timezone.
type DateRange struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

const dateLayout = "2006-01-02"

// NewDateRange builds an inclusive day range. Start and end are truncated to
// midnight in loc; end before start is an error.
func NewDateRange(start, end time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := startOfDay(start, loc)
	e := startOfDay(end, loc)
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", e.Format(dateLayout), s.Format(dateLayout))
	}
	return DateRange{Start: s, End: e, Location: loc}, nil
}

// ParseDateRange parses YYYY-MM-DD bounds in loc
func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(dateLayout, strings.TrimSpace(start), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date '%s': %w", start, err)
	}
	e, err := time.ParseInLocation(dateLayout, strings.TrimSpace(end), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date '%s': %w", end, err)
	}
	return NewDateRange(s, e, loc)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Contains reports whether t falls on one of the range's days
func (r DateRange) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	day := startOfDay(t, r.loc())
	return !day.Before(r.Start) && !day.After(r.End)
}

// Day returns the calendar day of t in the range's timezone
func (r DateRange) Day(t time.Time) string {
	return t.In(r.loc()).Format(dateLayout)
}

// Widen returns the half-open instant window [start-days, end+1+days) used for extraction
func (r DateRange) Widen(days int) (time.Time, time.Time) {
	return r.Start.AddDate(0, 0, -days), r.End.AddDate(0, 0, 1+days)
}

func (r DateRange) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// String returns "2006-01-02" for single days, "start..end" otherwise
func (r DateRange) String() string {
	if r.Start.Equal(r.End) {
		return r.Start.Format(dateLayout)
	}
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// MarshalJSON implements custom JSON marshaling for DateRange
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start    string `json:"start"`
		End      string `json:"end"`
		Timezone string `json:"timezone"`
	}{
		Start:    r.Start.Format(dateLayout),
		End:      r.End.Format(dateLayout),
		Timezone: r.loc().String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for DateRange
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var aux struct {
		Start    string `json:"start"`
		End      string `json:"end"`
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	loc := time.UTC
	if aux.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(aux.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", aux.Timezone, err)
		}
	}
	parsed, err := ParseDateRange(aux.Start, aux.End, loc)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Utility functions for type conversion and validation

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove common currency symbols and thousand separators
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time using the formats upstream
// exports are known to use. Values without an offset are read in loc.
func ParseTimeWithFormats(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.ParseInLocation(format, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// NormalizeOrderRef reduces the reference forms seen upstream
// ("gid://shopify/Order/123", "order_123", "#123", " 123 ") to the bare id.
// Blank input yields "".
func NormalizeOrderRef(ref string) string {
	normalized := strings.TrimSpace(ref)
	if normalized == "" {
		return ""
	}

	if i := strings.LastIndex(normalized, "/"); i >= 0 {
		normalized = normalized[i+1:]
	}

	lower := strings.ToLower(normalized)
	for _, prefix := range []string{"order_", "order-", "order", "#"} {
		if strings.HasPrefix(lower, prefix) {
			normalized = normalized[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(normalized)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// AbsDuration returns the absolute distance between two instants
func AbsDuration(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
