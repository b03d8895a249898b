// Package normalizer converts raw extracted records into validated orders and
// transactions. Records that cannot be converted are excluded and reported as
// data-quality issues; they never abort a run.
package normalizer

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/fees"
	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Config controls how raw values are interpreted
type Config struct {
	// Location is used for timestamps without an offset
	Location *time.Location
	// GatewayAliases maps raw gateway names (lowercase) to fee gateway keys
	GatewayAliases map[string]string
	// DefaultCurrency applies to records that omit a currency
	DefaultCurrency string
}

// DefaultGatewayAliases maps the gateway names the platform reports to fee gateway keys
func DefaultGatewayAliases() map[string]string {
	return map[string]string{
		"shopify_payments": fees.GatewayPlatform,
		"paypal":           fees.GatewayExternalPayPal,
		"paypal_express":   fees.GatewayExternalPayPal,
		"manual":           fees.GatewayOther,
		"cash_on_delivery": fees.GatewayOther,
		"bank_deposit":     fees.GatewayOther,
	}
}

// DefaultConfig returns a configuration reading timestamps in UTC
func DefaultConfig() Config {
	return Config{
		Location:       time.UTC,
		GatewayAliases: DefaultGatewayAliases(),
	}
}

// Result holds the normalized records and every exclusion
type Result struct {
	Orders       []*models.Order
	Transactions []*models.Transaction
	Issues       []errors.DataQualityIssue
}

// Normalizer converts raw records. It holds no per-run state.
type Normalizer struct {
	config    Config
	estimator fees.Estimator
	logger    logger.Logger
}

// New creates a normalizer that attaches fee estimates from est
func New(cfg Config, est fees.Estimator, log logger.Logger) *Normalizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.GatewayAliases == nil {
		cfg.GatewayAliases = DefaultGatewayAliases()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Normalizer{
		config:    cfg,
		estimator: est,
		logger:    log.WithComponent("normalizer"),
	}
}

// Normalize converts both feeds. Repeated ids keep their first occurrence.
func (n *Normalizer) Normalize(rawOrders, rawTransactions []models.RawRecord) *Result {
	result := &Result{
		Orders:       make([]*models.Order, 0, len(rawOrders)),
		Transactions: make([]*models.Transaction, 0, len(rawTransactions)),
	}

	seenOrders := make(map[string]struct{}, len(rawOrders))
	for _, raw := range rawOrders {
		order, err := n.NormalizeOrder(raw)
		if err != nil {
			result.Issues = append(result.Issues, n.exclude(errors.RecordOrder, raw, err))
			continue
		}
		if _, dup := seenOrders[order.ID]; dup {
			result.Issues = append(result.Issues, n.exclude(errors.RecordOrder, raw,
				errors.DataQualityError(errors.CodeDuplicateID, order.ID, "id", order.ID, nil)))
			continue
		}
		seenOrders[order.ID] = struct{}{}
		result.Orders = append(result.Orders, order)
	}

	seenTx := make(map[string]struct{}, len(rawTransactions))
	for _, raw := range rawTransactions {
		tx, err := n.NormalizeTransaction(raw)
		if err != nil {
			result.Issues = append(result.Issues, n.exclude(errors.RecordTransaction, raw, err))
			continue
		}
		if _, dup := seenTx[tx.ID]; dup {
			result.Issues = append(result.Issues, n.exclude(errors.RecordTransaction, raw,
				errors.DataQualityError(errors.CodeDuplicateID, tx.ID, "id", tx.ID, nil)))
			continue
		}
		seenTx[tx.ID] = struct{}{}
		result.Transactions = append(result.Transactions, tx)
	}

	errors.SortIssues(result.Issues)

	n.logger.WithFields(logger.Fields{
		"orders":       len(result.Orders),
		"transactions": len(result.Transactions),
		"excluded":     len(result.Issues),
	}).Info("Normalized extracted records")

	return result
}

func (n *Normalizer) exclude(recordType errors.RecordType, raw models.RawRecord, err error) errors.DataQualityIssue {
	issue := errors.IssueFromError(recordType, raw.String("id"), err)
	n.logger.WithFields(logger.Fields{
		"record_type": recordType,
		"record_id":   issue.RecordID,
		"code":        issue.Code,
		"reason":      issue.Reason,
	}).Warn("Excluding record")
	return issue
}

// NormalizeOrder converts one raw order
func (n *Normalizer) NormalizeOrder(raw models.RawRecord) (*models.Order, error) {
	id := models.NormalizeOrderRef(raw.String("id"))
	if id == "" {
		return nil, missing("", "id")
	}

	createdAt, err := n.timestamp(raw, id, "created_at")
	if err != nil {
		return nil, err
	}

	statusRaw := raw.String("financial_status")
	if statusRaw == "" {
		return nil, missing(id, "financial_status")
	}
	status, err := models.ParseFinancialStatus(statusRaw)
	if err != nil {
		return nil, errors.DataQualityError(errors.CodeInvalidEnum, id, "financial_status", statusRaw, err)
	}

	total, err := amount(raw, id, true, "total_price")
	if err != nil {
		return nil, err
	}
	subtotal, err := amount(raw, id, false, "subtotal_price", "subtotal")
	if err != nil {
		return nil, err
	}
	tax, err := amount(raw, id, false, "total_tax", "tax")
	if err != nil {
		return nil, err
	}
	discounts, err := amount(raw, id, false, "total_discounts", "discount_total")
	if err != nil {
		return nil, err
	}
	refunded, err := amount(raw, id, false, "total_refunded")
	if err != nil {
		return nil, err
	}
	shipping, err := shippingAmount(raw, id)
	if err != nil {
		return nil, err
	}

	currency := n.currency(raw)
	if currency == "" {
		return nil, missing(id, "currency")
	}

	order := &models.Order{
		ID:              id,
		Number:          raw.String("order_number", "number", "name"),
		CreatedAt:       createdAt,
		FinancialStatus: status,
		TotalPrice:      total,
		Subtotal:        subtotal,
		Shipping:        shipping,
		Tax:             tax,
		DiscountTotal:   discounts,
		TotalRefunded:   refunded,
		Currency:        currency,
	}
	if err := order.Validate(); err != nil {
		return nil, errors.DataQualityError(errors.CodeInvalidAmount, id, "total_price", total, err)
	}
	return order, nil
}

// NormalizeTransaction converts one raw transaction and attaches its fee estimate
func (n *Normalizer) NormalizeTransaction(raw models.RawRecord) (*models.Transaction, error) {
	id := raw.String("id")
	if id == "" {
		return nil, missing("", "id")
	}

	kindRaw := raw.String("kind", "type")
	if kindRaw == "" {
		return nil, missing(id, "kind")
	}
	kind, err := models.ParseTransactionKind(kindRaw)
	if err != nil {
		return nil, errors.DataQualityError(errors.CodeInvalidEnum, id, "kind", kindRaw, err)
	}

	statusRaw := raw.String("status")
	if statusRaw == "" {
		return nil, missing(id, "status")
	}
	status, err := models.ParseTransactionStatus(statusRaw)
	if err != nil {
		return nil, errors.DataQualityError(errors.CodeInvalidEnum, id, "status", statusRaw, err)
	}

	gross, err := amount(raw, id, true, "amount", "gross_amount")
	if err != nil {
		return nil, err
	}
	if kind == models.KindRefund && gross.IsPositive() {
		gross = gross.Neg()
	}

	createdAt, err := n.timestamp(raw, id, "created_at")
	if err != nil {
		return nil, err
	}
	processedAt := createdAt
	if raw.Has("processed_at") {
		if processedAt, err = n.timestamp(raw, id, "processed_at"); err != nil {
			return nil, err
		}
	}

	currency := n.currency(raw)
	if currency == "" {
		return nil, missing(id, "currency")
	}

	var fx decimal.NullDecimal
	if raw.Has("exchange_rate") {
		rate, err := models.ParseDecimalFromString(raw.String("exchange_rate"))
		if err != nil || !rate.IsPositive() {
			return nil, errors.DataQualityError(errors.CodeInvalidAmount, id, "exchange_rate", raw.String("exchange_rate"), err)
		}
		fx = decimal.NewNullDecimal(rate)
	}

	rawGateway := strings.ToLower(raw.String("gateway"))
	if rawGateway == "" {
		return nil, missing(id, "gateway")
	}
	method := strings.ToLower(raw.String("payment_method"))
	if method == "" {
		method = DerivePaymentMethod(rawGateway)
	}

	tx := &models.Transaction{
		ID:            id,
		OrderRef:      models.NormalizeOrderRef(raw.String("order_id", "order_ref")),
		ParentID:      raw.String("parent_id"),
		Kind:          kind,
		Status:        status,
		Gateway:       n.gatewayKey(rawGateway),
		PaymentMethod: method,
		GrossAmount:   gross,
		Currency:      currency,
		ExchangeRate:  fx,
		CreatedAt:     createdAt,
		ProcessedAt:   processedAt,
	}
	if err := tx.Validate(); err != nil {
		return nil, errors.DataQualityError(errors.CodeInvalidAmount, id, "amount", gross, err)
	}

	breakdown, err := fees.ForTransaction(n.estimator, tx)
	if err != nil {
		return nil, feeError(id, tx, err)
	}
	tx.Fees = breakdown

	return tx, nil
}

// DerivePaymentMethod infers the payment method from a gateway name when the
// feed does not report one.
func DerivePaymentMethod(gateway string) string {
	g := strings.ToLower(gateway)
	switch {
	case strings.Contains(g, "paypal"):
		return "paypal"
	case strings.Contains(g, "apple"):
		return "apple_pay"
	case strings.Contains(g, "google"):
		return "google_pay"
	case strings.Contains(g, "shop_pay"):
		return "shop_pay"
	case g == "manual", g == "cash_on_delivery", g == "bank_deposit":
		return g
	default:
		return "credit_card"
	}
}

func (n *Normalizer) gatewayKey(raw string) string {
	if key, ok := n.config.GatewayAliases[raw]; ok {
		return key
	}
	return raw
}

func (n *Normalizer) currency(raw models.RawRecord) string {
	if c := raw.String("currency"); c != "" {
		return strings.ToUpper(c)
	}
	return strings.ToUpper(n.config.DefaultCurrency)
}

func (n *Normalizer) timestamp(raw models.RawRecord, id, field string) (time.Time, error) {
	value := raw.String(field)
	if value == "" {
		return time.Time{}, missing(id, field)
	}
	t, err := models.ParseTimeWithFormats(value, n.config.Location)
	if err != nil {
		return time.Time{}, errors.DataQualityError(errors.CodeInvalidDate, id, field, value, err)
	}
	return t, nil
}

func amount(raw models.RawRecord, id string, required bool, keys ...string) (decimal.Decimal, error) {
	value := raw.String(keys...)
	if value == "" {
		if required {
			return decimal.Zero, missing(id, keys[0])
		}
		return decimal.Zero, nil
	}
	d, err := models.ParseDecimalFromString(value)
	if err != nil {
		return decimal.Zero, errors.DataQualityError(errors.CodeInvalidAmount, id, keys[0], value, err)
	}
	return d, nil
}

func shippingAmount(raw models.RawRecord, id string) (decimal.Decimal, error) {
	if raw.Has("shipping", "total_shipping") {
		return amount(raw, id, false, "shipping", "total_shipping")
	}
	total := decimal.Zero
	for _, line := range raw.List("shipping_lines") {
		price, err := amount(line, id, false, "price")
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(price)
	}
	return total, nil
}

func missing(id, field string) error {
	return errors.DataQualityError(errors.CodeMissingField, id, field, nil, nil)
}

func feeError(id string, tx *models.Transaction, err error) error {
	var unknown *fees.UnknownGatewayError
	if stderrors.As(err, &unknown) {
		return errors.DataQualityError(errors.CodeUnknownGateway, id, "gateway", tx.Gateway, err)
	}
	var noRate *fees.MissingExchangeRateError
	if stderrors.As(err, &noRate) {
		return errors.DataQualityError(errors.CodeMissingExchangeRate, id, "exchange_rate", noRate.From+"->"+noRate.To, err)
	}
	return errors.DataQualityError(errors.CodeInvalidAmount, id, "amount", tx.GrossAmount, err)
}
