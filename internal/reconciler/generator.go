package reconciler

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/matcher"
	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Likely causes attached to cross-view comparisons
const (
	CauseNone           = "none"
	CausePending        = "pending_transactions"
	CauseFees           = "estimated_fees"
	CausePendingAndFees = "pending_transactions_and_fees"
	CauseUnexplained    = "unexplained"
)

const (
	amountScale int32 = 2
	pctScale    int32 = 4
)

var (
	hundred = decimal.NewFromInt(100)

	// recordNamespace seeds deterministic record ids
	recordNamespace = uuid.MustParse("6f1c2a4e-8b3d-5c7e-9a1f-2d4b6c8e0a13")
)

// Thresholds decide when a variance is a discrepancy. Both bounds are inclusive.
type Thresholds struct {
	Absolute decimal.Decimal `json:"absolute"`
	// Percent is expressed in percent; 5 means 5%
	Percent decimal.Decimal `json:"percent"`
}

// DefaultThresholds flags variances of $100 or 5% and above
func DefaultThresholds() Thresholds {
	return Thresholds{
		Absolute: decimal.NewFromInt(100),
		Percent:  decimal.NewFromInt(5),
	}
}

// Validate checks that both thresholds are positive
func (t Thresholds) Validate() error {
	if !t.Absolute.IsPositive() {
		return fmt.Errorf("absolute variance threshold must be positive: %s", t.Absolute)
	}
	if !t.Percent.IsPositive() || t.Percent.GreaterThan(hundred) {
		return fmt.Errorf("percentage variance threshold must be in (0, 100]: %s", t.Percent)
	}
	return nil
}

// Classify returns discrepancy when either threshold is reached. pct is a
// fraction of the expected amount.
func (t Thresholds) Classify(variance, pct decimal.Decimal) models.ReconciliationStatus {
	if variance.IsZero() {
		return models.StatusMatched
	}
	if variance.Abs().GreaterThanOrEqual(t.Absolute) {
		return models.StatusDiscrepancy
	}
	if pct.Abs().GreaterThanOrEqual(t.Percent.Div(hundred)) {
		return models.StatusDiscrepancy
	}
	return models.StatusMatched
}

// Inputs is everything the generator needs for one perspective
type Inputs struct {
	Perspective *models.Perspective
	Matches     *matcher.MatchSet
	Duplicates  []models.DuplicateCandidate
	Anomalies   []models.AnomalyFlag
	Issues      []errors.DataQualityIssue
	Partial     bool
}

// Generator turns matched perspectives into reconciliation records
type Generator struct {
	thresholds Thresholds
	logger     logger.Logger
}

// NewGenerator creates a report generator
func NewGenerator(thresholds Thresholds, log logger.Logger) (*Generator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Generator{thresholds: thresholds, logger: log.WithComponent("generator")}, nil
}

// Generate builds the record of one perspective. Expected is the net revenue
// of the perspective's orders; actual is the net amount of its settled
// transactions that were paired with an order.
func (g *Generator) Generate(in Inputs) *models.ReconciliationRecord {
	p := in.Perspective

	expected := decimal.Zero
	orderIDs := make([]string, 0, len(p.Orders))
	for _, o := range p.Orders {
		expected = expected.Add(o.NetRevenue())
		orderIDs = append(orderIDs, o.ID)
	}

	actual := decimal.Zero
	txIDs := make([]string, 0, len(p.Transactions))
	for _, tx := range p.Transactions {
		txIDs = append(txIDs, tx.ID)
		if tx.IsSettled() && in.Matches.IsMatched(tx.ID) {
			actual = actual.Add(tx.NetAmount())
		}
	}

	variance := expected.Sub(actual)
	pct := decimal.Zero
	if !expected.IsZero() {
		pct = variance.DivRound(expected, 16)
	}

	record := &models.ReconciliationRecord{
		ID:              RecordID(p.Name, p.DateRange),
		PerspectiveName: p.Name,
		DateRange:       p.DateRange,
		ExpectedAmount:  expected.Round(amountScale),
		ActualAmount:    actual.Round(amountScale),
		Variance:        variance.Round(amountScale),
		VariancePct:     pct.Round(pctScale),
		Status:          g.thresholds.Classify(variance, pct),
		Partial:         in.Partial,
		OrderIDs:        models.SortedIDs(orderIDs),
		TransactionIDs:  models.SortedIDs(txIDs),
		Matches:         in.Matches.Summary(),
		Payout:          BuildPayoutSummary(p.Transactions),
		Duplicates:      nonNilDuplicates(in.Duplicates),
		Anomalies:       nonNilAnomalies(in.Anomalies),
		Issues:          sortedIssues(in.Issues),
	}

	entry := g.logger.WithFields(logger.Fields{
		logger.FieldPerspective: p.Name,
		"expected":              record.ExpectedAmount.StringFixed(2),
		"actual":                record.ActualAmount.StringFixed(2),
		"variance":              record.Variance.StringFixed(2),
		"status":                record.Status,
	})
	if record.Status == models.StatusDiscrepancy {
		entry.Warn("Variance exceeds threshold")
	} else {
		entry.Debug("Perspective reconciled")
	}

	return record
}

// RecordID derives a stable id from the perspective and its date range
func RecordID(name models.PerspectiveName, r models.DateRange) string {
	tz := "UTC"
	if r.Location != nil {
		tz = r.Location.String()
	}
	key := fmt.Sprintf("%s|%s|%s", name, r.String(), tz)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// BuildPayoutSummary aggregates the settled transactions of a perspective into
// the deposit the merchant should expect.
func BuildPayoutSummary(txs []*models.Transaction) models.PayoutSummary {
	summary := models.PayoutSummary{
		GrossSales: decimal.Zero,
		Refunds:    decimal.Zero,
		Fees:       decimal.Zero,
	}

	groups := make(map[string]*models.GatewayBreakdown)
	for _, tx := range txs {
		if !tx.IsSettled() {
			continue
		}
		if tx.Kind == models.KindRefund {
			summary.Refunds = summary.Refunds.Add(tx.GrossAmount)
		} else {
			summary.GrossSales = summary.GrossSales.Add(tx.GrossAmount)
		}
		summary.Fees = summary.Fees.Add(tx.Fees.TotalFee)

		key := tx.Gateway + "\x00" + tx.PaymentMethod
		b, ok := groups[key]
		if !ok {
			b = &models.GatewayBreakdown{
				Gateway:       tx.Gateway,
				PaymentMethod: tx.PaymentMethod,
				Gross:         decimal.Zero,
				Fees:          decimal.Zero,
				Net:           decimal.Zero,
			}
			groups[key] = b
		}
		b.Count++
		b.Gross = b.Gross.Add(tx.GrossAmount)
		b.Fees = b.Fees.Add(tx.Fees.TotalFee)
		b.Net = b.Net.Add(tx.NetAmount())
	}

	summary.NetSales = summary.GrossSales.Add(summary.Refunds)
	summary.NetPayout = summary.NetSales.Sub(summary.Fees)

	summary.ByGateway = make([]models.GatewayBreakdown, 0, len(groups))
	for _, b := range groups {
		summary.ByGateway = append(summary.ByGateway, *b)
	}
	sort.Slice(summary.ByGateway, func(i, j int) bool {
		a, b := summary.ByGateway[i], summary.ByGateway[j]
		if a.Gateway != b.Gateway {
			return a.Gateway < b.Gateway
		}
		return a.PaymentMethod < b.PaymentMethod
	})

	return summary
}

// CompareViews contrasts the expected amount of one view with the actual
// amount of another and labels the most likely explanation of the gap.
// Pending money is taken from the transactions of both views.
func CompareViews(expected, actual *models.ReconciliationRecord, expectedView, actualView *models.Perspective) models.CrossViewComparison {
	variance := expected.ExpectedAmount.Sub(actual.ActualAmount)
	pending := pendingAmount(expectedView, actualView)
	fees := actual.Payout.Fees

	return models.CrossViewComparison{
		ExpectedView:   expected.PerspectiveName,
		ActualView:     actual.PerspectiveName,
		ExpectedAmount: expected.ExpectedAmount,
		ActualAmount:   actual.ActualAmount,
		Variance:       variance,
		PendingAmount:  pending,
		LikelyCause:    likelyCause(variance, pending, fees),
	}
}

func pendingAmount(views ...*models.Perspective) decimal.Decimal {
	seen := make(map[string]struct{})
	total := decimal.Zero
	for _, p := range views {
		for _, tx := range p.Transactions {
			if _, ok := seen[tx.ID]; ok {
				continue
			}
			seen[tx.ID] = struct{}{}
			if tx.Status == models.StatusPending && tx.Kind.MovesMoney() {
				total = total.Add(tx.GrossAmount)
			}
		}
	}
	return total.Round(amountScale)
}

func likelyCause(variance, pending, fees decimal.Decimal) string {
	tolerance := decimal.New(1, -amountScale)
	near := func(v decimal.Decimal) bool {
		return models.CompareAmountsWithTolerance(variance, v, tolerance)
	}

	switch {
	case variance.IsZero():
		return CauseNone
	case !pending.IsZero() && near(pending):
		return CausePending
	case !fees.IsZero() && near(fees):
		return CauseFees
	case !pending.IsZero() && !fees.IsZero() && near(pending.Add(fees)):
		return CausePendingAndFees
	default:
		return CauseUnexplained
	}
}

func nonNilDuplicates(in []models.DuplicateCandidate) []models.DuplicateCandidate {
	if in == nil {
		return []models.DuplicateCandidate{}
	}
	return in
}

func nonNilAnomalies(in []models.AnomalyFlag) []models.AnomalyFlag {
	if in == nil {
		return []models.AnomalyFlag{}
	}
	return in
}

func sortedIssues(in []errors.DataQualityIssue) []errors.DataQualityIssue {
	out := append([]errors.DataQualityIssue{}, in...)
	errors.SortIssues(out)
	return out
}
