package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

var base = time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)

func testOrder(id string, at time.Duration, total string) *models.Order {
	return &models.Order{
		ID:              id,
		CreatedAt:       base.Add(at),
		FinancialStatus: models.FinancialPaid,
		TotalPrice:      decimal.RequireFromString(total),
		Currency:        "EUR",
	}
}

func testTx(id, ref string, kind models.TransactionKind, at time.Duration, gross string) *models.Transaction {
	return &models.Transaction{
		ID:            id,
		OrderRef:      ref,
		Kind:          kind,
		Status:        models.StatusSuccess,
		Gateway:       "platform_payments",
		PaymentMethod: "credit_card",
		GrossAmount:   decimal.RequireFromString(gross),
		Currency:      "EUR",
		CreatedAt:     base.Add(at),
		ProcessedAt:   base.Add(at),
		Fees:          models.ZeroFees(decimal.RequireFromString(gross)),
	}
}

func matchFixture() ([]*models.Order, []*models.Transaction) {
	o1 := testOrder("O1", 10*time.Hour, "100.00")
	o1.TotalRefunded = decimal.RequireFromString("20.00")

	refund := testTx("r1", "", models.KindRefund, 15*time.Hour, "-20.00")
	refund.ParentID = "t1"

	orders := []*models.Order{
		o1,
		testOrder("O2", 11*time.Hour, "50.00"),
		testOrder("O3", 12*time.Hour, "80.00"),
		testOrder("O4", 13*time.Hour, "30.00"),
	}
	txs := []*models.Transaction{
		testTx("t1", "O1", models.KindSale, 10*time.Hour, "100.00"),
		refund,
		testTx("tF1", "", models.KindSale, 12*time.Hour, "50.20"),
		testTx("tF2", "999", models.KindSale, 13*time.Hour+30*time.Minute, "30.00"),
		testTx("tF3", "", models.KindSale, 11*time.Hour, "30.10"),
		testTx("tFar", "", models.KindSale, 5*24*time.Hour+12*time.Hour, "80.00"),
		testTx("rOrphan", "", models.KindRefund, 14*time.Hour, "-80.00"),
	}
	return orders, txs
}

func perspectiveOf(orders []*models.Order, txs []*models.Transaction) *models.Perspective {
	return &models.Perspective{
		Name:         models.PerspectiveCreation,
		Orders:       orders,
		Transactions: txs,
	}
}

func TestMatch(t *testing.T) {
	orders, txs := matchFixture()
	snap := models.NewSnapshot(orders, txs)

	set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(perspectiveOf(orders, txs), snap)

	require.Len(t, set.Results, 8)

	expected := []struct {
		order, tx  string
		confidence models.MatchConfidence
		variance   string
		ambiguous  bool
	}{
		{"O1", "t1", models.ConfidenceExact, "0.00", false},
		{"O1", "r1", models.ConfidenceExact, "0.00", false},
		{"O2", "tF1", models.ConfidenceFuzzy, "-0.20", false},
		{"O3", "", models.ConfidenceUnmatched, "80.00", false},
		{"O4", "tF2", models.ConfidenceFuzzy, "0.00", true},
		{"", "tF3", models.ConfidenceUnmatched, "0.00", false},
		{"", "rOrphan", models.ConfidenceUnmatched, "0.00", false},
		{"", "tFar", models.ConfidenceUnmatched, "0.00", false},
	}

	for i, e := range expected {
		r := set.Results[i]
		assert.Equal(t, e.order, r.OrderID, "result %d", i)
		assert.Equal(t, e.tx, r.TransactionID, "result %d", i)
		assert.Equal(t, e.confidence, r.Confidence, "result %d", i)
		assert.Equal(t, e.variance, r.VarianceAmount.StringFixed(2), "result %d", i)
		assert.Equal(t, e.ambiguous, r.Ambiguous, "result %d", i)
	}
	assert.Contains(t, set.Results[4].Note, "2 candidates")

	summary := set.Summary()
	assert.Equal(t, 2, summary.Exact)
	assert.Equal(t, 2, summary.Fuzzy)
	assert.Equal(t, 1, summary.Ambiguous)
	assert.Equal(t, 1, summary.UnmatchedOrders)
	assert.Equal(t, 3, summary.UnmatchedTransactions)

	orderID, ok := set.OrderFor("r1")
	assert.True(t, ok)
	assert.Equal(t, "O1", orderID)
	assert.False(t, set.IsMatched("tFar"))
}

func TestMatchSetResultFor(t *testing.T) {
	orders, txs := matchFixture()
	snap := models.NewSnapshot(orders, txs)

	set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(perspectiveOf(orders, txs), snap)

	r, ok := set.ResultFor("tF1")
	require.True(t, ok)
	assert.Equal(t, "O2", r.OrderID)
	assert.Equal(t, models.ConfidenceFuzzy, r.Confidence)

	r, ok = set.ResultFor("rOrphan")
	require.True(t, ok)
	assert.Equal(t, models.ConfidenceUnmatched, r.Confidence)

	_, ok = set.ResultFor("missing")
	assert.False(t, ok)

	var empty *MatchSet
	_, ok = empty.ResultFor("t1")
	assert.False(t, ok)
}

func TestMatchTransactionsAreExclusive(t *testing.T) {
	orders, txs := matchFixture()
	snap := models.NewSnapshot(orders, txs)

	set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(perspectiveOf(orders, txs), snap)

	seen := map[string]bool{}
	for _, r := range set.Results {
		if !r.IsMatched() {
			continue
		}
		assert.False(t, seen[r.TransactionID], "transaction %s matched twice", r.TransactionID)
		seen[r.TransactionID] = true
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	orders, txs := matchFixture()
	snap := models.NewSnapshot(orders, txs)
	engine := NewMatchingEngine(DefaultConfig(), logger.Discard())

	first := engine.Match(perspectiveOf(orders, txs), snap)

	reversedOrders := make([]*models.Order, len(orders))
	for i, o := range orders {
		reversedOrders[len(orders)-1-i] = o
	}
	reversedTxs := make([]*models.Transaction, len(txs))
	for i, tx := range txs {
		reversedTxs[len(txs)-1-i] = tx
	}

	second := engine.Match(perspectiveOf(reversedOrders, reversedTxs), snap)
	assert.Equal(t, first.Results, second.Results)
}

func TestFuzzyTieBreaks(t *testing.T) {
	o := testOrder("O", 10*time.Hour, "40.00")

	// same amount and time distance: earlier created_at wins
	a := testTx("b-late", "", models.KindSale, 11*time.Hour, "40.00")
	a.CreatedAt = base.Add(9 * time.Hour)
	b := testTx("a-early", "", models.KindSale, 9*time.Hour, "40.00")
	b.CreatedAt = base.Add(8 * time.Hour)

	txs := []*models.Transaction{a, b}
	snap := models.NewSnapshot([]*models.Order{o}, txs)
	set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(perspectiveOf([]*models.Order{o}, txs), snap)

	require.NotEmpty(t, set.Results)
	assert.Equal(t, "a-early", set.Results[0].TransactionID)
	assert.True(t, set.Results[0].Ambiguous)

	// everything equal: lowest id wins
	c := testTx("c2", "", models.KindSale, 11*time.Hour, "40.00")
	d := testTx("c1", "", models.KindSale, 11*time.Hour, "40.00")
	txs = []*models.Transaction{c, d}
	snap = models.NewSnapshot([]*models.Order{o}, txs)
	set = NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(perspectiveOf([]*models.Order{o}, txs), snap)

	assert.Equal(t, "c1", set.Results[0].TransactionID)
}

func TestFuzzySkipsTransactionsOfOtherOrders(t *testing.T) {
	inView := testOrder("O", 10*time.Hour, "40.00")
	elsewhere := testOrder("Z", 2*time.Hour, "40.00")
	tx := testTx("tZ", "Z", models.KindSale, 10*time.Hour, "40.00")

	snap := models.NewSnapshot([]*models.Order{inView, elsewhere}, []*models.Transaction{tx})
	set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(
		perspectiveOf([]*models.Order{inView}, []*models.Transaction{tx}), snap)

	summary := set.Summary()
	assert.Equal(t, 0, summary.Fuzzy)
	assert.Equal(t, 1, summary.UnmatchedOrders)
	assert.Equal(t, 1, summary.UnmatchedTransactions)
}

func TestFuzzyRespectsTolerance(t *testing.T) {
	o := testOrder("O", 10*time.Hour, "100.00")

	tests := []struct {
		gross   string
		matched bool
	}{
		{"101.00", true},
		{"99.00", true},
		{"101.01", false},
		{"98.99", false},
	}

	for _, tt := range tests {
		t.Run(tt.gross, func(t *testing.T) {
			tx := testTx("t", "", models.KindSale, 11*time.Hour, tt.gross)
			snap := models.NewSnapshot([]*models.Order{o}, []*models.Transaction{tx})
			set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(
				perspectiveOf([]*models.Order{o}, []*models.Transaction{tx}), snap)
			assert.Equal(t, tt.matched, set.IsMatched("t"))
		})
	}
}

func TestFuzzyRespectsTimeWindow(t *testing.T) {
	o := testOrder("O", 0, "10.00")

	inside := testTx("in", "", models.KindSale, 72*time.Hour, "10.00")
	outside := testTx("out", "", models.KindSale, -72*time.Hour-time.Second, "10.00")

	for _, tx := range []*models.Transaction{inside, outside} {
		snap := models.NewSnapshot([]*models.Order{o}, []*models.Transaction{tx})
		set := NewMatchingEngine(DefaultConfig(), logger.Discard()).Match(
			perspectiveOf([]*models.Order{o}, []*models.Transaction{tx}), snap)
		assert.Equal(t, tx.ID == "in", set.IsMatched(tx.ID), tx.ID)
	}
}

func TestConfigAmountTolerance(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1.00", cfg.AmountTolerance(decimal.NewFromInt(100)).StringFixed(2))
	assert.Equal(t, "0.01", cfg.AmountTolerance(decimal.RequireFromString("0.50")).StringFixed(2))
	assert.NoError(t, cfg.Validate())

	bad := cfg.Clone()
	bad.TimeWindow = 0
	assert.Error(t, bad.Validate())
	assert.Equal(t, 72*time.Hour, cfg.TimeWindow)
}
