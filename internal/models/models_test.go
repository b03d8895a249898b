package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionKind(t *testing.T) {
	tests := []struct {
		input    string
		expected TransactionKind
		wantErr  bool
	}{
		{"sale", KindSale, false},
		{" SALE ", KindSale, false},
		{"refund", KindRefund, false},
		{"authorization", KindAuthorization, false},
		{"capture", KindCapture, false},
		{"void", KindVoid, false},
		{"chargeback", kindInvalid, true},
		{"", kindInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, err := ParseTransactionKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, kind.IsValid())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, kind)
		})
	}
}

func TestTransactionKindMovesMoney(t *testing.T) {
	assert.True(t, KindSale.MovesMoney())
	assert.True(t, KindCapture.MovesMoney())
	assert.True(t, KindRefund.MovesMoney())
	assert.False(t, KindAuthorization.MovesMoney())
	assert.False(t, KindVoid.MovesMoney())
	assert.False(t, kindInvalid.MovesMoney())
}

func TestTransactionKindJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Kind TransactionKind `json:"kind"`
	}{KindCapture})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"capture"}`, string(data))

	var decoded struct {
		Kind TransactionKind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"refund"}`), &decoded))
	assert.Equal(t, KindRefund, decoded.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"bogus"}`), &decoded))

	_, err = json.Marshal(struct{ Kind TransactionKind }{})
	assert.Error(t, err, "zero kind must not serialize")
}

func TestParseStatuses(t *testing.T) {
	status, err := ParseTransactionStatus("error")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, status)

	_, err = ParseTransactionStatus("settled")
	assert.Error(t, err)

	fs, err := ParseFinancialStatus("partially_paid")
	require.NoError(t, err)
	assert.Equal(t, FinancialPartiallyPaid, fs)

	_, err = ParseFinancialStatus("lost")
	assert.Error(t, err)
}

func TestOrderNetRevenue(t *testing.T) {
	tests := []struct {
		name     string
		order    Order
		expected string
	}{
		{
			name:     "paid order",
			order:    Order{TotalPrice: decimal.RequireFromString("674.45"), FinancialStatus: FinancialPaid},
			expected: "674.45",
		},
		{
			name: "partially refunded",
			order: Order{
				TotalPrice:      decimal.RequireFromString("100.00"),
				TotalRefunded:   decimal.RequireFromString("45.50"),
				FinancialStatus: FinancialPaid,
			},
			expected: "54.5",
		},
		{
			name:     "voided contributes nothing",
			order:    Order{TotalPrice: decimal.RequireFromString("80.00"), FinancialStatus: FinancialVoided},
			expected: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.order.NetRevenue().Equal(decimal.RequireFromString(tt.expected)),
				"got %s", tt.order.NetRevenue())
		})
	}
}

func TestTransactionNetAmount(t *testing.T) {
	tx := Transaction{
		ID:          "t1",
		Kind:        KindSale,
		Status:      StatusSuccess,
		GrossAmount: decimal.RequireFromString("89.99"),
		Fees:        FeeBreakdown{TotalFee: decimal.RequireFromString("2.91")},
	}
	assert.Equal(t, "87.08", tx.NetAmount().StringFixed(2))
	assert.True(t, tx.IsSettled())

	tx.Status = StatusPending
	assert.False(t, tx.IsSettled())
}

func TestTransactionValidate(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	valid := Transaction{ID: "t1", Kind: KindSale, ProcessedAt: now, GrossAmount: decimal.NewFromInt(10)}
	assert.NoError(t, valid.Validate())

	positiveRefund := valid
	positiveRefund.Kind = KindRefund
	assert.Error(t, positiveRefund.Validate())

	noKind := valid
	noKind.Kind = kindInvalid
	assert.Error(t, noKind.Validate())

	noTime := valid
	noTime.ProcessedAt = time.Time{}
	assert.Error(t, noTime.Validate())
}

func TestDateRange(t *testing.T) {
	cet, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	r, err := ParseDateRange("2025-01-15", "2025-01-15", cet)
	require.NoError(t, err)

	// 23:30 UTC on the 14th is already the 15th in Berlin
	assert.True(t, r.Contains(time.Date(2025, 1, 14, 23, 30, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Time{}))
	assert.Equal(t, "2025-01-15", r.String())

	from, to := r.Widen(1)
	assert.Equal(t, "2025-01-14", from.Format("2006-01-02"))
	assert.Equal(t, "2025-01-17", to.Format("2006-01-02"))

	_, err = ParseDateRange("2025-01-16", "2025-01-15", cet)
	assert.Error(t, err)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-01-15","end":"2025-01-15","timezone":"Europe/Berlin"}`, string(data))

	var decoded DateRange
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Start.Equal(r.Start))
}

func TestNormalizeOrderRef(t *testing.T) {
	tests := map[string]string{
		"gid://shopify/Order/5531": "5531",
		"order_5531":               "5531",
		"Order-5531":               "5531",
		"#5531":                    "5531",
		"  5531 ":                  "5531",
		"":                         "",
		"   ":                      "",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, NormalizeOrderRef(input), "input %q", input)
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2025-01-15T10:30:00Z", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15T11:30:00+01:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15 10:30:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(tt.input, time.UTC)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.expected), "got %s", got)
		})
	}

	_, err := ParseTimeWithFormats("yesterday", time.UTC)
	assert.Error(t, err)
}

func TestParseDecimalFromString(t *testing.T) {
	d, err := ParseDecimalFromString("$1,234.50")
	require.NoError(t, err)
	assert.Equal(t, "1234.50", d.StringFixed(2))

	_, err = ParseDecimalFromString("")
	assert.Error(t, err)
	_, err = ParseDecimalFromString("12.3.4")
	assert.Error(t, err)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityLow < SeverityMedium)
	assert.True(t, SeverityHigh < SeverityCritical)
	assert.Equal(t, SeverityHigh, SeverityMedium.Max(SeverityHigh))
	assert.Equal(t, SeverityHigh, SeverityHigh.Max(SeverityLow))

	s, err := ParseSeverity("critical")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, s)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDiscrepancy.CanTransitionTo(StatusResolved))
	assert.True(t, StatusDiscrepancy.CanTransitionTo(StatusInvestigating))
	assert.True(t, StatusInvestigating.CanTransitionTo(StatusResolved))
	assert.False(t, StatusMatched.CanTransitionTo(StatusResolved))
	assert.False(t, StatusResolved.CanTransitionTo(StatusDiscrepancy))
}

func TestSnapshotRefundResolvesThroughParent(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	order := &Order{ID: "1001", CreatedAt: base, TotalPrice: decimal.NewFromInt(50), Currency: "EUR"}
	sale := &Transaction{ID: "s1", OrderRef: "1001", Kind: KindSale, ProcessedAt: base.Add(time.Minute)}
	refund := &Transaction{ID: "r1", ParentID: "s1", Kind: KindRefund, ProcessedAt: base.Add(time.Hour)}
	orphan := &Transaction{ID: "x1", OrderRef: "9999", Kind: KindSale, ProcessedAt: base}

	snap := NewSnapshot([]*Order{order}, []*Transaction{refund, orphan, sale})

	assert.Equal(t, "1001", snap.OrderRefFor(refund))
	resolved, ok := snap.ResolveOrder(refund)
	require.True(t, ok)
	assert.Equal(t, "1001", resolved.ID)

	_, ok = snap.ResolveOrder(orphan)
	assert.False(t, ok)

	forOrder := snap.TransactionsForOrder("1001")
	require.Len(t, forOrder, 2)
	assert.Equal(t, "s1", forOrder[0].ID)
	assert.Equal(t, "r1", forOrder[1].ID)

	all := snap.Transactions()
	assert.Equal(t, []string{"x1", "s1", "r1"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestSummarize(t *testing.T) {
	s := Summarize([]MatchResult{
		{OrderID: "o1", TransactionID: "t1", Confidence: ConfidenceExact},
		{OrderID: "o2", TransactionID: "t2", Confidence: ConfidenceFuzzy, Ambiguous: true},
		{OrderID: "o3", Confidence: ConfidenceUnmatched},
		{TransactionID: "t9", Confidence: ConfidenceUnmatched},
	})
	assert.Equal(t, MatchSummary{Exact: 1, Fuzzy: 1, Ambiguous: 1, UnmatchedOrders: 1, UnmatchedTransactions: 1}, s)
}

func TestSortedIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedIDs([]string{"c", "a", "b", "a"}))
	assert.Empty(t, SortedIDs(nil))
}
