package perspective

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

var day = time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)

func order(id string, created time.Time, total string) *models.Order {
	return &models.Order{
		ID:              id,
		CreatedAt:       created,
		FinancialStatus: models.FinancialPaid,
		TotalPrice:      decimal.RequireFromString(total),
		Currency:        "EUR",
	}
}

func sale(id, orderRef string, processed time.Time, gross string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		OrderRef:    orderRef,
		Kind:        models.KindSale,
		Status:      models.StatusSuccess,
		GrossAmount: decimal.RequireFromString(gross),
		CreatedAt:   processed,
		ProcessedAt: processed,
	}
}

func ids[T interface{ *models.Order | *models.Transaction }](items []T) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := any(item).(type) {
		case *models.Order:
			out = append(out, v.ID)
		case *models.Transaction:
			out = append(out, v.ID)
		}
	}
	return out
}

// fixture: A created and paid on D, B created on D paid on D+1,
// C created on D-1 paid on D, and an orphan payment on D.
func fixture() *models.Snapshot {
	orders := []*models.Order{
		order("A", day.Add(10*time.Hour), "100.00"),
		order("B", day.Add(23*time.Hour), "50.00"),
		order("C", day.Add(-2*time.Hour), "75.00"),
	}
	txs := []*models.Transaction{
		sale("tA", "A", day.Add(10*time.Hour+time.Minute), "100.00"),
		sale("tB", "B", day.Add(25*time.Hour), "50.00"),
		sale("tC", "C", day.Add(1*time.Hour), "75.00"),
		sale("tX", "", day.Add(12*time.Hour), "20.00"),
	}
	return models.NewSnapshot(orders, txs)
}

func singleDay(t *testing.T) models.DateRange {
	t.Helper()
	r, err := models.NewDateRange(day, day, time.UTC)
	require.NoError(t, err)
	return r
}

func TestCreationView(t *testing.T) {
	p, err := NewBuilder(logger.Discard()).Build(fixture(), singleDay(t), models.PerspectiveCreation)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, ids(p.Orders))
	// tB is processed the next day but still belongs to B
	assert.Equal(t, []string{"tA", "tB"}, ids(p.Transactions))
}

func TestProcessingView(t *testing.T) {
	p, err := NewBuilder(logger.Discard()).Build(fixture(), singleDay(t), models.PerspectiveProcessing)
	require.NoError(t, err)

	assert.Equal(t, []string{"tC", "tA", "tX"}, ids(p.Transactions))
	// C was created the day before; it comes along with its payment
	assert.Equal(t, []string{"C", "A"}, ids(p.Orders))
}

func TestProcessingViewKeepsUnreferencedOrders(t *testing.T) {
	orders := []*models.Order{
		order("A", day.Add(10*time.Hour), "100.00"),
		order("U", day.Add(11*time.Hour), "20.00"),
		order("P", day.Add(-30*time.Hour), "20.00"),
	}
	txs := []*models.Transaction{
		sale("tA", "A", day.Add(10*time.Hour+time.Minute), "100.00"),
		sale("tX", "", day.Add(12*time.Hour), "20.00"),
	}

	p, err := NewBuilder(logger.Discard()).Build(models.NewSnapshot(orders, txs), singleDay(t), models.PerspectiveProcessing)
	require.NoError(t, err)

	// U has no payment reference; P was created outside the range
	assert.Equal(t, []string{"A", "U"}, ids(p.Orders))
	assert.Equal(t, []string{"tA", "tX"}, ids(p.Transactions))
}

func TestHybridView(t *testing.T) {
	p, err := NewBuilder(logger.Discard()).Build(fixture(), singleDay(t), models.PerspectiveHybrid)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, ids(p.Orders))
	assert.Equal(t, []string{"tA"}, ids(p.Transactions))
}

func TestHybridViewRequiresSameDayWithinRange(t *testing.T) {
	r, err := models.NewDateRange(day, day.AddDate(0, 0, 1), time.UTC)
	require.NoError(t, err)

	p, err := NewBuilder(logger.Discard()).Build(fixture(), r, models.PerspectiveHybrid)
	require.NoError(t, err)

	// B is created on D and paid on D+1: both in range, different days
	assert.Equal(t, []string{"A"}, ids(p.Orders))
}

func TestTransactionInMultipleViews(t *testing.T) {
	snap := fixture()
	b := NewBuilder(logger.Discard())
	views, err := b.BuildAll(snap, singleDay(t), models.AllPerspectives)
	require.NoError(t, err)
	require.Len(t, views, 3)

	for _, v := range views {
		assert.Contains(t, ids(v.Transactions), "tA", "view %s", v.Name)
	}
}

func TestBuildIsRepeatable(t *testing.T) {
	snap := fixture()
	b := NewBuilder(logger.Discard())

	first, err := b.Build(snap, singleDay(t), models.PerspectiveProcessing)
	require.NoError(t, err)
	second, err := b.Build(snap, singleDay(t), models.PerspectiveProcessing)
	require.NoError(t, err)

	assert.Equal(t, ids(first.Transactions), ids(second.Transactions))
	assert.Equal(t, ids(first.Orders), ids(second.Orders))
}

func TestUnknownPerspective(t *testing.T) {
	_, err := NewBuilder(logger.Discard()).Build(fixture(), singleDay(t), "weekly")
	assert.Error(t, err)
}

func TestBusinessTimezoneDecidesTheDay(t *testing.T) {
	cet, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 22:30 UTC on D is already D+1 in Berlin
	late := order("L", day.Add(22*time.Hour+30*time.Minute), "10.00")
	snap := models.NewSnapshot([]*models.Order{late}, nil)

	utcRange := singleDay(t)
	cetRange, err := models.ParseDateRange("2025-07-29", "2025-07-29", cet)
	require.NoError(t, err)

	b := NewBuilder(logger.Discard())
	inUTC, err := b.Build(snap, utcRange, models.PerspectiveCreation)
	require.NoError(t, err)
	inCET, err := b.Build(snap, cetRange, models.PerspectiveCreation)
	require.NoError(t, err)

	assert.Len(t, inUTC.Orders, 1)
	assert.Empty(t, inCET.Orders)
}

func TestDateMismatches(t *testing.T) {
	mismatches := DateMismatches(fixture(), singleDay(t))

	byCategory := map[string][]models.DateMismatch{}
	for _, m := range mismatches {
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}

	require.Len(t, byCategory[MismatchNoPaymentInRange], 1)
	assert.Equal(t, "B", byCategory[MismatchNoPaymentInRange][0].OrderID)
	assert.Equal(t, "50.00", byCategory[MismatchNoPaymentInRange][0].Amount.StringFixed(2))

	require.Len(t, byCategory[MismatchOrderDifferentDay], 1)
	assert.Equal(t, "tC", byCategory[MismatchOrderDifferentDay][0].TransactionID)
	assert.Equal(t, "2025-07-28", byCategory[MismatchOrderDifferentDay][0].OrderDay)

	require.Len(t, byCategory[MismatchPaymentWithoutOrder], 1)
	assert.Equal(t, "tX", byCategory[MismatchPaymentWithoutOrder][0].TransactionID)

	assert.Empty(t, byCategory[MismatchAmount])
}
