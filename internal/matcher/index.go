package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
)

// CandidateIndex holds fuzzy-match candidates sorted by gross amount so a
// tolerance band is one binary search plus a short scan.
type CandidateIndex struct {
	buckets []*amountBucket
}

// amountBucket groups the candidates sharing one gross amount (to the cent)
type amountBucket struct {
	amount       decimal.Decimal
	transactions []*models.Transaction
}

// NewCandidateIndex indexes transactions by gross amount. Transactions keep
// their input order within a bucket.
func NewCandidateIndex(transactions []*models.Transaction) *CandidateIndex {
	byAmount := make(map[string]*amountBucket)
	index := &CandidateIndex{}

	for _, tx := range transactions {
		key := tx.GrossAmount.StringFixed(2)
		b, ok := byAmount[key]
		if !ok {
			b = &amountBucket{amount: tx.GrossAmount}
			byAmount[key] = b
			index.buckets = append(index.buckets, b)
		}
		b.transactions = append(b.transactions, tx)
	}

	sort.Slice(index.buckets, func(i, j int) bool {
		return index.buckets[i].amount.LessThan(index.buckets[j].amount)
	})
	return index
}

// GetByAmountRange returns transactions within the specified amount range (inclusive)
func (ci *CandidateIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []*models.Transaction {
	var result []*models.Transaction

	start := sort.Search(len(ci.buckets), func(i int) bool {
		return ci.buckets[i].amount.GreaterThanOrEqual(minAmount)
	})
	for _, b := range ci.buckets[start:] {
		if b.amount.GreaterThan(maxAmount) {
			break
		}
		result = append(result, b.transactions...)
	}
	return result
}
