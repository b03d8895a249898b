package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
)

func createIndexTransactions() []*models.Transaction {
	base := time.Date(2025, 7, 29, 10, 0, 0, 0, time.UTC)
	return []*models.Transaction{
		{ID: "TX001", Kind: models.KindSale, GrossAmount: decimal.RequireFromString("100.50"), ProcessedAt: base},
		{ID: "TX002", Kind: models.KindSale, GrossAmount: decimal.RequireFromString("250.00"), ProcessedAt: base.Add(time.Hour)},
		{ID: "TX003", Kind: models.KindSale, GrossAmount: decimal.RequireFromString("100.50"), ProcessedAt: base.Add(2 * time.Hour)},
		{ID: "TX004", Kind: models.KindSale, GrossAmount: decimal.RequireFromString("75.25"), ProcessedAt: base.Add(3 * time.Hour)},
	}
}

func TestNewCandidateIndex(t *testing.T) {
	index := NewCandidateIndex(createIndexTransactions())

	if len(index.buckets) != 3 {
		t.Errorf("Expected 3 distinct amounts, got %d", len(index.buckets))
	}

	for i := 1; i < len(index.buckets); i++ {
		if index.buckets[i-1].amount.GreaterThan(index.buckets[i].amount) {
			t.Errorf("Amount index not sorted at position %d", i)
		}
	}

	same := index.GetByAmountRange(decimal.RequireFromString("100.5"), decimal.RequireFromString("100.5"))
	if len(same) != 2 || same[0].ID != "TX001" || same[1].ID != "TX003" {
		t.Errorf("Expected TX001 then TX003 in the 100.50 bucket, got %v", same)
	}
}

func TestCandidateIndex_GetByAmountRange(t *testing.T) {
	index := NewCandidateIndex(createIndexTransactions())

	tests := []struct {
		name     string
		min, max string
		expected int
	}{
		{"inclusive bounds", "75.25", "100.50", 3},
		{"single value", "250.00", "250.00", 1},
		{"below everything", "0.00", "10.00", 0},
		{"above everything", "300.00", "400.00", 0},
		{"everything", "0.00", "1000.00", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.GetByAmountRange(decimal.RequireFromString(tt.min), decimal.RequireFromString(tt.max))
			if len(got) != tt.expected {
				t.Errorf("Expected %d transactions in [%s, %s], got %d", tt.expected, tt.min, tt.max, len(got))
			}
		})
	}
}

func TestCandidateIndex_Empty(t *testing.T) {
	index := NewCandidateIndex(nil)

	if got := index.GetByAmountRange(decimal.Zero, decimal.NewFromInt(100)); len(got) != 0 {
		t.Errorf("Expected empty result from empty index, got %d", len(got))
	}
}
