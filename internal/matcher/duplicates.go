package matcher

import (
	"math"
	"sort"
	"strings"
	"time"

	"commerce-reconciliation-service/internal/models"
)

// DuplicateReason is attached to every duplicate candidate
const DuplicateReason = "same amount+gateway within window"

// DuplicateDetector flags transactions that look like the same payment submitted twice
type DuplicateDetector struct {
	Window time.Duration
}

// NewDuplicateDetector creates a detector for the given window
func NewDuplicateDetector(window time.Duration) *DuplicateDetector {
	if window <= 0 {
		window = DefaultConfig().DuplicateWindow
	}
	return &DuplicateDetector{Window: window}
}

// DetectDuplicates returns candidate pairs of distinct transactions that share
// gateway, payment method and gross amount (to the cent) and were processed
// strictly less than Window apart. Pairs are ordered by (A, B) id; within a
// pair A is the earlier transaction.
func (dd *DuplicateDetector) DetectDuplicates(transactions []*models.Transaction) []models.DuplicateCandidate {
	buckets := make(map[string][]*models.Transaction)
	seen := make(map[string]struct{}, len(transactions))

	for _, tx := range transactions {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		key := bucketKey(tx)
		buckets[key] = append(buckets[key], tx)
	}

	var candidates []models.DuplicateCandidate
	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		models.SortTransactions(bucket)

		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				delta := bucket[j].ProcessedAt.Sub(bucket[i].ProcessedAt)
				if !dd.isPotentialDuplicate(delta) {
					break
				}
				candidates = append(candidates, models.DuplicateCandidate{
					TransactionIDA:  bucket[i].ID,
					TransactionIDB:  bucket[j].ID,
					SimilarityScore: dd.similarity(delta),
					Reason:          DuplicateReason,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TransactionIDA != candidates[j].TransactionIDA {
			return candidates[i].TransactionIDA < candidates[j].TransactionIDA
		}
		return candidates[i].TransactionIDB < candidates[j].TransactionIDB
	})

	return candidates
}

// isPotentialDuplicate checks the processed_at distance against the window.
// The bound is exclusive.
func (dd *DuplicateDetector) isPotentialDuplicate(delta time.Duration) bool {
	if delta < 0 {
		delta = -delta
	}
	return delta < dd.Window
}

// similarity decays linearly from 1 at zero distance to 0 at the window edge
func (dd *DuplicateDetector) similarity(delta time.Duration) float64 {
	if delta < 0 {
		delta = -delta
	}
	score := 1 - float64(delta)/float64(dd.Window)
	return math.Round(score*10000) / 10000
}

func bucketKey(tx *models.Transaction) string {
	return strings.Join([]string{tx.Gateway, tx.PaymentMethod, tx.GrossAmount.StringFixed(2)}, "|")
}
