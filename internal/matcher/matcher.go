package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// MatchingEngine pairs the orders and transactions of a perspective
type MatchingEngine struct {
	Config *Config
	logger logger.Logger
}

// MatchSet is the outcome of matching one perspective
type MatchSet struct {
	Results []models.MatchResult

	// orderByTx maps every matched transaction to its order
	orderByTx map[string]string

	// resultByTx indexes Results by transaction id
	resultByTx map[string]int
}

func newMatchSet() *MatchSet {
	return &MatchSet{
		orderByTx:  make(map[string]string),
		resultByTx: make(map[string]int),
	}
}

func (ms *MatchSet) add(r models.MatchResult) {
	if r.TransactionID != "" {
		ms.resultByTx[r.TransactionID] = len(ms.Results)
	}
	ms.Results = append(ms.Results, r)
}

// OrderFor returns the order a transaction was matched to
func (ms *MatchSet) OrderFor(txID string) (string, bool) {
	id, ok := ms.orderByTx[txID]
	return id, ok
}

// IsMatched reports whether a transaction was paired with an order
func (ms *MatchSet) IsMatched(txID string) bool {
	_, ok := ms.orderByTx[txID]
	return ok
}

// ResultFor returns the result carrying txID, if any
func (ms *MatchSet) ResultFor(txID string) (models.MatchResult, bool) {
	if ms == nil {
		return models.MatchResult{}, false
	}
	i, ok := ms.resultByTx[txID]
	if !ok {
		return models.MatchResult{}, false
	}
	return ms.Results[i], true
}

// Summary counts the results by outcome
func (ms *MatchSet) Summary() models.MatchSummary {
	return models.Summarize(ms.Results)
}

// fuzzyCandidate is a transaction scored against one order
type fuzzyCandidate struct {
	tx         *models.Transaction
	amountDiff decimal.Decimal
	timeDiff   time.Duration
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *Config, log logger.Logger) *MatchingEngine {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &MatchingEngine{
		Config: config,
		logger: log.WithComponent("matcher"),
	}
}

// Match runs the exact pass, then the fuzzy pass, then collects residuals.
// Results are ordered by order (created_at, id) followed by unmatched
// transactions (processed_at, id); the same inputs always give the same output.
func (me *MatchingEngine) Match(p *models.Perspective, snap *models.Snapshot) *MatchSet {
	set := newMatchSet()

	inView := make(map[string]*models.Order, len(p.Orders))
	for _, o := range p.Orders {
		inView[o.ID] = o
	}

	// Exact pass
	exact := make(map[string][]*models.Transaction)
	for _, tx := range p.Transactions {
		ref := snap.OrderRefFor(tx)
		if _, ok := inView[ref]; !ok {
			continue
		}
		exact[ref] = append(exact[ref], tx)
		set.orderByTx[tx.ID] = ref
	}

	// Fuzzy pass over orders that found nothing exactly
	index := NewCandidateIndex(me.fuzzyPool(p, snap))
	fuzzy := make(map[string]models.MatchResult)

	orders := append([]*models.Order(nil), p.Orders...)
	models.SortOrders(orders)

	for _, o := range orders {
		if len(exact[o.ID]) > 0 {
			continue
		}

		candidates := me.rankCandidates(o, index, set)
		if len(candidates) == 0 {
			continue
		}

		best := candidates[0]
		result := models.MatchResult{
			OrderID:        o.ID,
			TransactionID:  best.tx.ID,
			Confidence:     models.ConfidenceFuzzy,
			VarianceAmount: o.NetRevenue().Sub(best.tx.GrossAmount),
		}
		if len(candidates) > 1 {
			result.Ambiguous = true
			result.Note = fmt.Sprintf("%d candidates within tolerance; closest amount chosen", len(candidates))
			me.logger.WithFields(logger.Fields{
				"order_id":       o.ID,
				"transaction_id": best.tx.ID,
				"candidates":     len(candidates),
			}).Warn("Ambiguous fuzzy match")
		}
		fuzzy[o.ID] = result
		set.orderByTx[best.tx.ID] = o.ID
	}

	// Assemble in order sequence
	for _, o := range orders {
		if txs := exact[o.ID]; len(txs) > 0 {
			models.SortTransactions(txs)
			variance := orderVariance(o, txs)
			for _, tx := range txs {
				set.add(models.MatchResult{
					OrderID:        o.ID,
					TransactionID:  tx.ID,
					Confidence:     models.ConfidenceExact,
					VarianceAmount: variance,
				})
			}
			continue
		}
		if r, ok := fuzzy[o.ID]; ok {
			set.add(r)
			continue
		}
		set.add(models.MatchResult{
			OrderID:        o.ID,
			Confidence:     models.ConfidenceUnmatched,
			VarianceAmount: o.TotalPrice,
		})
	}

	txs := append([]*models.Transaction(nil), p.Transactions...)
	models.SortTransactions(txs)
	for _, tx := range txs {
		if set.IsMatched(tx.ID) {
			continue
		}
		set.add(models.MatchResult{
			TransactionID:  tx.ID,
			Confidence:     models.ConfidenceUnmatched,
			VarianceAmount: decimal.Zero,
		})
	}

	summary := set.Summary()
	me.logger.WithFields(logger.Fields{
		logger.FieldPerspective:  p.Name,
		"exact":                  summary.Exact,
		"fuzzy":                  summary.Fuzzy,
		"ambiguous":              summary.Ambiguous,
		"unmatched_orders":       summary.UnmatchedOrders,
		"unmatched_transactions": summary.UnmatchedTransactions,
	}).Debug("Matched perspective")

	return set
}

// fuzzyPool returns the perspective's sales and captures that do not
// resolve to any known order. Refunds are never fuzzy-matched.
func (me *MatchingEngine) fuzzyPool(p *models.Perspective, snap *models.Snapshot) []*models.Transaction {
	var pool []*models.Transaction
	for _, tx := range p.Transactions {
		if tx.Kind != models.KindSale && tx.Kind != models.KindCapture {
			continue
		}
		if tx.Status == models.StatusFailure {
			continue
		}
		if _, ok := snap.ResolveOrder(tx); ok {
			continue
		}
		pool = append(pool, tx)
	}
	return pool
}

// rankCandidates returns unclaimed pool transactions within amount tolerance
// and time window of o, closest first.
func (me *MatchingEngine) rankCandidates(o *models.Order, index *CandidateIndex, set *MatchSet) []fuzzyCandidate {
	target := o.NetRevenue()
	tolerance := me.Config.AmountTolerance(target)

	var candidates []fuzzyCandidate
	for _, tx := range index.GetByAmountRange(target.Sub(tolerance), target.Add(tolerance)) {
		if set.IsMatched(tx.ID) {
			continue
		}
		if !me.Config.IsWithinTimeWindow(tx.ProcessedAt, o.CreatedAt) {
			continue
		}
		candidates = append(candidates, fuzzyCandidate{
			tx:         tx,
			amountDiff: tx.GrossAmount.Sub(target).Abs(),
			timeDiff:   models.AbsDuration(tx.ProcessedAt, o.CreatedAt),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.amountDiff.Cmp(b.amountDiff); c != 0 {
			return c < 0
		}
		if a.timeDiff != b.timeDiff {
			return a.timeDiff < b.timeDiff
		}
		if !a.tx.CreatedAt.Equal(b.tx.CreatedAt) {
			return a.tx.CreatedAt.Before(b.tx.CreatedAt)
		}
		return a.tx.ID < b.tx.ID
	})

	return candidates
}

// orderVariance is the order's net revenue minus what its settled
// transactions actually moved.
func orderVariance(o *models.Order, txs []*models.Transaction) decimal.Decimal {
	paid := decimal.Zero
	for _, tx := range txs {
		if tx.IsSettled() {
			paid = paid.Add(tx.GrossAmount)
		}
	}
	return o.NetRevenue().Sub(paid)
}
