// Package perspective projects a run snapshot into named date views.
//
// The creation view groups by order creation day, the processing view by
// payment processing day and the hybrid view keeps only orders paid on the
// day they were created. Views are rebuilt from the snapshot on every call
// and are not expected to agree; their divergence is what a run reports.
package perspective

import (
	"fmt"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// Date mismatch categories
const (
	MismatchNoPaymentInRange    = "order_created_no_payment_in_range"
	MismatchAmount              = "amount_mismatch"
	MismatchOrderDifferentDay   = "payment_in_range_order_different_day"
	MismatchPaymentWithoutOrder = "payment_without_order"
)

// Builder projects perspectives from a snapshot
type Builder struct {
	logger logger.Logger
}

// NewBuilder creates a perspective builder
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Builder{logger: log.WithComponent("perspective")}
}

// Build projects a single named view over r
func (b *Builder) Build(snap *models.Snapshot, r models.DateRange, name models.PerspectiveName) (*models.Perspective, error) {
	var p *models.Perspective
	switch name {
	case models.PerspectiveCreation:
		p = creationView(snap, r)
	case models.PerspectiveProcessing:
		p = processingView(snap, r)
	case models.PerspectiveHybrid:
		p = hybridView(snap, r)
	default:
		return nil, fmt.Errorf("unknown perspective '%s'", name)
	}

	b.logger.WithFields(logger.Fields{
		logger.FieldPerspective: name,
		"range":                 r.String(),
		"orders":                len(p.Orders),
		"transactions":          len(p.Transactions),
	}).Debug("Built perspective")

	return p, nil
}

// BuildAll projects each requested view independently, in the order given
func (b *Builder) BuildAll(snap *models.Snapshot, r models.DateRange, names []models.PerspectiveName) ([]*models.Perspective, error) {
	out := make([]*models.Perspective, 0, len(names))
	for _, name := range names {
		p, err := b.Build(snap, r, name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// creationView holds orders created in range and every transaction that
// resolves to them, whenever it was processed.
func creationView(snap *models.Snapshot, r models.DateRange) *models.Perspective {
	p := &models.Perspective{Name: models.PerspectiveCreation, DateRange: r}
	for _, o := range snap.Orders() {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		p.Orders = append(p.Orders, o)
		p.Transactions = append(p.Transactions, snap.TransactionsForOrder(o.ID)...)
	}
	models.SortTransactions(p.Transactions)
	return p
}

// processingView holds transactions processed in range. The orders they
// reference come along so they can be matched, whenever they were created.
// Orders created in range that no transaction references are added as
// fuzzy-match targets for unreferenced payments.
func processingView(snap *models.Snapshot, r models.DateRange) *models.Perspective {
	p := &models.Perspective{Name: models.PerspectiveProcessing, DateRange: r}
	seen := make(map[string]struct{})
	for _, tx := range snap.Transactions() {
		if !r.Contains(tx.ProcessedAt) {
			continue
		}
		p.Transactions = append(p.Transactions, tx)
		if o, ok := snap.ResolveOrder(tx); ok {
			if _, dup := seen[o.ID]; !dup {
				seen[o.ID] = struct{}{}
				p.Orders = append(p.Orders, o)
			}
		}
	}
	for _, o := range snap.Orders() {
		if _, dup := seen[o.ID]; dup || !r.Contains(o.CreatedAt) {
			continue
		}
		if len(snap.TransactionsForOrder(o.ID)) == 0 {
			p.Orders = append(p.Orders, o)
		}
	}
	models.SortOrders(p.Orders)
	return p
}

// hybridView keeps orders created in range that have at least one
// transaction processed on the same calendar day, with those transactions.
func hybridView(snap *models.Snapshot, r models.DateRange) *models.Perspective {
	p := &models.Perspective{Name: models.PerspectiveHybrid, DateRange: r}
	for _, o := range snap.Orders() {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		day := r.Day(o.CreatedAt)
		var sameDay []*models.Transaction
		for _, tx := range snap.TransactionsForOrder(o.ID) {
			if r.Contains(tx.ProcessedAt) && r.Day(tx.ProcessedAt) == day {
				sameDay = append(sameDay, tx)
			}
		}
		if len(sameDay) == 0 {
			continue
		}
		p.Orders = append(p.Orders, o)
		p.Transactions = append(p.Transactions, sameDay...)
	}
	models.SortTransactions(p.Transactions)
	return p
}

// DateMismatches lists the records that make the creation and processing
// views diverge over r.
func DateMismatches(snap *models.Snapshot, r models.DateRange) []models.DateMismatch {
	var out []models.DateMismatch

	for _, o := range snap.Orders() {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		paid := decimal.Zero
		count := 0
		for _, tx := range snap.TransactionsForOrder(o.ID) {
			if r.Contains(tx.ProcessedAt) && tx.IsSettled() {
				paid = paid.Add(tx.GrossAmount)
				count++
			}
		}
		switch {
		case count == 0:
			out = append(out, models.DateMismatch{
				Category: MismatchNoPaymentInRange,
				OrderID:  o.ID,
				OrderDay: r.Day(o.CreatedAt),
				Amount:   o.TotalPrice,
			})
		case !models.CompareAmountsWithTolerance(o.NetRevenue(), paid, decimal.New(1, -2)):
			out = append(out, models.DateMismatch{
				Category: MismatchAmount,
				OrderID:  o.ID,
				OrderDay: r.Day(o.CreatedAt),
				Amount:   o.NetRevenue().Sub(paid),
			})
		}
	}

	for _, tx := range snap.Transactions() {
		if !r.Contains(tx.ProcessedAt) || !tx.IsSettled() {
			continue
		}
		o, ok := snap.ResolveOrder(tx)
		switch {
		case !ok:
			out = append(out, models.DateMismatch{
				Category:      MismatchPaymentWithoutOrder,
				TransactionID: tx.ID,
				ProcessedDay:  r.Day(tx.ProcessedAt),
				Amount:        tx.GrossAmount,
			})
		case !r.Contains(o.CreatedAt):
			out = append(out, models.DateMismatch{
				Category:      MismatchOrderDifferentDay,
				OrderID:       o.ID,
				TransactionID: tx.ID,
				OrderDay:      r.Day(o.CreatedAt),
				ProcessedDay:  r.Day(tx.ProcessedAt),
				Amount:        tx.GrossAmount,
			})
		}
	}

	return out
}
