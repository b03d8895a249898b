package models

import "sort"

// Snapshot is the immutable, fully materialized record set of one run.
// Every perspective is projected from it; nothing downstream mutates it.
type Snapshot struct {
	orders       []*Order
	transactions []*Transaction
	ordersByID   map[string]*Order
	txByID       map[string]*Transaction
	txByOrder    map[string][]*Transaction
}

// NewSnapshot indexes orders and transactions. Inputs are copied and sorted so
// that iteration order does not depend on extraction order. Ids are expected
// to be unique already.
func NewSnapshot(orders []*Order, transactions []*Transaction) *Snapshot {
	s := &Snapshot{
		orders:       append([]*Order(nil), orders...),
		transactions: append([]*Transaction(nil), transactions...),
		ordersByID:   make(map[string]*Order, len(orders)),
		txByID:       make(map[string]*Transaction, len(transactions)),
		txByOrder:    make(map[string][]*Transaction),
	}

	SortOrders(s.orders)
	SortTransactions(s.transactions)

	for _, o := range s.orders {
		s.ordersByID[o.ID] = o
	}
	for _, tx := range s.transactions {
		s.txByID[tx.ID] = tx
	}
	for _, tx := range s.transactions {
		if ref := s.OrderRefFor(tx); ref != "" {
			s.txByOrder[ref] = append(s.txByOrder[ref], tx)
		}
	}

	return s
}

// Orders returns all orders sorted by created_at then id
func (s *Snapshot) Orders() []*Order {
	return append([]*Order(nil), s.orders...)
}

// Transactions returns all transactions sorted by processed_at then id
func (s *Snapshot) Transactions() []*Transaction {
	return append([]*Transaction(nil), s.transactions...)
}

// Order looks up an order by id
func (s *Snapshot) Order(id string) (*Order, bool) {
	o, ok := s.ordersByID[id]
	return o, ok
}

// Transaction looks up a transaction by id
func (s *Snapshot) Transaction(id string) (*Transaction, bool) {
	tx, ok := s.txByID[id]
	return tx, ok
}

// OrderRefFor returns the order a transaction belongs to. Refunds take the
// reference of their parent sale when the parent is known.
func (s *Snapshot) OrderRefFor(tx *Transaction) string {
	if tx.Kind == KindRefund && tx.ParentID != "" {
		if parent, ok := s.txByID[tx.ParentID]; ok && parent.OrderRef != "" {
			return parent.OrderRef
		}
	}
	return tx.OrderRef
}

// ResolveOrder returns the order referenced by tx if it exists in the snapshot
func (s *Snapshot) ResolveOrder(tx *Transaction) (*Order, bool) {
	ref := s.OrderRefFor(tx)
	if ref == "" {
		return nil, false
	}
	return s.Order(ref)
}

// TransactionsForOrder returns the transactions referencing an order, sorted by processed_at then id
func (s *Snapshot) TransactionsForOrder(orderID string) []*Transaction {
	return append([]*Transaction(nil), s.txByOrder[orderID]...)
}

// SortOrders sorts by created_at then id
func SortOrders(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// SortTransactions sorts by processed_at then id
func SortTransactions(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.ProcessedAt.Equal(b.ProcessedAt) {
			return a.ProcessedAt.Before(b.ProcessedAt)
		}
		return a.ID < b.ID
	})
}
