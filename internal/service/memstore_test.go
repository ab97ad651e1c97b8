package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"branch-ops-service/internal/models"
	"branch-ops-service/internal/store"
)

var errInjected = errors.New("injected fault")

// memState is an in-memory copy of the tables the services touch
type memState struct {
	orders       map[string]models.KitchenOrder
	orderItems   map[string][]models.KitchenOrderItem
	txns         map[string]models.POSTransaction
	txnItems     map[string][]models.TransactionItem
	tables       map[string]models.Table
	reservations map[string]models.Reservation
}

func newMemState() *memState {
	return &memState{
		orders:       map[string]models.KitchenOrder{},
		orderItems:   map[string][]models.KitchenOrderItem{},
		txns:         map[string]models.POSTransaction{},
		txnItems:     map[string][]models.TransactionItem{},
		tables:       map[string]models.Table{},
		reservations: map[string]models.Reservation{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = append([]models.KitchenOrderItem(nil), v...)
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.txnItems {
		c.txnItems[k] = append([]models.TransactionItem(nil), v...)
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	return c
}

// memStore runs transactions one at a time on a private copy of the state and
// swaps it in on commit, which gives the all-or-nothing and row-lock
// behaviour of the database.
type memStore struct {
	mu     sync.Mutex
	state  *memState
	failOn string
	txRuns int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(store.EntityTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txRuns++

	work := m.state.clone()
	if err := fn(&memTx{state: work, failOn: m.failOn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) seed(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

type memTx struct {
	state  *memState
	failOn string
}

func (t *memTx) fault(op string) error {
	if t.failOn == op {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, store.ErrNotFound)
}

func (t *memTx) LockKitchenOrder(_ context.Context, id string) (*models.KitchenOrder, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, notFound("kitchen order", id)
	}
	return &o, nil
}

func (t *memTx) LockTransaction(_ context.Context, id string) (*models.POSTransaction, error) {
	txn, ok := t.state.txns[id]
	if !ok {
		return nil, notFound("pos transaction", id)
	}
	return &txn, nil
}

func (t *memTx) LockTable(_ context.Context, id string) (*models.Table, error) {
	table, ok := t.state.tables[id]
	if !ok {
		return nil, notFound("table", id)
	}
	return &table, nil
}

func (t *memTx) LockTableByNumber(_ context.Context, branchID, tableNumber string) (*models.Table, error) {
	for _, table := range t.state.tables {
		if table.BranchID == branchID && table.TableNumber == tableNumber {
			table := table
			return &table, nil
		}
	}
	return nil, notFound("table", tableNumber)
}

func (t *memTx) LockReservation(_ context.Context, id string) (*models.Reservation, error) {
	r, ok := t.state.reservations[id]
	if !ok {
		return nil, notFound("reservation", id)
	}
	return &r, nil
}

func (t *memTx) UpdateKitchenOrder(_ context.Context, order *models.KitchenOrder) error {
	if err := t.fault("UpdateKitchenOrder"); err != nil {
		return err
	}
	if _, ok := t.state.orders[order.ID]; !ok {
		return notFound("kitchen order", order.ID)
	}
	t.state.orders[order.ID] = *order
	return nil
}

func (t *memTx) UpdateKitchenOrderItemsStatus(_ context.Context, kitchenOrderID, status string) error {
	if err := t.fault("UpdateKitchenOrderItemsStatus"); err != nil {
		return err
	}
	items := t.state.orderItems[kitchenOrderID]
	for i := range items {
		items[i].Status = status
	}
	return nil
}

func (t *memTx) UpdateTransaction(_ context.Context, txn *models.POSTransaction) error {
	if err := t.fault("UpdateTransaction"); err != nil {
		return err
	}
	if _, ok := t.state.txns[txn.ID]; !ok {
		return notFound("pos transaction", txn.ID)
	}
	t.state.txns[txn.ID] = *txn
	return nil
}

func (t *memTx) UpdateTable(_ context.Context, table *models.Table) error {
	if err := t.fault("UpdateTable"); err != nil {
		return err
	}
	if _, ok := t.state.tables[table.ID]; !ok {
		return notFound("table", table.ID)
	}
	t.state.tables[table.ID] = *table
	return nil
}

func (t *memTx) UpdateReservation(_ context.Context, reservation *models.Reservation) error {
	if err := t.fault("UpdateReservation"); err != nil {
		return err
	}
	if _, ok := t.state.reservations[reservation.ID]; !ok {
		return notFound("reservation", reservation.ID)
	}
	t.state.reservations[reservation.ID] = *reservation
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, txn *models.POSTransaction, items []models.TransactionItem) error {
	if err := t.fault("CreateTransaction"); err != nil {
		return err
	}
	t.state.txns[txn.ID] = *txn
	t.state.txnItems[txn.ID] = append([]models.TransactionItem(nil), items...)
	return nil
}

func (t *memTx) CreateKitchenOrder(_ context.Context, order *models.KitchenOrder, items []models.KitchenOrderItem) error {
	if err := t.fault("CreateKitchenOrder"); err != nil {
		return err
	}
	t.state.orders[order.ID] = *order
	t.state.orderItems[order.ID] = append([]models.KitchenOrderItem(nil), items...)
	return nil
}

// recordingEmitter keeps every published event
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.BranchEvent
}

func (r *recordingEmitter) PublishBranchEvent(_ context.Context, event *models.BranchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}
