package store

import (
	"context"
	"database/sql"
	"fmt"

	"branch-ops-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// EntityTx is the set of row operations available inside RunInTx. Lock*
// methods take a row-level lock held until the transaction ends.
type EntityTx interface {
	LockKitchenOrder(ctx context.Context, id string) (*models.KitchenOrder, error)
	LockTransaction(ctx context.Context, id string) (*models.POSTransaction, error)
	LockTable(ctx context.Context, id string) (*models.Table, error)
	LockTableByNumber(ctx context.Context, branchID, tableNumber string) (*models.Table, error)
	LockReservation(ctx context.Context, id string) (*models.Reservation, error)

	UpdateKitchenOrder(ctx context.Context, order *models.KitchenOrder) error
	UpdateKitchenOrderItemsStatus(ctx context.Context, kitchenOrderID, status string) error
	UpdateTransaction(ctx context.Context, txn *models.POSTransaction) error
	UpdateTable(ctx context.Context, table *models.Table) error
	UpdateReservation(ctx context.Context, reservation *models.Reservation) error

	CreateTransaction(ctx context.Context, txn *models.POSTransaction, items []models.TransactionItem) error
	CreateKitchenOrder(ctx context.Context, order *models.KitchenOrder, items []models.KitchenOrderItem) error
}

// Tx implements EntityTx on a database transaction
type Tx struct {
	tx *sqlx.Tx
}

const (
	kitchenOrderColumns = `id, branch_id, order_number, transaction_id, table_number, status,
	prep_time_minutes, started_at, ready_at, served_at, created_at, updated_at`
	transactionColumns = `id, branch_id, transaction_number, table_id, total_amount, status,
	payment_status, created_by, created_at, updated_at`
	tableColumns       = `id, branch_id, table_number, status, reservation_id, guest_count, updated_at`
	reservationColumns = `id, branch_id, table_id, customer_name, guest_count, status, reserved_for, updated_at`
)

func (t *Tx) lock(ctx context.Context, dest interface{}, entity, query string, args ...interface{}) error {
	err := t.tx.GetContext(ctx, dest, query, args...)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %v: %w", entity, args[len(args)-1], ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", entity, err)
	}
	return nil
}

// LockKitchenOrder loads a kitchen order FOR UPDATE
func (t *Tx) LockKitchenOrder(ctx context.Context, id string) (*models.KitchenOrder, error) {
	var order models.KitchenOrder
	err := t.lock(ctx, &order, "kitchen order",
		"SELECT "+kitchenOrderColumns+" FROM kitchen_orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockTransaction loads a POS transaction FOR UPDATE
func (t *Tx) LockTransaction(ctx context.Context, id string) (*models.POSTransaction, error) {
	var txn models.POSTransaction
	err := t.lock(ctx, &txn, "pos transaction",
		"SELECT "+transactionColumns+" FROM pos_transactions WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// LockTable loads a table FOR UPDATE
func (t *Tx) LockTable(ctx context.Context, id string) (*models.Table, error) {
	var table models.Table
	err := t.lock(ctx, &table, "table",
		"SELECT "+tableColumns+" FROM tables WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// LockTableByNumber loads a table by its number within a branch FOR UPDATE
func (t *Tx) LockTableByNumber(ctx context.Context, branchID, tableNumber string) (*models.Table, error) {
	var table models.Table
	err := t.lock(ctx, &table, "table",
		"SELECT "+tableColumns+" FROM tables WHERE branch_id = $1 AND table_number = $2 FOR UPDATE",
		branchID, tableNumber)
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// LockReservation loads a reservation FOR UPDATE
func (t *Tx) LockReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var reservation models.Reservation
	err := t.lock(ctx, &reservation, "reservation",
		"SELECT "+reservationColumns+" FROM reservations WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// exec runs a single-row write and fails when no row was touched
func (t *Tx) exec(ctx context.Context, entity, query string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}

// UpdateKitchenOrder persists status, timestamps and preparation time
func (t *Tx) UpdateKitchenOrder(ctx context.Context, order *models.KitchenOrder) error {
	return t.exec(ctx, "kitchen order", `
		UPDATE kitchen_orders
		SET status = $1, prep_time_minutes = $2, started_at = $3, ready_at = $4, served_at = $5, updated_at = $6
		WHERE id = $7`,
		order.Status, order.PrepTimeMinutes, order.StartedAt, order.ReadyAt, order.ServedAt,
		order.UpdatedAt, order.ID)
}

// UpdateKitchenOrderItemsStatus moves every line of a kitchen order to status
func (t *Tx) UpdateKitchenOrderItemsStatus(ctx context.Context, kitchenOrderID, status string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE kitchen_order_items SET status = $1 WHERE kitchen_order_id = $2",
		status, kitchenOrderID)
	if err != nil {
		return fmt.Errorf("failed to update kitchen order items: %w", err)
	}
	return nil
}

// UpdateTransaction persists POS status and payment status
func (t *Tx) UpdateTransaction(ctx context.Context, txn *models.POSTransaction) error {
	return t.exec(ctx, "pos transaction",
		"UPDATE pos_transactions SET status = $1, payment_status = $2, updated_at = $3 WHERE id = $4",
		txn.Status, txn.PaymentStatus, txn.UpdatedAt, txn.ID)
}

// UpdateTable persists status and guest association
func (t *Tx) UpdateTable(ctx context.Context, table *models.Table) error {
	return t.exec(ctx, "table",
		"UPDATE tables SET status = $1, reservation_id = $2, guest_count = $3, updated_at = $4 WHERE id = $5",
		table.Status, table.ReservationID, table.GuestCount, table.UpdatedAt, table.ID)
}

// UpdateReservation persists status and table association
func (t *Tx) UpdateReservation(ctx context.Context, reservation *models.Reservation) error {
	return t.exec(ctx, "reservation",
		"UPDATE reservations SET status = $1, table_id = $2, updated_at = $3 WHERE id = $4",
		reservation.Status, reservation.TableID, reservation.UpdatedAt, reservation.ID)
}

// CreateTransaction inserts a POS transaction and its items
func (t *Tx) CreateTransaction(ctx context.Context, txn *models.POSTransaction, items []models.TransactionItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pos_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.BranchID, txn.TransactionNumber, txn.TableID, txn.TotalAmount, txn.Status,
		txn.PaymentStatus, txn.CreatedBy, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pos transaction: %w", err)
	}

	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.TransactionID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to create transaction item: %w", err)
		}
	}
	return nil
}

// CreateKitchenOrder inserts a kitchen order and its items
func (t *Tx) CreateKitchenOrder(ctx context.Context, order *models.KitchenOrder, items []models.KitchenOrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO kitchen_orders (`+kitchenOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.BranchID, order.OrderNumber, order.TransactionID, order.TableNumber, order.Status,
		order.PrepTimeMinutes, order.StartedAt, order.ReadyAt, order.ServedAt, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create kitchen order: %w", err)
	}

	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO kitchen_order_items (id, kitchen_order_id, product_id, product_name, quantity, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.KitchenOrderID, item.ProductID, item.ProductName, item.Quantity, item.Status, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create kitchen order item: %w", err)
		}
	}
	return nil
}
