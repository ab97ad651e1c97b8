package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// KitchenOrder is the back-of-house production record and the anchor of every sync action
type KitchenOrder struct {
	ID              string         `db:"id" json:"id"`
	BranchID        string         `db:"branch_id" json:"branch_id"`
	OrderNumber     string         `db:"order_number" json:"order_number"`
	TransactionID   sql.NullString `db:"transaction_id" json:"-"`
	TableNumber     sql.NullString `db:"table_number" json:"-"`
	Status          string         `db:"status" json:"status"`
	PrepTimeMinutes sql.NullInt64  `db:"prep_time_minutes" json:"-"`
	StartedAt       sql.NullTime   `db:"started_at" json:"-"`
	ReadyAt         sql.NullTime   `db:"ready_at" json:"-"`
	ServedAt        sql.NullTime   `db:"served_at" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// KitchenOrderItem is a single line on a kitchen order
type KitchenOrderItem struct {
	ID             string    `db:"id" json:"id"`
	KitchenOrderID string    `db:"kitchen_order_id" json:"kitchen_order_id"`
	ProductID      string    `db:"product_id" json:"product_id"`
	ProductName    string    `db:"product_name" json:"product_name"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// POSTransaction is the point-of-sale financial record for a customer order
type POSTransaction struct {
	ID                string          `db:"id" json:"id"`
	BranchID          string          `db:"branch_id" json:"branch_id"`
	TransactionNumber string          `db:"transaction_number" json:"transaction_number"`
	TableID           sql.NullString  `db:"table_id" json:"-"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status            string          `db:"status" json:"status"`
	PaymentStatus     string          `db:"payment_status" json:"payment_status"`
	CreatedBy         string          `db:"created_by" json:"created_by"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// TransactionItem is a priced line on a POS transaction
type TransactionItem struct {
	ID            string          `db:"id" json:"id"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	ProductID     string          `db:"product_id" json:"product_id"`
	ProductName   string          `db:"product_name" json:"product_name"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// Table is a dine-in table within a branch
type Table struct {
	ID            string         `db:"id" json:"id"`
	BranchID      string         `db:"branch_id" json:"branch_id"`
	TableNumber   string         `db:"table_number" json:"table_number"`
	Status        string         `db:"status" json:"status"`
	ReservationID sql.NullString `db:"reservation_id" json:"-"`
	GuestCount    int            `db:"guest_count" json:"guest_count"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Release frees the table and drops its reservation and guest association
func (t *Table) Release() {
	t.Status = TableStatusAvailable
	t.ReservationID = sql.NullString{}
	t.GuestCount = 0
}

// Reservation is a booking that may be converted into a seated order
type Reservation struct {
	ID           string         `db:"id" json:"id"`
	BranchID     string         `db:"branch_id" json:"branch_id"`
	TableID      sql.NullString `db:"table_id" json:"-"`
	CustomerName string         `db:"customer_name" json:"customer_name"`
	GuestCount   int            `db:"guest_count" json:"guest_count"`
	Status       string         `db:"status" json:"status"`
	ReservedFor  time.Time      `db:"reserved_for" json:"reserved_for"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// BranchSettings holds the per-branch values the metrics snapshot is seeded with
type BranchSettings struct {
	BranchID              string `db:"branch_id" json:"branch_id"`
	TotalTables           int    `db:"total_tables" json:"total_tables"`
	TotalEmployees        int    `db:"total_employees" json:"total_employees"`
	KitchenTargetMinutes  int    `db:"kitchen_target_minutes" json:"kitchen_target_minutes"`
	ServiceTargetMinutes  int    `db:"service_target_minutes" json:"service_target_minutes"`
	DeliveryTargetMinutes int    `db:"delivery_target_minutes" json:"delivery_target_minutes"`
}

// Kitchen order statuses
const (
	KitchenStatusNew       = "new"
	KitchenStatusPreparing = "preparing"
	KitchenStatusReady     = "ready"
	KitchenStatusServed    = "served"
	KitchenStatusCancelled = "cancelled"
)

// Kitchen order item statuses
const (
	ItemStatusPending = "pending"
	ItemStatusReady   = "ready"
)

// POS transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Table statuses
const (
	TableStatusAvailable = "available"
	TableStatusOccupied  = "occupied"
	TableStatusReserved  = "reserved"
)

// Reservation statuses
const (
	ReservationStatusPending   = "pending"
	ReservationStatusSeated    = "seated"
	ReservationStatusCancelled = "cancelled"
)

// Session is the authenticated identity behind an API request
type Session struct {
	Token    string `json:"-"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	BranchID string `json:"branch_id,omitempty"`
}
