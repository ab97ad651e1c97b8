package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"branch-ops-service/internal/models"
	"branch-ops-service/internal/store"
	"branch-ops-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReservationService seats reservations and opens their first order
type ReservationService struct {
	tx        TxRunner
	emitter   EventEmitter
	txTimeout time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewReservationService creates a new reservation service. emitter may be nil.
func NewReservationService(tx TxRunner, emitter EventEmitter, txTimeout time.Duration) *ReservationService {
	return &ReservationService{
		tx:        tx,
		emitter:   emitter,
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// ConvertRequest represents a request to seat a reservation
type ConvertRequest struct {
	ReservationID string             `json:"-"`
	TableID       string             `json:"tableId"`
	Items         []OrderItemRequest `json:"items"`
	CreatedBy     string             `json:"createdBy"`
}

// OrderItemRequest represents an item ordered on conversion
type OrderItemRequest struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// ConversionResult describes a committed conversion
type ConversionResult struct {
	ReservationID  string
	TableID        string
	TableNumber    string
	TransactionID  string
	KitchenOrderID string
	OrderNumber    string
	TotalAmount    decimal.Decimal
}

// ConvertReservation seats a pending reservation at an available table and,
// when items are supplied, opens a POS transaction and kitchen order for them.
// The table check and every write happen in one transaction.
func (s *ReservationService) ConvertReservation(ctx context.Context, req *ConvertRequest) (*ConversionResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ConvertReservation",
		attribute.String("reservation_id", req.ReservationID))
	defer span.End()

	if err := validateConvertRequest(req); err != nil {
		util.ReservationConversionsTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	txCtx, cancel := withTxTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		result *ConversionResult
		batch  *eventBatch
	)
	err := s.tx.RunInTx(txCtx, func(tx store.EntityTx) error {
		var err error
		result, batch, err = s.convert(txCtx, tx, req)
		return err
	})

	err = classify(err)
	util.ReservationConversionsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Reservation conversion rolled back",
			zap.String("reservation_id", req.ReservationID),
			zap.String("table_id", req.TableID),
			zap.Error(err))
		return nil, err
	}

	util.BranchLogger(s.logger, batch.branchID).Info("Reservation converted",
		zap.String("reservation_id", result.ReservationID),
		zap.String("table_id", result.TableID),
		zap.String("kitchen_order_id", result.KitchenOrderID),
		zap.String("total", result.TotalAmount.StringFixed(2)))

	emit(ctx, s.emitter, s.logger, batch)
	return result, nil
}

func (s *ReservationService) convert(ctx context.Context, tx store.EntityTx, req *ConvertRequest) (*ConversionResult, *eventBatch, error) {
	reservation, err := tx.LockReservation(ctx, req.ReservationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: reservation %s", ErrNotFound, req.ReservationID)
		}
		return nil, nil, err
	}
	if reservation.Status != models.ReservationStatusPending {
		return nil, nil, fmt.Errorf("%w: reservation %s is %s", ErrReservationNotActive, reservation.ID, reservation.Status)
	}

	tableID := req.TableID
	if tableID == "" {
		tableID = reservation.TableID.String
	}
	if tableID == "" {
		return nil, nil, validationError("tableId is required")
	}

	previousID := ""
	if reservation.TableID.Valid && reservation.TableID.String != tableID {
		previousID = reservation.TableID.String
	}
	table, previous, err := s.lockTables(ctx, tx, tableID, previousID)
	if err != nil {
		return nil, nil, err
	}
	heldForUs := table.Status == models.TableStatusReserved &&
		table.ReservationID.Valid && table.ReservationID.String == reservation.ID
	if table.Status != models.TableStatusAvailable && !heldForUs {
		return nil, nil, fmt.Errorf("%w: table %s is %s", ErrTableUnavailable, table.TableNumber, table.Status)
	}

	now := s.now()
	batch := newEventBatch(reservation.BranchID, now)

	reservation.Status = models.ReservationStatusSeated
	reservation.TableID = sql.NullString{String: table.ID, Valid: true}
	reservation.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, reservation); err != nil {
		return nil, nil, err
	}

	table.Status = models.TableStatusOccupied
	table.ReservationID = sql.NullString{String: reservation.ID, Valid: true}
	table.GuestCount = reservation.GuestCount
	table.UpdatedAt = now
	if err := tx.UpdateTable(ctx, table); err != nil {
		return nil, nil, err
	}
	// The table held for this reservation is handed back. table.occupied
	// followed by table.released on it moves one table from reserved to available.
	if previous != nil && previous.Status == models.TableStatusReserved &&
		previous.ReservationID.Valid && previous.ReservationID.String == reservation.ID {
		previous.Release()
		previous.UpdatedAt = now
		if err := tx.UpdateTable(ctx, previous); err != nil {
			return nil, nil, err
		}
		batch.add(models.EventTableOccupied, tableData{TableNumber: previous.TableNumber, FromReservation: true})
		batch.add(models.EventTableReleased, tableData{TableNumber: previous.TableNumber})
	}
	batch.add(models.EventTableOccupied, tableData{TableNumber: table.TableNumber, FromReservation: heldForUs})

	result := &ConversionResult{
		ReservationID: reservation.ID,
		TableID:       table.ID,
		TableNumber:   table.TableNumber,
		TotalAmount:   decimal.Zero,
	}
	if len(req.Items) == 0 {
		return result, batch, nil
	}

	txn, txnItems := newTransaction(reservation.BranchID, table.ID, req, now)
	if err := tx.CreateTransaction(ctx, txn, txnItems); err != nil {
		return nil, nil, err
	}

	order, orderItems := newKitchenOrder(txn, table.TableNumber, req.Items, now)
	if err := tx.CreateKitchenOrder(ctx, order, orderItems); err != nil {
		return nil, nil, err
	}

	result.TransactionID = txn.ID
	result.KitchenOrderID = order.ID
	result.OrderNumber = order.OrderNumber
	result.TotalAmount = txn.TotalAmount

	batch.add(models.EventOrderCreated, orderData{OrderNumber: txn.TransactionNumber, OrderType: "dine_in", Channel: "pos"})
	batch.add(models.EventKitchenOrderCreated, kitchenOrderData{OrderNumber: order.OrderNumber})
	return result, batch, nil
}

// lockTables locks the target table and the table previously held for the
// reservation in id order. A previous table that no longer exists is ignored.
func (s *ReservationService) lockTables(ctx context.Context, tx store.EntityTx, tableID, previousID string) (*models.Table, *models.Table, error) {
	var table, previous *models.Table
	lockTarget := func() error {
		var err error
		table, err = tx.LockTable(ctx, tableID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: table %s", ErrNotFound, tableID)
		}
		return err
	}
	lockPrevious := func() error {
		var err error
		previous, err = tx.LockTable(ctx, previousID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Previously held table missing",
				zap.String("table_id", previousID))
			previous = nil
			return nil
		}
		return err
	}

	steps := []func() error{lockTarget}
	if previousID != "" {
		if previousID < tableID {
			steps = []func() error{lockPrevious, lockTarget}
		} else {
			steps = append(steps, lockPrevious)
		}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, nil, err
		}
	}
	return table, previous, nil
}

func validateConvertRequest(req *ConvertRequest) error {
	if strings.TrimSpace(req.ReservationID) == "" {
		return validationError("reservation id is required")
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return validationError(fmt.Sprintf("items[%d].productId is required", i))
		}
		if item.Quantity <= 0 {
			return validationError(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if item.UnitPrice.IsNegative() {
			return validationError(fmt.Sprintf("items[%d].unitPrice must not be negative", i))
		}
	}
	return nil
}

// calculateTotal calculates the total amount for the ordered items
func calculateTotal(items []OrderItemRequest) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func newTransaction(branchID, tableID string, req *ConvertRequest, now time.Time) (*models.POSTransaction, []models.TransactionItem) {
	txn := &models.POSTransaction{
		ID:                uuid.New().String(),
		BranchID:          branchID,
		TransactionNumber: fmt.Sprintf("TXN-%s", uuid.New().String()[:8]),
		TableID:           sql.NullString{String: tableID, Valid: true},
		TotalAmount:       calculateTotal(req.Items),
		Status:            models.TransactionStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]models.TransactionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.TransactionItem{
			ID:            uuid.New().String(),
			TransactionID: txn.ID,
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Subtotal:      item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return txn, items
}

func newKitchenOrder(txn *models.POSTransaction, tableNumber string, reqItems []OrderItemRequest, now time.Time) (*models.KitchenOrder, []models.KitchenOrderItem) {
	order := &models.KitchenOrder{
		ID:            uuid.New().String(),
		BranchID:      txn.BranchID,
		OrderNumber:   fmt.Sprintf("KO-%s", uuid.New().String()[:8]),
		TransactionID: sql.NullString{String: txn.ID, Valid: true},
		TableNumber:   sql.NullString{String: tableNumber, Valid: tableNumber != ""},
		Status:        models.KitchenStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	items := make([]models.KitchenOrderItem, 0, len(reqItems))
	for _, item := range reqItems {
		items = append(items, models.KitchenOrderItem{
			ID:             uuid.New().String(),
			KitchenOrderID: order.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			Status:         models.ItemStatusPending,
			CreatedAt:      now,
		})
	}
	return order, items
}
