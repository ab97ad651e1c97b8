package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"branch-ops-service/internal/models"
	"branch-ops-service/internal/store"
	"branch-ops-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TxRunner runs a function inside one database transaction
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(store.EntityTx) error) error
}

// SyncService keeps a kitchen order, its POS transaction and its table in step
type SyncService struct {
	tx        TxRunner
	emitter   EventEmitter
	txTimeout time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewSyncService creates a new sync service. emitter may be nil.
func NewSyncService(tx TxRunner, emitter EventEmitter, txTimeout time.Duration) *SyncService {
	return &SyncService{
		tx:        tx,
		emitter:   emitter,
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// SyncRequest identifies the anchor kitchen order and, optionally, the linked
// entities already resolved by the caller.
type SyncRequest struct {
	KitchenOrderID string
	TransactionID  string
	TableID        string
	Action         string
}

// StatusUpdates holds the resulting status of each entity family; empty when absent
type StatusUpdates struct {
	Kitchen string
	POS     string
	Table   string
}

// SyncResult describes a committed synchronization
type SyncResult struct {
	Action         Action
	Updates        StatusUpdates
	KitchenOrderID string
	TransactionID  string
	TableID        string
	TableNumber    string
}

// syncContext is the locked set of rows one action works on
type syncContext struct {
	order *models.KitchenOrder
	txn   *models.POSTransaction
	table *models.Table
}

// Synchronize applies action to the kitchen order and its linked entities in
// one transaction. Nothing changes unless every write succeeds.
func (s *SyncService) Synchronize(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "SyncService.Synchronize",
		attribute.String("action", req.Action),
		attribute.String("kitchen_order_id", req.KitchenOrderID))
	defer span.End()

	if req.KitchenOrderID == "" {
		return nil, validationError("kitchenOrderId is required")
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		util.SyncActionsTotal.WithLabelValues("unknown", outcome(err)).Inc()
		return nil, err
	}

	start := time.Now()
	defer func() {
		util.SyncActionLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	}()

	txCtx, cancel := withTxTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		result *SyncResult
		batch  *eventBatch
	)
	err = s.tx.RunInTx(txCtx, func(tx store.EntityTx) error {
		sc, err := s.loadContext(txCtx, tx, req)
		if err != nil {
			return err
		}

		batch = newEventBatch(sc.order.BranchID, s.now())
		if err := s.apply(txCtx, tx, action, sc, batch); err != nil {
			return err
		}

		result = newSyncResult(action, sc)
		return nil
	})

	err = classify(err)
	util.SyncActionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Sync action rolled back",
			zap.String("action", string(action)),
			zap.String("kitchen_order_id", req.KitchenOrderID),
			zap.Error(err))
		return nil, err
	}

	util.BranchLogger(s.logger, batch.branchID, zap.String("action", string(action))).Info("Sync action applied",
		zap.String("kitchen_order_id", result.KitchenOrderID),
		zap.String("kitchen_status", result.Updates.Kitchen),
		zap.String("pos_status", result.Updates.POS),
		zap.String("table_status", result.Updates.Table))

	emit(ctx, s.emitter, s.logger, batch)
	return result, nil
}

// withTxTimeout bounds ctx by timeout. A non-positive timeout adds no bound.
func withTxTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// loadContext locks the anchor order first, then its transaction and table.
// Linked rows that no longer exist are treated as absent.
func (s *SyncService) loadContext(ctx context.Context, tx store.EntityTx, req SyncRequest) (*syncContext, error) {
	order, err := tx.LockKitchenOrder(ctx, req.KitchenOrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: kitchen order %s", ErrNotFound, req.KitchenOrderID)
		}
		return nil, err
	}
	sc := &syncContext{order: order}

	txnID := req.TransactionID
	if txnID == "" && order.TransactionID.Valid {
		txnID = order.TransactionID.String
	}
	if txnID != "" {
		sc.txn, err = tx.LockTransaction(ctx, txnID)
		if err = s.linked(err, "pos transaction", txnID, order.ID); err != nil {
			return nil, err
		}
	}

	switch {
	case req.TableID != "":
		sc.table, err = tx.LockTable(ctx, req.TableID)
		err = s.linked(err, "table", req.TableID, order.ID)
	case order.TableNumber.Valid && order.TableNumber.String != "":
		sc.table, err = tx.LockTableByNumber(ctx, order.BranchID, order.TableNumber.String)
		err = s.linked(err, "table", order.TableNumber.String, order.ID)
	}
	if err != nil {
		return nil, err
	}

	return sc, nil
}

func (s *SyncService) linked(err error, entity, ref, orderID string) error {
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Linked entity missing, continuing without it",
			zap.String("entity", entity),
			zap.String("ref", ref),
			zap.String("kitchen_order_id", orderID))
		return nil
	}
	return err
}

func (s *SyncService) apply(ctx context.Context, tx store.EntityTx, action Action, sc *syncContext, batch *eventBatch) error {
	switch action {
	case ActionStartCooking:
		return s.startCooking(ctx, tx, sc, batch)
	case ActionMarkReady:
		return s.markReady(ctx, tx, sc, batch)
	case ActionServeOrder:
		return s.serveOrder(ctx, tx, sc, batch)
	case ActionCompletePayment:
		return s.completePayment(ctx, tx, sc, batch)
	case ActionCancelOrder:
		return s.cancelOrder(ctx, tx, sc, batch)
	}
	return fmt.Errorf("%w: %q", ErrInvalidAction, action)
}

func (s *SyncService) startCooking(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if err := checkKitchenTransition(sc.order, models.KitchenStatusPreparing); err != nil {
		return err
	}
	sc.order.Status = models.KitchenStatusPreparing
	sc.order.StartedAt.Time, sc.order.StartedAt.Valid = batch.at, true
	sc.order.UpdatedAt = batch.at
	if err := tx.UpdateKitchenOrder(ctx, sc.order); err != nil {
		return err
	}

	batch.add(models.EventKitchenOrderStarted, kitchenOrderData{OrderNumber: sc.order.OrderNumber})
	return nil
}

func (s *SyncService) markReady(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if err := checkKitchenTransition(sc.order, models.KitchenStatusReady); err != nil {
		return err
	}
	sc.order.Status = models.KitchenStatusReady
	sc.order.ReadyAt.Time, sc.order.ReadyAt.Valid = batch.at, true
	sc.order.UpdatedAt = batch.at

	var prep float64
	if sc.order.StartedAt.Valid {
		prep = math.Round(batch.at.Sub(sc.order.StartedAt.Time).Minutes())
		if prep < 0 {
			prep = 0
		}
		sc.order.PrepTimeMinutes.Int64, sc.order.PrepTimeMinutes.Valid = int64(prep), true
	}

	if err := tx.UpdateKitchenOrder(ctx, sc.order); err != nil {
		return err
	}
	if err := tx.UpdateKitchenOrderItemsStatus(ctx, sc.order.ID, models.ItemStatusReady); err != nil {
		return err
	}

	batch.add(models.EventKitchenOrderCompleted, kitchenOrderData{OrderNumber: sc.order.OrderNumber, PrepTime: &prep})
	return nil
}

func (s *SyncService) serveOrder(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if err := checkKitchenTransition(sc.order, models.KitchenStatusServed); err != nil {
		return err
	}
	sc.order.Status = models.KitchenStatusServed
	sc.order.ServedAt.Time, sc.order.ServedAt.Valid = batch.at, true
	sc.order.UpdatedAt = batch.at
	if err := tx.UpdateKitchenOrder(ctx, sc.order); err != nil {
		return err
	}

	if sc.txn == nil {
		return nil
	}
	changed, err := completeTransaction(sc.txn)
	if err != nil || !changed {
		return err
	}
	sc.txn.UpdatedAt = batch.at
	if err := tx.UpdateTransaction(ctx, sc.txn); err != nil {
		return err
	}
	addOrderCompleted(batch, sc)
	return nil
}

func (s *SyncService) completePayment(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if sc.order.Status == models.KitchenStatusCancelled {
		return fmt.Errorf("%w: kitchen order %s is cancelled", ErrTerminalState, sc.order.ID)
	}
	if sc.txn == nil {
		return fmt.Errorf("%w: %s", ErrNoLinkedTransaction, sc.order.ID)
	}
	if sc.txn.PaymentStatus == models.PaymentStatusPaid {
		return fmt.Errorf("%w: transaction %s is already paid", ErrInvalidTransition, sc.txn.ID)
	}

	changed, err := completeTransaction(sc.txn)
	if err != nil {
		return err
	}
	sc.txn.PaymentStatus = models.PaymentStatusPaid
	sc.txn.UpdatedAt = batch.at
	if err := tx.UpdateTransaction(ctx, sc.txn); err != nil {
		return err
	}
	if changed {
		addOrderCompleted(batch, sc)
	}

	return s.releaseTable(ctx, tx, sc, batch)
}

func (s *SyncService) cancelOrder(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if err := checkKitchenTransition(sc.order, models.KitchenStatusCancelled); err != nil {
		return err
	}
	sc.order.Status = models.KitchenStatusCancelled
	sc.order.UpdatedAt = batch.at
	if err := tx.UpdateKitchenOrder(ctx, sc.order); err != nil {
		return err
	}

	if sc.txn != nil {
		changed, err := cancelTransaction(sc.txn)
		if err != nil {
			return err
		}
		if changed {
			sc.txn.UpdatedAt = batch.at
			if err := tx.UpdateTransaction(ctx, sc.txn); err != nil {
				return err
			}
		}
	}

	return s.releaseTable(ctx, tx, sc, batch)
}

// releaseTable frees the linked table; an already free table is left alone
func (s *SyncService) releaseTable(ctx context.Context, tx store.EntityTx, sc *syncContext, batch *eventBatch) error {
	if sc.table == nil || sc.table.Status == models.TableStatusAvailable {
		return nil
	}
	sc.table.Release()
	sc.table.UpdatedAt = batch.at
	if err := tx.UpdateTable(ctx, sc.table); err != nil {
		return err
	}
	batch.add(models.EventTableReleased, tableData{TableNumber: sc.table.TableNumber})
	return nil
}

func addOrderCompleted(batch *eventBatch, sc *syncContext) {
	amount := sc.txn.TotalAmount
	batch.add(models.EventOrderCompleted, orderData{OrderNumber: sc.txn.TransactionNumber, Amount: &amount})
}

func newSyncResult(action Action, sc *syncContext) *SyncResult {
	r := &SyncResult{
		Action:         action,
		KitchenOrderID: sc.order.ID,
		Updates:        StatusUpdates{Kitchen: sc.order.Status},
	}
	if sc.txn != nil {
		r.TransactionID = sc.txn.ID
		r.Updates.POS = sc.txn.Status
	}
	if sc.table != nil {
		r.TableID = sc.table.ID
		r.TableNumber = sc.table.TableNumber
		r.Updates.Table = sc.table.Status
	} else if sc.order.TableNumber.Valid {
		r.TableNumber = sc.order.TableNumber.String
	}
	return r
}
