package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"branch-ops-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type syncFixture struct {
	mem     *memStore
	emitter *recordingEmitter
	svc     *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	mem := newMemStore()
	emitter := &recordingEmitter{}
	svc := NewSyncService(mem, emitter, 5*time.Second)
	svc.now = func() time.Time { return t0 }
	return &syncFixture{mem: mem, emitter: emitter, svc: svc}
}

// seedLinked stores a kitchen order linked to a POS transaction and to table T4
func (f *syncFixture) seedLinked(kitchenStatus, txnStatus, paymentStatus, tableStatus string) {
	f.mem.seed(func(s *memState) {
		s.orders["ko-1"] = models.KitchenOrder{
			ID: "ko-1", BranchID: "b1", OrderNumber: "KO-1",
			TransactionID: sql.NullString{String: "txn-1", Valid: true},
			TableNumber:   sql.NullString{String: "T4", Valid: true},
			Status:        kitchenStatus,
			StartedAt:     sql.NullTime{Time: t0.Add(-20 * time.Minute), Valid: kitchenStatus != models.KitchenStatusNew},
		}
		s.orderItems["ko-1"] = []models.KitchenOrderItem{
			{ID: "ki-1", KitchenOrderID: "ko-1", Status: models.ItemStatusPending},
			{ID: "ki-2", KitchenOrderID: "ko-1", Status: models.ItemStatusPending},
		}
		s.txns["txn-1"] = models.POSTransaction{
			ID: "txn-1", BranchID: "b1", TransactionNumber: "TXN-1",
			TotalAmount: decimal.RequireFromString("48.20"),
			Status:      txnStatus, PaymentStatus: paymentStatus,
		}
		s.tables["tbl-4"] = models.Table{
			ID: "tbl-4", BranchID: "b1", TableNumber: "T4", Status: tableStatus,
			ReservationID: sql.NullString{String: "res-1", Valid: true}, GuestCount: 4,
		}
	})
}

func (f *syncFixture) sync(action string) (*SyncResult, error) {
	return f.svc.Synchronize(context.Background(), SyncRequest{KitchenOrderID: "ko-1", Action: action})
}

func TestCancelOrderUpdatesAllEntities(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusPreparing, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)

	result, err := f.sync("cancel_order")
	require.NoError(t, err)

	assert.Equal(t, StatusUpdates{
		Kitchen: models.KitchenStatusCancelled,
		POS:     models.TransactionStatusCancelled,
		Table:   models.TableStatusAvailable,
	}, result.Updates)
	assert.Equal(t, "txn-1", result.TransactionID)
	assert.Equal(t, "tbl-4", result.TableID)
	assert.Equal(t, "T4", result.TableNumber)

	state := f.mem.snapshot()
	assert.Equal(t, models.KitchenStatusCancelled, state.orders["ko-1"].Status)
	assert.Equal(t, models.TransactionStatusCancelled, state.txns["txn-1"].Status)
	table := state.tables["tbl-4"]
	assert.Equal(t, models.TableStatusAvailable, table.Status)
	assert.False(t, table.ReservationID.Valid)
	assert.Zero(t, table.GuestCount)

	assert.Equal(t, []string{models.EventTableReleased}, f.emitter.names())
}

func TestCancelOrderRollsBackOnFault(t *testing.T) {
	for _, op := range []string{"UpdateKitchenOrder", "UpdateTransaction", "UpdateTable"} {
		t.Run(op, func(t *testing.T) {
			f := newSyncFixture(t)
			f.seedLinked(models.KitchenStatusPreparing, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)
			f.mem.failOn = op
			before := f.mem.snapshot()

			_, err := f.sync("cancel_order")

			assert.ErrorIs(t, err, ErrInfrastructure)
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, before, f.mem.snapshot())
			assert.Empty(t, f.emitter.names())
		})
	}
}

func TestTerminalStateGuard(t *testing.T) {
	kitchenActions := []string{"start_cooking", "mark_ready", "serve_order", "cancel_order"}

	for _, status := range []string{models.KitchenStatusServed, models.KitchenStatusCancelled} {
		for _, action := range kitchenActions {
			t.Run(status+"/"+action, func(t *testing.T) {
				f := newSyncFixture(t)
				f.seedLinked(status, models.TransactionStatusCompleted, models.PaymentStatusPending, models.TableStatusOccupied)
				before := f.mem.snapshot()

				_, err := f.sync(action)

				assert.ErrorIs(t, err, ErrTerminalState)
				assert.ErrorIs(t, err, ErrConflict)
				assert.Equal(t, before, f.mem.snapshot())
			})
		}
	}

	t.Run("cancelled/complete_payment", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedLinked(models.KitchenStatusCancelled, models.TransactionStatusCancelled, models.PaymentStatusPending, models.TableStatusAvailable)

		_, err := f.sync("complete_payment")
		assert.ErrorIs(t, err, ErrTerminalState)
	})
}

func TestStartCookingThenMarkReady(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusNew, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)

	result, err := f.sync("start_cooking")
	require.NoError(t, err)
	assert.Equal(t, models.KitchenStatusPreparing, result.Updates.Kitchen)
	assert.Equal(t, models.TransactionStatusPending, result.Updates.POS)
	assert.Equal(t, models.TableStatusOccupied, result.Updates.Table)

	f.svc.now = func() time.Time { return t0.Add(12*time.Minute + 20*time.Second) }
	result, err = f.sync("mark_ready")
	require.NoError(t, err)
	assert.Equal(t, models.KitchenStatusReady, result.Updates.Kitchen)

	state := f.mem.snapshot()
	order := state.orders["ko-1"]
	assert.Equal(t, t0, order.StartedAt.Time)
	assert.Equal(t, int64(12), order.PrepTimeMinutes.Int64)
	for _, item := range state.orderItems["ko-1"] {
		assert.Equal(t, models.ItemStatusReady, item.Status)
	}
	assert.Equal(t, models.TransactionStatusPending, state.txns["txn-1"].Status)

	require.Equal(t, []string{models.EventKitchenOrderStarted, models.EventKitchenOrderCompleted}, f.emitter.names())
	var data kitchenOrderData
	require.NoError(t, json.Unmarshal(f.emitter.events[1].Data, &data))
	assert.Equal(t, 12.0, *data.PrepTime)
	assert.Equal(t, "b1", f.emitter.events[1].BranchID)
}

func TestServeOrderCompletesTransaction(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusReady, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)

	result, err := f.sync("serve_order")
	require.NoError(t, err)

	assert.Equal(t, models.KitchenStatusServed, result.Updates.Kitchen)
	assert.Equal(t, models.TransactionStatusCompleted, result.Updates.POS)
	assert.Equal(t, models.TableStatusOccupied, result.Updates.Table)

	state := f.mem.snapshot()
	assert.Equal(t, models.PaymentStatusPending, state.txns["txn-1"].PaymentStatus)
	assert.True(t, state.orders["ko-1"].ServedAt.Valid)

	require.Equal(t, []string{models.EventOrderCompleted}, f.emitter.names())
	var data orderData
	require.NoError(t, json.Unmarshal(f.emitter.events[0].Data, &data))
	assert.True(t, decimal.RequireFromString("48.2").Equal(*data.Amount))
}

func TestCompletePaymentReleasesTable(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusServed, models.TransactionStatusCompleted, models.PaymentStatusPending, models.TableStatusOccupied)

	result, err := f.sync("complete_payment")
	require.NoError(t, err)

	assert.Equal(t, StatusUpdates{
		Kitchen: models.KitchenStatusServed,
		POS:     models.TransactionStatusCompleted,
		Table:   models.TableStatusAvailable,
	}, result.Updates)

	state := f.mem.snapshot()
	assert.Equal(t, models.PaymentStatusPaid, state.txns["txn-1"].PaymentStatus)
	assert.False(t, state.tables["tbl-4"].ReservationID.Valid)
	assert.Equal(t, []string{models.EventTableReleased}, f.emitter.names())

	_, err = f.sync("complete_payment")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompletePaymentBeforeServing(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusPreparing, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusAvailable)

	result, err := f.sync("complete_payment")
	require.NoError(t, err)

	assert.Equal(t, models.KitchenStatusPreparing, result.Updates.Kitchen)
	assert.Equal(t, models.TransactionStatusCompleted, result.Updates.POS)
	assert.Equal(t, []string{models.EventOrderCompleted}, f.emitter.names())
}

func TestCompletePaymentRequiresTransaction(t *testing.T) {
	f := newSyncFixture(t)
	f.mem.seed(func(s *memState) {
		s.orders["ko-1"] = models.KitchenOrder{ID: "ko-1", BranchID: "b1", Status: models.KitchenStatusServed}
	})

	_, err := f.sync("complete_payment")
	assert.ErrorIs(t, err, ErrNoLinkedTransaction)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCancelPaidTransactionIsRejected(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusReady, models.TransactionStatusCompleted, models.PaymentStatusPaid, models.TableStatusOccupied)
	before := f.mem.snapshot()

	_, err := f.sync("cancel_order")

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorContains(t, err, "void or refund")
	assert.Equal(t, before, f.mem.snapshot())
}

func TestSynchronizeWithoutTxTimeout(t *testing.T) {
	f := newSyncFixture(t)
	f.svc.txTimeout = 0
	f.seedLinked(models.KitchenStatusNew, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)

	result, err := f.sync("start_cooking")
	require.NoError(t, err)
	assert.Equal(t, models.KitchenStatusPreparing, result.Updates.Kitchen)
}

func TestOutOfOrderTransitionIsRejected(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusNew, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)

	_, err := f.sync("serve_order")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.sync("mark_ready")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSynchronizeValidation(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.Synchronize(context.Background(), SyncRequest{Action: "start_cooking"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.sync("reheat")
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, f.mem.txRuns)

	_, err = f.sync("start_cooking")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingLinkedEntitiesAreSkipped(t *testing.T) {
	f := newSyncFixture(t)
	f.mem.seed(func(s *memState) {
		s.orders["ko-1"] = models.KitchenOrder{
			ID: "ko-1", BranchID: "b1", Status: models.KitchenStatusReady,
			TransactionID: sql.NullString{String: "gone", Valid: true},
			TableNumber:   sql.NullString{String: "T99", Valid: true},
		}
	})

	result, err := f.sync("serve_order")
	require.NoError(t, err)

	assert.Equal(t, models.KitchenStatusServed, result.Updates.Kitchen)
	assert.Empty(t, result.Updates.POS)
	assert.Empty(t, result.Updates.Table)
	assert.Equal(t, "T99", result.TableNumber)
}

func TestExplicitLinkedIDsTakePrecedence(t *testing.T) {
	f := newSyncFixture(t)
	f.seedLinked(models.KitchenStatusPreparing, models.TransactionStatusPending, models.PaymentStatusPending, models.TableStatusOccupied)
	f.mem.seed(func(s *memState) {
		s.tables["tbl-9"] = models.Table{ID: "tbl-9", BranchID: "b1", TableNumber: "T9", Status: models.TableStatusOccupied}
	})

	result, err := f.svc.Synchronize(context.Background(), SyncRequest{
		KitchenOrderID: "ko-1",
		TableID:        "tbl-9",
		Action:         "cancel_order",
	})
	require.NoError(t, err)

	state := f.mem.snapshot()
	assert.Equal(t, "tbl-9", result.TableID)
	assert.Equal(t, models.TableStatusAvailable, state.tables["tbl-9"].Status)
	assert.Equal(t, models.TableStatusOccupied, state.tables["tbl-4"].Status)
}
