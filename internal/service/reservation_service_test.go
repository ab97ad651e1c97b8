package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCalculateTotal(t *testing.T) {
	items := []OrderItemRequest{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.25")},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		{ProductID: "p3", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
	}

	total := calculateTotal(items)

	assert.True(t, decimal.RequireFromString("25.80").Equal(total), total.String())
	assert.True(t, calculateTotal(nil).IsZero())
}

func newReservationFixture(t *testing.T) (*memStore, *recordingEmitter, *ReservationService) {
	t.Helper()
	mem := newMemStore()
	mem.seed(func(s *memState) {
		s.tables["tbl-1"] = models.Table{ID: "tbl-1", BranchID: "b1", TableNumber: "T1", Status: models.TableStatusAvailable}
		for _, id := range []string{"res-1", "res-2"} {
			s.reservations[id] = models.Reservation{
				ID: id, BranchID: "b1", CustomerName: "Guest " + id, GuestCount: 3,
				Status: models.ReservationStatusPending,
			}
		}
	})
	emitter := &recordingEmitter{}
	svc := NewReservationService(mem, emitter, 5*time.Second)
	svc.now = func() time.Time { return t0 }
	return mem, emitter, svc
}

func convertItems() []OrderItemRequest {
	return []OrderItemRequest{
		{ProductID: "p1", ProductName: "Nasi Goreng", Quantity: 2, UnitPrice: decimal.RequireFromString("35000")},
		{ProductID: "p2", ProductName: "Es Teh", Quantity: 3, UnitPrice: decimal.RequireFromString("8000")},
	}
}

func TestConvertReservationCreatesOrder(t *testing.T) {
	mem, emitter, svc := newReservationFixture(t)

	result, err := svc.ConvertReservation(context.Background(), &ConvertRequest{
		ReservationID: "res-1",
		TableID:       "tbl-1",
		Items:         convertItems(),
		CreatedBy:     "u-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "T1", result.TableNumber)
	assert.True(t, decimal.NewFromInt(94000).Equal(result.TotalAmount))
	assert.NotEmpty(t, result.OrderNumber)

	state := mem.snapshot()
	reservation := state.reservations["res-1"]
	assert.Equal(t, models.ReservationStatusSeated, reservation.Status)
	assert.Equal(t, "tbl-1", reservation.TableID.String)

	table := state.tables["tbl-1"]
	assert.Equal(t, models.TableStatusOccupied, table.Status)
	assert.Equal(t, "res-1", table.ReservationID.String)
	assert.Equal(t, 3, table.GuestCount)

	txn := state.txns[result.TransactionID]
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, models.PaymentStatusPending, txn.PaymentStatus)
	assert.Equal(t, "u-7", txn.CreatedBy)
	assert.Len(t, state.txnItems[txn.ID], 2)

	order := state.orders[result.KitchenOrderID]
	assert.Equal(t, models.KitchenStatusNew, order.Status)
	assert.Equal(t, txn.ID, order.TransactionID.String)
	assert.Equal(t, "T1", order.TableNumber.String)
	require.Len(t, state.orderItems[order.ID], 2)
	for _, item := range state.orderItems[order.ID] {
		assert.Equal(t, models.ItemStatusPending, item.Status)
	}

	assert.Equal(t, []string{
		models.EventTableOccupied,
		models.EventOrderCreated,
		models.EventKitchenOrderCreated,
	}, emitter.names())
}

func TestConvertReservationWithoutItems(t *testing.T) {
	mem, _, svc := newReservationFixture(t)

	result, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-1", TableID: "tbl-1"})
	require.NoError(t, err)

	assert.Empty(t, result.TransactionID)
	assert.Empty(t, result.KitchenOrderID)
	assert.True(t, result.TotalAmount.IsZero())

	state := mem.snapshot()
	assert.Empty(t, state.txns)
	assert.Empty(t, state.orders)
	assert.Equal(t, models.TableStatusOccupied, state.tables["tbl-1"].Status)
}

func TestConvertReservationTableRace(t *testing.T) {
	mem, _, svc := newReservationFixture(t)

	var (
		wg      sync.WaitGroup
		results = make([]*ConversionResult, 2)
		errs    = make([]error, 2)
	)
	for i, id := range []string{"res-1", "res-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = svc.ConvertReservation(context.Background(), &ConvertRequest{
				ReservationID: id,
				TableID:       "tbl-1",
				Items:         convertItems(),
			})
		}(i, id)
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	assert.ErrorIs(t, errs[loser], ErrTableUnavailable)
	assert.Nil(t, results[loser])

	state := mem.snapshot()
	assert.Len(t, state.txns, 1)
	assert.Len(t, state.orders, 1)
	assert.True(t, decimal.NewFromInt(94000).Equal(state.txns[results[winner].TransactionID].TotalAmount))
	assert.Equal(t, results[winner].ReservationID, state.tables["tbl-1"].ReservationID.String)

	losingID := []string{"res-1", "res-2"}[loser]
	assert.Equal(t, models.ReservationStatusPending, state.reservations[losingID].Status)
}

func TestConvertReservationRollsBackOnFault(t *testing.T) {
	mem, emitter, svc := newReservationFixture(t)
	mem.failOn = "CreateKitchenOrder"
	before := mem.snapshot()

	_, err := svc.ConvertReservation(context.Background(), &ConvertRequest{
		ReservationID: "res-1",
		TableID:       "tbl-1",
		Items:         convertItems(),
	})

	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Equal(t, before, mem.snapshot())
	assert.Empty(t, emitter.names())
}

func TestConvertReservationHeldTable(t *testing.T) {
	mem, emitter, svc := newReservationFixture(t)
	mem.seed(func(s *memState) {
		table := s.tables["tbl-1"]
		table.Status = models.TableStatusReserved
		table.ReservationID = sql.NullString{String: "res-1", Valid: true}
		s.tables["tbl-1"] = table

		r := s.reservations["res-1"]
		r.TableID = sql.NullString{String: "tbl-1", Valid: true}
		s.reservations["res-1"] = r
	})

	_, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-2", TableID: "tbl-1"})
	assert.ErrorIs(t, err, ErrTableUnavailable)

	result, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-1"})
	require.NoError(t, err)
	assert.Equal(t, "tbl-1", result.TableID)

	require.Len(t, emitter.events, 1)
	assert.JSONEq(t, `{"tableNumber":"T1","fromReservation":true}`, string(emitter.events[0].Data))
}

func TestConvertReservationMovesOffHeldTable(t *testing.T) {
	mem, emitter, svc := newReservationFixture(t)
	mem.seed(func(s *memState) {
		s.tables["tbl-9"] = models.Table{
			ID: "tbl-9", BranchID: "b1", TableNumber: "T9", Status: models.TableStatusReserved,
			ReservationID: sql.NullString{String: "res-1", Valid: true}, GuestCount: 3,
		}
		r := s.reservations["res-1"]
		r.TableID = sql.NullString{String: "tbl-9", Valid: true}
		s.reservations["res-1"] = r
	})

	result, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-1", TableID: "tbl-1"})
	require.NoError(t, err)
	assert.Equal(t, "tbl-1", result.TableID)

	state := mem.snapshot()
	assert.Equal(t, models.ReservationStatusSeated, state.reservations["res-1"].Status)
	assert.Equal(t, "tbl-1", state.reservations["res-1"].TableID.String)
	assert.Equal(t, models.TableStatusOccupied, state.tables["tbl-1"].Status)

	held := state.tables["tbl-9"]
	assert.Equal(t, models.TableStatusAvailable, held.Status)
	assert.False(t, held.ReservationID.Valid)
	assert.Zero(t, held.GuestCount)

	assert.Equal(t, []string{models.EventTableOccupied, models.EventTableReleased, models.EventTableOccupied}, emitter.names())

	agg, err := aggregator.NewAggregator(aggregator.Options{
		Lookup: aggregator.StaticLookup(aggregator.BranchDefaults{TotalTables: 10}),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	_, err = agg.ApplyEvent(context.Background(), "b1", models.EventTableReserved, nil, t0)
	require.NoError(t, err)
	for _, e := range emitter.events {
		_, err := agg.ApplyEvent(context.Background(), e.BranchID, e.Event, e.Data, t0)
		require.NoError(t, err)
	}
	snap, _ := agg.Snapshot("b1")
	assert.Equal(t, 0, snap.Occupancy.Reserved)
	assert.Equal(t, 1, snap.Occupancy.Occupied)
}

func TestConvertReservationKeepsTableHeldForOthers(t *testing.T) {
	mem, _, svc := newReservationFixture(t)
	mem.seed(func(s *memState) {
		s.tables["tbl-9"] = models.Table{
			ID: "tbl-9", BranchID: "b1", TableNumber: "T9", Status: models.TableStatusReserved,
			ReservationID: sql.NullString{String: "res-2", Valid: true},
		}
		r := s.reservations["res-1"]
		r.TableID = sql.NullString{String: "tbl-9", Valid: true}
		s.reservations["res-1"] = r

		r = s.reservations["res-2"]
		r.TableID = sql.NullString{String: "tbl-gone", Valid: true}
		s.reservations["res-2"] = r
	})

	_, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-1", TableID: "tbl-1"})
	require.NoError(t, err)

	held := mem.snapshot().tables["tbl-9"]
	assert.Equal(t, models.TableStatusReserved, held.Status)
	assert.Equal(t, "res-2", held.ReservationID.String)

	mem.seed(func(s *memState) {
		s.tables["tbl-2"] = models.Table{ID: "tbl-2", BranchID: "b1", TableNumber: "T2", Status: models.TableStatusAvailable}
	})
	_, err = svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-2", TableID: "tbl-2"})
	require.NoError(t, err)
}

func TestConvertReservationWithoutTxTimeout(t *testing.T) {
	mem, _, svc := newReservationFixture(t)
	svc.txTimeout = 0

	_, err := svc.ConvertReservation(context.Background(), &ConvertRequest{ReservationID: "res-1", TableID: "tbl-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusOccupied, mem.snapshot().tables["tbl-1"].Status)
}

func TestConvertReservationErrors(t *testing.T) {
	mem, _, svc := newReservationFixture(t)
	mem.seed(func(s *memState) {
		s.reservations["res-gone"] = models.Reservation{ID: "res-gone", BranchID: "b1", Status: models.ReservationStatusCancelled}
	})

	tests := []struct {
		name string
		req  ConvertRequest
		want error
	}{
		{"missingReservationID", ConvertRequest{TableID: "tbl-1"}, ErrValidation},
		{"zeroQuantity", ConvertRequest{ReservationID: "res-1", TableID: "tbl-1",
			Items: []OrderItemRequest{{ProductID: "p1", Quantity: 0}}}, ErrValidation},
		{"negativePrice", ConvertRequest{ReservationID: "res-1", TableID: "tbl-1",
			Items: []OrderItemRequest{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}}, ErrValidation},
		{"noTable", ConvertRequest{ReservationID: "res-1"}, ErrValidation},
		{"unknownReservation", ConvertRequest{ReservationID: "res-x", TableID: "tbl-1"}, ErrNotFound},
		{"unknownTable", ConvertRequest{ReservationID: "res-1", TableID: "tbl-x"}, ErrNotFound},
		{"cancelledReservation", ConvertRequest{ReservationID: "res-gone", TableID: "tbl-1"}, ErrReservationNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := svc.ConvertReservation(context.Background(), &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, models.TableStatusAvailable, mem.snapshot().tables["tbl-1"].Status)
}
