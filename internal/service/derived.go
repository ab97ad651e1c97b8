package service

import (
	"context"
	"encoding/json"
	"time"

	"branch-ops-service/internal/models"
	"branch-ops-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventEmitter publishes branch events so the metrics aggregator observes
// committed state changes.
type EventEmitter interface {
	PublishBranchEvent(ctx context.Context, event *models.BranchEvent) error
}

type kitchenOrderData struct {
	OrderNumber string   `json:"orderNumber"`
	PrepTime    *float64 `json:"prepTime,omitempty"`
}

type orderData struct {
	OrderNumber string           `json:"orderNumber"`
	OrderType   string           `json:"orderType,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

type tableData struct {
	TableNumber     string `json:"tableNumber"`
	FromReservation bool   `json:"fromReservation,omitempty"`
}

// eventBatch collects the events of one action; they are only sent after commit.
type eventBatch struct {
	branchID string
	at       time.Time
	events   []models.BranchEvent
}

func newEventBatch(branchID string, at time.Time) *eventBatch {
	return &eventBatch{branchID: branchID, at: at}
}

func (b *eventBatch) add(name string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	b.events = append(b.events, models.BranchEvent{
		EventID:   uuid.New().String(),
		Event:     name,
		BranchID:  b.branchID,
		Timestamp: b.at.UTC().Format(time.RFC3339Nano),
		Data:      raw,
	})
}

// emit publishes committed events. Failures are logged; the state change
// already happened and metrics are approximate by nature.
func emit(ctx context.Context, emitter EventEmitter, logger *zap.Logger, batch *eventBatch) {
	if emitter == nil || batch == nil {
		return
	}
	for i := range batch.events {
		event := &batch.events[i]
		if err := emitter.PublishBranchEvent(ctx, event); err != nil {
			util.DerivedEventsFailed.Inc()
			logger.Error("Failed to publish branch event",
				zap.String("branch_id", event.BranchID),
				zap.String("event", event.Event),
				zap.Error(err))
		}
	}
}
