package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/broker"
	"branch-ops-service/internal/models"
	"branch-ops-service/internal/util"

	"go.uber.org/zap"
)

// EventApplier folds branch events into metrics snapshots
type EventApplier interface {
	ApplyEvent(ctx context.Context, branchID, event string, data json.RawMessage, at time.Time) (aggregator.Snapshot, error)
}

// EventClaimer records which event ids have been ingested
type EventClaimer interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// BranchEventWorker feeds the branch-events topic into the aggregator
type BranchEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	applier      EventApplier
	claimer      EventClaimer
	dedupeTTL    time.Duration
	logger       *zap.Logger
}

// NewBranchEventWorker creates a new branch event worker. claimer may be nil,
// in which case redelivered events are applied again.
func NewBranchEventWorker(consumer *broker.Consumer, applier EventApplier, claimer EventClaimer, dedupeTTL time.Duration) *BranchEventWorker {
	w := &BranchEventWorker{
		consumer:  consumer,
		applier:   applier,
		claimer:   claimer,
		dedupeTTL: dedupeTTL,
		logger:    util.GetLogger(),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnBranchEvent(w.HandleEvent)
	return w
}

// Start starts the worker
func (w *BranchEventWorker) Start(ctx context.Context) error {
	log.Println("Starting branch event worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *BranchEventWorker) Stop() error {
	log.Println("Stopping branch event worker...")
	return w.consumer.Close()
}

// HandleEvent applies one event at most once per event id. A claim error is
// returned so the consumer retries the message.
func (w *BranchEventWorker) HandleEvent(ctx context.Context, event *models.BranchEvent) error {
	if event.EventID != "" && w.claimer != nil {
		claimed, err := w.claimer.ClaimEvent(ctx, event.EventID, w.dedupeTTL)
		if err != nil {
			return err
		}
		if !claimed {
			util.BranchEventsDuplicate.Inc()
			w.logger.Debug("Skipping duplicate branch event",
				zap.String("event_id", event.EventID),
				zap.String("event", event.Event))
			return nil
		}
	}

	if _, err := w.applier.ApplyEvent(ctx, event.BranchID, event.Event, event.Data, event.OccurredAt()); err != nil {
		util.BranchLogger(w.logger, event.BranchID, zap.String("event_id", event.EventID)).
			Warn("Branch event rejected", zap.Error(err))
		if event.EventID != "" && w.claimer != nil {
			if err := w.claimer.ReleaseEvent(ctx, event.EventID); err != nil {
				w.logger.Warn("Failed to release event claim", zap.String("event_id", event.EventID), zap.Error(err))
			}
		}
	}
	return nil
}
