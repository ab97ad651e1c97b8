package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"branch-ops-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes branch events to the branch-events topic
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBranchEvent publishes a branch event keyed by branch
func (ep *EventPublisher) PublishBranchEvent(ctx context.Context, event *models.BranchEvent) error {
	return ep.producer.PublishEvent(ctx, event.BranchID, event.Event, event)
}

// EventHandler decodes branch-event messages and hands them on
type EventHandler struct {
	onBranchEvent func(context.Context, *models.BranchEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnBranchEvent registers the handler for branch events
func (eh *EventHandler) OnBranchEvent(handler func(context.Context, *models.BranchEvent) error) {
	eh.onBranchEvent = handler
}

// HandleMessage decodes one message. Undecodable messages and envelopes
// without event or branch are dropped; redelivering them cannot help.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.BranchEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("Dropping undecodable message: offset=%d err=%v", msg.Offset, err)
		return nil
	}

	if event.Event == "" || event.BranchID == "" {
		log.Printf("Dropping branch event without event or branchId: offset=%d", msg.Offset)
		return nil
	}

	if eh.onBranchEvent == nil {
		return fmt.Errorf("no handler registered for branch events")
	}
	return eh.onBranchEvent(ctx, &event)
}
