package service

import (
	"fmt"

	"branch-ops-service/internal/models"
)

// Action is a synchronization action applied to a kitchen order and its linked entities
type Action string

const (
	ActionStartCooking    Action = "start_cooking"
	ActionMarkReady       Action = "mark_ready"
	ActionServeOrder      Action = "serve_order"
	ActionCompletePayment Action = "complete_payment"
	ActionCancelOrder     Action = "cancel_order"
)

// Actions lists every supported action
var Actions = []Action{
	ActionStartCooking,
	ActionMarkReady,
	ActionServeOrder,
	ActionCompletePayment,
	ActionCancelOrder,
}

// ParseAction validates an action name
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, name)
}

// kitchenTransitions is the forward-only kitchen order lifecycle.
var kitchenTransitions = map[string][]string{
	models.KitchenStatusNew:       {models.KitchenStatusPreparing, models.KitchenStatusCancelled},
	models.KitchenStatusPreparing: {models.KitchenStatusReady, models.KitchenStatusCancelled},
	models.KitchenStatusReady:     {models.KitchenStatusServed, models.KitchenStatusCancelled},
}

func isTerminalKitchen(status string) bool {
	return status == models.KitchenStatusServed || status == models.KitchenStatusCancelled
}

// checkKitchenTransition reports ErrTerminalState for finished orders and
// ErrInvalidTransition for steps outside the lifecycle.
func checkKitchenTransition(order *models.KitchenOrder, to string) error {
	if isTerminalKitchen(order.Status) {
		return fmt.Errorf("%w: kitchen order %s is %s", ErrTerminalState, order.ID, order.Status)
	}
	for _, next := range kitchenTransitions[order.Status] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: kitchen order %s cannot go from %s to %s", ErrInvalidTransition, order.ID, order.Status, to)
}

// completeTransaction marks a POS transaction completed. Returns true when the
// status actually changed.
func completeTransaction(txn *models.POSTransaction) (bool, error) {
	switch txn.Status {
	case models.TransactionStatusCompleted:
		return false, nil
	case models.TransactionStatusCancelled:
		return false, fmt.Errorf("%w: transaction %s is cancelled", ErrInvalidTransition, txn.ID)
	}
	txn.Status = models.TransactionStatusCompleted
	return true, nil
}

// cancelTransaction voids a POS transaction unless it has already been paid
func cancelTransaction(txn *models.POSTransaction) (bool, error) {
	if txn.Status == models.TransactionStatusCancelled {
		return false, nil
	}
	if txn.PaymentStatus == models.PaymentStatusPaid {
		return false, fmt.Errorf("%w: transaction %s is already paid; void or refund it before cancelling the order",
			ErrInvalidTransition, txn.ID)
	}
	txn.Status = models.TransactionStatusCancelled
	return true, nil
}
