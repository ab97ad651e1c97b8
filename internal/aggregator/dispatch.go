package aggregator

import (
	"encoding/json"
	"fmt"
	"time"

	"branch-ops-service/internal/models"
)

// KnownEvents is the closed set of event names the aggregator understands.
var KnownEvents = []string{
	models.EventKitchenOrderCreated,
	models.EventKitchenOrderStarted,
	models.EventKitchenOrderCompleted,
	models.EventOrderCreated,
	models.EventOrderCompleted,
	models.EventTableOccupied,
	models.EventTableReleased,
	models.EventTableReserved,
	models.EventEmployeeCheckin,
	models.EventEmployeeCheckout,
	models.EventEmployeeBreakStart,
	models.EventEmployeeBreakEnd,
	models.EventQueueCustomerJoined,
	models.EventQueueCustomerServed,
	models.EventSLABreach,
}

// mutation carries what a handler may need besides the snapshot itself.
type mutation struct {
	at        time.Time
	breachCap int
}

type eventHandler func(s *Snapshot, data json.RawMessage, m mutation) error

// typed decodes and validates the payload before the mutation runs, so a
// malformed payload leaves the snapshot untouched.
func typed[P any, PT interface {
	*P
	payload
}](apply func(s *Snapshot, p PT, m mutation)) eventHandler {
	return func(s *Snapshot, data json.RawMessage, m mutation) error {
		p := PT(new(P))
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, p); err != nil {
				return fmt.Errorf("failed to decode payload: %w", err)
			}
		}
		if err := p.validate(); err != nil {
			return err
		}
		apply(s, p, m)
		return nil
	}
}

func defaultHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		models.EventKitchenOrderCreated: typed(func(s *Snapshot, _ *kitchenOrderPayload, _ mutation) {
			s.Kitchen.PendingOrders++
		}),
		models.EventKitchenOrderStarted: typed(func(s *Snapshot, _ *kitchenOrderPayload, _ mutation) {
			s.Kitchen.PendingOrders = decr(s.Kitchen.PendingOrders)
			s.Kitchen.ActiveOrders++
		}),
		models.EventKitchenOrderCompleted: typed(applyKitchenCompleted),
		models.EventOrderCreated:          typed(applyOrderCreated),
		models.EventOrderCompleted:        typed(applyOrderCompleted),
		models.EventTableOccupied: typed(func(s *Snapshot, p *tablePayload, _ mutation) {
			s.Occupancy.Occupied++
			s.Occupancy.Available = decr(s.Occupancy.Available)
			if p.FromReservation {
				s.Occupancy.Reserved = decr(s.Occupancy.Reserved)
			}
		}),
		models.EventTableReleased: typed(func(s *Snapshot, _ *tablePayload, _ mutation) {
			s.Occupancy.Occupied = decr(s.Occupancy.Occupied)
			s.Occupancy.Available++
		}),
		models.EventTableReserved: typed(func(s *Snapshot, _ *tablePayload, _ mutation) {
			s.Occupancy.Reserved++
			s.Occupancy.Available = decr(s.Occupancy.Available)
		}),
		models.EventEmployeeCheckin: typed(func(s *Snapshot, _ *employeePayload, _ mutation) {
			s.Employees.Present++
		}),
		models.EventEmployeeCheckout: typed(func(s *Snapshot, _ *employeePayload, _ mutation) {
			s.Employees.Present = decr(s.Employees.Present)
		}),
		models.EventEmployeeBreakStart: typed(func(s *Snapshot, _ *employeePayload, _ mutation) {
			s.Employees.Present = decr(s.Employees.Present)
			s.Employees.OnBreak++
		}),
		models.EventEmployeeBreakEnd: typed(func(s *Snapshot, _ *employeePayload, _ mutation) {
			s.Employees.OnBreak = decr(s.Employees.OnBreak)
			s.Employees.Present++
		}),
		models.EventQueueCustomerJoined: typed(func(s *Snapshot, _ *queueJoinedPayload, _ mutation) {
			s.Queue.CurrentLength++
		}),
		models.EventQueueCustomerServed: typed(applyQueueServed),
		models.EventSLABreach: typed(func(s *Snapshot, p *breachPayload, m mutation) {
			s.addBreach(Breach{
				Type:              p.Type,
				OrderReference:    p.reference(),
				ExceededByMinutes: p.ExceededBy,
				Timestamp:         m.at,
			}, m.breachCap)
		}),
	}
}

func applyKitchenCompleted(s *Snapshot, p *kitchenCompletedPayload, m mutation) {
	prep := *p.PrepTime
	s.Kitchen.ActiveOrders = decr(s.Kitchen.ActiveOrders)
	s.Kitchen.CompletedToday++
	s.Kitchen.AvgPrepTimeMinutes = runningAverage(s.Kitchen.AvgPrepTimeMinutes, s.Kitchen.CompletedToday, prep)
	checkTarget(s, BreachKitchen, p.OrderNumber, prep, s.SLA.KitchenTargetMinutes, m)
}

func applyOrderCreated(s *Snapshot, p *orderPayload, _ mutation) {
	s.Orders.TotalToday++
	s.Orders.Pending++
	if p.online() {
		s.Orders.Online++
	} else {
		s.Orders.Offline++
	}
	switch p.normalizedType() {
	case orderTypeDineIn:
		s.Orders.DineIn++
	case orderTypeTakeaway:
		s.Orders.Takeaway++
	case orderTypeDelivery:
		s.Orders.Delivery++
	}
}

func applyOrderCompleted(s *Snapshot, p *orderPayload, m mutation) {
	s.Orders.Pending = decr(s.Orders.Pending)
	s.Orders.Completed++
	s.addSale(p.Amount, m.at)
	if p.ServiceTime != nil {
		checkTarget(s, BreachService, p.OrderNumber, *p.ServiceTime, s.SLA.ServiceTargetMinutes, m)
	}
	if p.DeliveryTime != nil {
		checkTarget(s, BreachDelivery, p.OrderNumber, *p.DeliveryTime, s.SLA.DeliveryTargetMinutes, m)
	}
}

func applyQueueServed(s *Snapshot, p *queueServedPayload, m mutation) {
	wait := *p.WaitTime
	s.Queue.CurrentLength = decr(s.Queue.CurrentLength)
	s.Queue.ServedToday++
	s.Queue.AvgWaitTimeMinutes = runningAverage(s.Queue.AvgWaitTimeMinutes, s.Queue.ServedToday, wait)
	checkTarget(s, BreachService, p.CustomerID, wait, s.SLA.ServiceTargetMinutes, m)
}

// checkTarget records a breach when actual exceeds a positive target.
func checkTarget(s *Snapshot, kind, ref string, actual float64, target int, m mutation) {
	if target <= 0 || actual <= float64(target) {
		return
	}
	s.addBreach(Breach{
		Type:              kind,
		OrderReference:    ref,
		ExceededByMinutes: actual - float64(target),
		Timestamp:         m.at,
	}, m.breachCap)
}

// validateHandlers checks the dispatch table covers exactly the declared events.
func validateHandlers(handlers map[string]eventHandler, declared []string) error {
	seen := make(map[string]bool, len(declared))
	for _, name := range declared {
		if seen[name] {
			return fmt.Errorf("duplicate event declaration: %s", name)
		}
		seen[name] = true
		if _, ok := handlers[name]; !ok {
			return fmt.Errorf("no handler for event: %s", name)
		}
	}
	for name := range handlers {
		if !seen[name] {
			return fmt.Errorf("handler registered for undeclared event: %s", name)
		}
	}
	return nil
}
