package aggregator

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// payload is the typed body of one event name, checked before any mutation.
type payload interface {
	validate() error
}

var (
	errMissingPrepTime = errors.New("prepTime is required")
	errMissingWaitTime = errors.New("waitTime is required")
	errNegativeMinutes = errors.New("durations must not be negative")
	errNegativeAmount  = errors.New("amount must not be negative")
	errMissingType     = errors.New("type is required")
)

type kitchenOrderPayload struct {
	OrderNumber string   `json:"orderNumber"`
	PrepTime    *float64 `json:"prepTime"`
}

func (p *kitchenOrderPayload) validate() error { return nonNegative(p.PrepTime) }

type kitchenCompletedPayload struct {
	kitchenOrderPayload
}

func (p *kitchenCompletedPayload) validate() error {
	if p.PrepTime == nil {
		return errMissingPrepTime
	}
	return nonNegative(p.PrepTime)
}

// Order channels and types as sent by the POS and online storefront.
const (
	channelOnline     = "online"
	orderTypeDineIn   = "dine_in"
	orderTypeTakeaway = "takeaway"
	orderTypeDelivery = "delivery"
)

type orderPayload struct {
	OrderNumber  string          `json:"orderNumber"`
	OrderType    string          `json:"orderType"`
	Channel      string          `json:"channel"`
	IsOnline     *bool           `json:"isOnline"`
	Amount       decimal.Decimal `json:"amount"`
	ServiceTime  *float64        `json:"serviceTime"`
	DeliveryTime *float64        `json:"deliveryTime"`
}

func (p *orderPayload) validate() error {
	if p.Amount.IsNegative() {
		return errNegativeAmount
	}
	if err := nonNegative(p.ServiceTime); err != nil {
		return err
	}
	return nonNegative(p.DeliveryTime)
}

func (p *orderPayload) online() bool {
	if p.IsOnline != nil {
		return *p.IsOnline
	}
	return strings.EqualFold(p.Channel, channelOnline)
}

// normalizedType folds the spellings seen from different terminals.
func (p *orderPayload) normalizedType() string {
	t := strings.ToLower(strings.TrimSpace(p.OrderType))
	t = strings.NewReplacer("-", "_", " ", "_").Replace(t)
	switch t {
	case "dine_in", "dinein":
		return orderTypeDineIn
	case "takeaway", "take_away", "takeout":
		return orderTypeTakeaway
	case "delivery":
		return orderTypeDelivery
	}
	return ""
}

type tablePayload struct {
	TableNumber     string `json:"tableNumber"`
	FromReservation bool   `json:"fromReservation"`
}

func (p *tablePayload) validate() error { return nil }

type employeePayload struct {
	EmployeeID string `json:"employeeId"`
}

func (p *employeePayload) validate() error { return nil }

type queueJoinedPayload struct {
	CustomerID string `json:"customerId"`
}

func (p *queueJoinedPayload) validate() error { return nil }

type queueServedPayload struct {
	CustomerID string   `json:"customerId"`
	WaitTime   *float64 `json:"waitTime"`
}

func (p *queueServedPayload) validate() error {
	if p.WaitTime == nil {
		return errMissingWaitTime
	}
	return nonNegative(p.WaitTime)
}

type breachPayload struct {
	Type           string  `json:"type"`
	OrderNumber    string  `json:"orderNumber"`
	OrderReference string  `json:"orderReference"`
	ExceededBy     float64 `json:"exceededBy"`
}

func (p *breachPayload) validate() error {
	if strings.TrimSpace(p.Type) == "" {
		return errMissingType
	}
	if p.ExceededBy < 0 {
		return errNegativeMinutes
	}
	return nil
}

func (p *breachPayload) reference() string {
	if p.OrderReference != "" {
		return p.OrderReference
	}
	return p.OrderNumber
}

func nonNegative(v *float64) error {
	if v != nil && *v < 0 {
		return errNegativeMinutes
	}
	return nil
}
