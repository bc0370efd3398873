package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// ErrInvalidOrderEvent is returned for an unknown event type or a missing
// order id.
var ErrInvalidOrderEvent = errors.New("invalid order event")

// Order lifecycle notification types accepted from the order store.
const (
	OrderStatusChanged = "status_changed"
	OrderPaid          = "paid"
	OrderRefunded      = "refunded"
)

// OrderCustomer identifies the buyer on an order snapshot.
type OrderCustomer struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

// OrderSnapshot is the order as reported by the order store at the time of
// the event. Total is in minor units. CheckoutSessionID is set for orders
// placed through a checkout session.
type OrderSnapshot struct {
	ID                string        `json:"id"`
	Number            string        `json:"number,omitempty"`
	Status            string        `json:"status,omitempty"`
	Currency          string        `json:"currency,omitempty"`
	Total             int64         `json:"total"`
	CheckoutSessionID string        `json:"checkout_session_id,omitempty"`
	Customer          OrderCustomer `json:"customer"`
	DateCreated       string        `json:"date_created,omitempty"`
	DateModified      string        `json:"date_modified,omitempty"`
}

// OrderEvent is one lifecycle notification.
type OrderEvent struct {
	Type      string
	OrderID   string
	OldStatus string
	NewStatus string
	RefundID  string
	Amount    int64
	Reason    string
	Order     OrderSnapshot
}

// OrderEventService turns order store notifications into webhook events.
type OrderEventService struct {
	Events EventPublisher
}

// NewOrderEventService returns a service publishing to events.
func NewOrderEventService(events EventPublisher) *OrderEventService {
	return &OrderEventService{Events: events}
}

// Ingest publishes the webhook events implied by ev and returns their names.
// A pending order moving to processing or on-hold also counts as created,
// unless it came from a checkout session: completion already announced it.
func (s *OrderEventService) Ingest(ctx context.Context, ev OrderEvent) ([]string, error) {
	ev.OrderID = strings.TrimSpace(ev.OrderID)
	if ev.OrderID == "" {
		return nil, ErrInvalidOrderEvent
	}
	if ev.Order.ID == "" {
		ev.Order.ID = ev.OrderID
	}

	var published []string
	publish := func(event string, data map[string]any) {
		s.Events.Publish(event, data)
		published = append(published, event)
	}

	switch ev.Type {
	case OrderStatusChanged:
		publish(domain.EventOrderStatusChanged, map[string]any{
			"order_id":   ev.OrderID,
			"old_status": ev.OldStatus,
			"new_status": ev.NewStatus,
			"order":      ev.Order,
		})
		if ev.OldStatus == "pending" && (ev.NewStatus == "processing" || ev.NewStatus == "on-hold") &&
			ev.Order.CheckoutSessionID == "" {
			publish(domain.EventOrderCreated, map[string]any{
				"order_id": ev.OrderID,
				"order":    ev.Order,
			})
		}
	case OrderPaid:
		publish(domain.EventOrderPaid, map[string]any{
			"order_id": ev.OrderID,
			"order":    ev.Order,
		})
	case OrderRefunded:
		publish(domain.EventOrderRefunded, map[string]any{
			"order_id":  ev.OrderID,
			"refund_id": ev.RefundID,
			"amount":    ev.Amount,
			"reason":    ev.Reason,
			"order":     ev.Order,
		})
	default:
		return nil, ErrInvalidOrderEvent
	}

	log.Ctx(ctx).Info().Str("order_id", ev.OrderID).Strs("events", published).Msg("order event ingested")
	return published, nil
}
