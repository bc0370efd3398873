package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
)

// OrderService reads orders back from the order store.
type OrderService struct {
	Orders commerce.OrderStore
}

// NewOrderService returns an OrderService over orders.
func NewOrderService(orders commerce.OrderStore) *OrderService {
	return &OrderService{Orders: orders}
}

// Get returns the order with the given id. Store failures other than a
// missing order are wrapped in ErrOrderLookupFailed.
func (s *OrderService) Get(ctx context.Context, id string) (*commerce.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrOrderNotFound
	}
	o, err := s.Orders.GetOrder(ctx, id)
	switch {
	case errors.Is(err, commerce.ErrOrderNotFound):
		return nil, ErrOrderNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrOrderLookupFailed, err)
	}
	return o, nil
}
