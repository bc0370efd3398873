package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Catalog and OrderStore. Products are keyed by id,
// by id plus variation id, and by SKU. Orders are kept in creation order.
type Memory struct {
	// PaymentURLBase prefixes payment links on created orders; empty disables
	// them.
	PaymentURLBase string
	Now            func() time.Time

	mu       sync.RWMutex
	products map[string]Product
	bySKU    map[string]string
	orders   []Order
	// FailOrders makes CreateOrder return an error, for exercising failure
	// paths.
	FailOrders bool
}

// NewMemory returns a store holding products.
func NewMemory(products ...Product) *Memory {
	m := &Memory{
		Now:      func() time.Time { return time.Now().UTC() },
		products: make(map[string]Product),
		bySKU:    make(map[string]string),
	}
	for _, p := range products {
		m.Put(p)
	}
	return m
}

// LoadMemory reads a JSON array of products from path.
func LoadMemory(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(b, &products); err != nil {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}
	return NewMemory(products...), nil
}

func productKey(id, variation string) string {
	if variation == "" {
		return id
	}
	return id + "/" + variation
}

// Put adds or replaces p.
func (m *Memory) Put(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := productKey(p.ID, p.VariationID)
	m.products[k] = p
	if p.SKU != "" {
		m.bySKU[p.SKU] = k
	}
}

// ResolveProduct implements Catalog.
func (m *Memory) ResolveProduct(_ context.Context, ref ProductRef) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var k string
	switch {
	case ref.ProductID != "":
		k = productKey(ref.ProductID, ref.VariationID)
	case ref.SKU != "":
		var ok bool
		if k, ok = m.bySKU[ref.SKU]; !ok {
			return nil, ErrProductNotFound
		}
	default:
		return nil, ErrProductNotFound
	}
	p, ok := m.products[k]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// CreateOrder implements OrderStore. Orders start pending; the total is the
// sum of line prices.
func (m *Memory) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOrders {
		return nil, fmt.Errorf("order store unavailable")
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order has no items")
	}

	var total int64
	for _, l := range req.Items {
		total += l.Price * int64(l.Quantity)
	}
	n := len(m.orders) + 1
	o := Order{
		ID:                uuid.NewString(),
		Number:            strconv.Itoa(1000 + n),
		Status:            "pending",
		Total:             total,
		Currency:          req.Currency,
		CheckoutSessionID: req.CheckoutSessionID,
		Items:             append([]OrderLine(nil), req.Items...),
		Shipping:          req.Shipping,
		Billing:           req.Billing,
		CreatedAt:         m.Now(),
	}
	if m.PaymentURLBase != "" {
		o.PaymentURL = m.PaymentURLBase + "/checkout/order-pay/" + o.ID
	}
	m.orders = append(m.orders, o)
	return &o, nil
}

// GetOrder implements OrderStore.
func (m *Memory) GetOrder(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.ID == id {
			o.Items = append([]OrderLine(nil), o.Items...)
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// SetOrderStatus changes the status of a stored order, as the store's own
// back office would.
func (m *Memory) SetOrderStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].ID == id {
			m.orders[i].Status = status
			return nil
		}
	}
	return ErrOrderNotFound
}

// Orders returns a copy of every created order.
func (m *Memory) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Order(nil), m.orders...)
}
