// Package commerce is the boundary to the external product catalog and order
// store. The merchant API never owns products or orders; it resolves the
// former when items are added and hands the latter a finished checkout.
//
// Two implementations are provided: Client talks to a remote commerce
// backend over HTTP, Memory is an in-process store seeded from JSON and used
// for local runs and tests.
package commerce

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

var (
	// ErrProductNotFound is returned when the catalog has no product for a
	// reference.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound is returned when the order store has no such order.
	ErrOrderNotFound = errors.New("order not found")
)

// Product is the catalog view the cart needs. Price is in minor units.
type Product struct {
	ID            string `json:"id"`
	VariationID   string `json:"variation_id,omitempty"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name"`
	Published     bool   `json:"published"`
	Price         int64  `json:"price"`
	InStock       bool   `json:"in_stock"`
	ManageStock   bool   `json:"manage_stock"`
	StockQuantity int    `json:"stock_quantity"`
	Image         string `json:"image,omitempty"`
}

// ProductRef identifies a product either by id (optionally narrowed to a
// variation) or by SKU.
type ProductRef struct {
	ProductID   string
	VariationID string
	SKU         string
}

// Empty reports whether the reference names nothing.
func (r ProductRef) Empty() bool { return r.ProductID == "" && r.SKU == "" }

// OrderLine is one line handed to the order store.
type OrderLine struct {
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

// OrderRequest is everything the order store needs to create an order from a
// checkout session.
type OrderRequest struct {
	CheckoutSessionID string          `json:"checkout_session_id"`
	Items             []OrderLine     `json:"items"`
	Shipping          *domain.Address `json:"shipping_address,omitempty"`
	Billing           *domain.Address `json:"billing_address,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PaymentHandlerID  string          `json:"payment_handler_id,omitempty"`
	Currency          string          `json:"currency"`
}

// Order is the order store's view of an order. Create answers may omit the
// lines and addresses; reads carry them.
type Order struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	Status            string          `json:"status"`
	Total             int64           `json:"total"`
	Currency          string          `json:"currency"`
	PaymentURL        string          `json:"payment_url,omitempty"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	Items             []OrderLine     `json:"items,omitempty"`
	Shipping          *domain.Address `json:"shipping_address,omitempty"`
	Billing           *domain.Address `json:"billing_address,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Catalog resolves product references.
type Catalog interface {
	ResolveProduct(ctx context.Context, ref ProductRef) (*Product, error)
}

// OrderStore creates and reads orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
}

// LinesFromItems converts cart items into order lines.
func LinesFromItems(items domain.CartItems) []OrderLine {
	out := make([]OrderLine, 0, len(items))
	for _, it := range items {
		out = append(out, OrderLine{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			SKU:         it.SKU,
			Name:        it.Name,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return out
}
