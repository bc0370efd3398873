// Package services – CartService
//
// CartService owns anonymous shopping carts: creation, item mutation against
// the catalog, totals, and conversion into a checkout session. Carts expire
// lazily; every access checks the deadline and the active status before doing
// anything else.
package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// ErrInvalidQuantity is returned for negative quantities.
var ErrInvalidQuantity = errors.New("quantity must not be negative")

// AddItemInput names a product and how many to add.
type AddItemInput struct {
	ProductID   string
	VariationID string
	SKU         string
	Quantity    int
}

// CartService manages cart sessions.
type CartService struct {
	DB       *gorm.DB
	Catalog  commerce.Catalog
	Checkout *CheckoutService

	TTL      time.Duration
	Currency string
	Now      func() time.Time
}

// NewCartService returns a CartService with a 24h TTL.
func NewCartService(db *gorm.DB, catalog commerce.Catalog, checkout *CheckoutService, currency string) *CartService {
	return &CartService{
		DB:       db,
		Catalog:  catalog,
		Checkout: checkout,
		TTL:      24 * time.Hour,
		Currency: currency,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create starts an empty active cart owned by the caller, if any.
func (s *CartService) Create(ctx context.Context) (*domain.CartSession, error) {
	now := s.Now()
	c := &domain.CartSession{
		ID:        uuid.NewString(),
		APIKeyID:  principalID(ctx),
		Items:     domain.CartItems{},
		Status:    domain.CartActive,
		ExpiresAt: now.Add(s.TTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateCart(ctx, s.DB, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns an active, unexpired cart.
func (s *CartService) Get(ctx context.Context, id string) (*domain.CartSession, error) {
	c, err := repo.GetCart(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Expired(s.Now()) {
		return nil, ErrCartExpired
	}
	if c.Status != domain.CartActive {
		return nil, ErrCartUnavailable
	}
	return c, nil
}

// Delete removes an active cart.
func (s *CartService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := repo.DeleteCart(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCartNotFound
		}
		return err
	}
	return nil
}

// AddItem resolves in.ProductID or in.SKU against the catalog and appends a
// new line. Quantity defaults to 1.
func (s *CartService) AddItem(ctx context.Context, cartID string, in AddItemInput) (*domain.CartSession, error) {
	ctx, span := otel.Tracer("services/CartService").Start(ctx, "AddItem",
		trace.WithAttributes(
			attribute.String("cart.id", cartID),
			attribute.String("product.id", in.ProductID),
		),
	)
	defer span.End()

	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if in.Quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}

	p, err := resolveProduct(ctx, s.Catalog, in)
	if err != nil {
		return nil, err
	}
	if !p.InStock {
		return nil, ErrOutOfStock
	}
	if p.ManageStock && p.StockQuantity < in.Quantity {
		return nil, fmt.Errorf("%w: only %d available", ErrInsufficientStock, p.StockQuantity)
	}

	now := s.Now()
	c.Items = append(c.Items, newCartItem(c.Items, p, in.Quantity, now))
	if err := repo.SaveCartItems(ctx, s.DB, c.ID, c.Items, now); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	return c, nil
}

// UpdateItem sets the quantity of key. Zero removes the line; otherwise the
// line total is recomputed from the stored price.
func (s *CartService) UpdateItem(ctx context.Context, cartID, key string, qty int) (*domain.CartSession, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	i := c.Items.Index(key)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	if qty == 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	} else {
		c.Items[i].Quantity = qty
		c.Items[i].LineTotal = c.Items[i].Price * int64(qty)
	}
	now := s.Now()
	if err := repo.SaveCartItems(ctx, s.DB, c.ID, c.Items, now); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	return c, nil
}

// RemoveItem drops key from the cart.
func (s *CartService) RemoveItem(ctx context.Context, cartID, key string) (*domain.CartSession, error) {
	return s.UpdateItem(ctx, cartID, key, 0)
}

// Totals computes the money summary of c in the configured currency.
func (s *CartService) Totals(c *domain.CartSession) domain.Totals {
	return domain.NewTotals(c.Items, s.Currency)
}

// ConvertToCheckout opens a checkout session from the cart and marks the cart
// as in checkout. Billing defaults to shipping.
func (s *CartService) ConvertToCheckout(ctx context.Context, cartID string, shipping domain.Address, billing *domain.Address) (*domain.CheckoutSession, error) {
	ctx, span := otel.Tracer("services/CartService").Start(ctx, "ConvertToCheckout",
		trace.WithAttributes(attribute.String("cart.id", cartID)),
	)
	defer span.End()

	c, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if err := ValidateShippingAddress(shipping); err != nil {
		return nil, err
	}
	if billing == nil {
		b := shipping
		billing = &b
	}

	var session *domain.CheckoutSession
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.Checkout.createWith(ctx, tx, &c.ID, c.Items, &shipping, billing)
		if err != nil {
			return err
		}
		return repo.UpdateCartStatus(ctx, tx, c.ID, domain.CartCheckout, s.Now())
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// PurgeExpired deletes active carts that expired before now.
func (s *CartService) PurgeExpired(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredCarts(ctx, s.DB, s.Now())
}

// requiredAddressFields must be non-empty on a shipping address.
var requiredAddressFields = []string{"first_name", "last_name", "address_1", "city", "country", "email"}

// ValidateShippingAddress reports the first missing required field.
func ValidateShippingAddress(a domain.Address) error {
	values := map[string]string{
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"address_1":  a.Address1,
		"city":       a.City,
		"country":    a.Country,
		"email":      a.Email,
	}
	for _, f := range requiredAddressFields {
		if strings.TrimSpace(values[f]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingAddressField, f)
		}
	}
	return nil
}

// resolveProduct looks up in against the catalog and requires it published.
func resolveProduct(ctx context.Context, catalog commerce.Catalog, in AddItemInput) (*commerce.Product, error) {
	ref := commerce.ProductRef{ProductID: in.ProductID, VariationID: in.VariationID, SKU: in.SKU}
	if ref.Empty() {
		return nil, ErrInvalidProduct
	}
	p, err := catalog.ResolveProduct(ctx, ref)
	if errors.Is(err, commerce.ErrProductNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.Published {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// newCartItem builds a line for p whose key is unique within existing.
func newCartItem(existing domain.CartItems, p *commerce.Product, qty int, now time.Time) domain.CartItem {
	return domain.CartItem{
		Key:         itemKey(existing, p.ID, p.VariationID, now),
		ProductID:   p.ID,
		VariationID: p.VariationID,
		SKU:         p.SKU,
		Name:        p.Name,
		Quantity:    qty,
		Price:       p.Price,
		LineTotal:   p.Price * int64(qty),
		Image:       p.Image,
	}
}

// itemKey is md5(product_id + "_" + variation_id + "_" + unix seconds). When
// that collides with a key already in the cart the nanosecond timestamp is
// used instead, stepping forward until the key is free.
func itemKey(existing domain.CartItems, productID, variationID string, now time.Time) string {
	k := md5Hex(productID + "_" + variationID + "_" + strconv.FormatInt(now.Unix(), 10))
	for ns := now.UnixNano(); existing.Index(k) >= 0; ns++ {
		k = md5Hex(productID + "_" + variationID + "_" + strconv.FormatInt(ns, 10))
	}
	return k
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
