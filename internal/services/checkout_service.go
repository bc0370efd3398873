// Package services – CheckoutService
//
// CheckoutService drives checkout sessions through
// pending -> ready -> complete. Sessions snapshot their items at creation,
// expire lazily on read, and are converted into an order in the external
// order store exactly once. Completion publishes order.created off the
// request path.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// EventPublisher hands an event to asynchronous delivery. Implementations
// must not block on subscribers.
type EventPublisher interface {
	Publish(event string, data any)
}

// UpdateCheckoutInput carries a partial update. Nil fields are left alone.
type UpdateCheckoutInput struct {
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	ShippingMethod  *string
	PaymentMethod   *string
	CouponCodes     []string
}

// CompleteInput carries payment details supplied at completion.
type CompleteInput struct {
	PaymentMethod    string
	PaymentHandlerID string
}

// CheckoutService manages checkout sessions.
type CheckoutService struct {
	DB      *gorm.DB
	Catalog commerce.Catalog
	Orders  commerce.OrderStore
	Events  EventPublisher

	TTL             time.Duration
	Currency        string
	PaymentHandlers []string
	Now             func() time.Time
}

// NewCheckoutService returns a CheckoutService with a 30 minute TTL.
func NewCheckoutService(db *gorm.DB, catalog commerce.Catalog, orders commerce.OrderStore, events EventPublisher, currency string) *CheckoutService {
	return &CheckoutService{
		DB:       db,
		Catalog:  catalog,
		Orders:   orders,
		Events:   events,
		TTL:      30 * time.Minute,
		Currency: currency,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a session from raw items. Items that do not resolve to a
// published product are dropped. Quantities follow CartService.AddItem: zero
// means one and a negative quantity rejects the whole request.
func (s *CheckoutService) Create(ctx context.Context, items []AddItemInput, shipping, billing *domain.Address) (*domain.CheckoutSession, error) {
	tr := otel.Tracer("services/CheckoutService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.Int("items.requested", len(items))))
	defer span.End()

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	for _, in := range items {
		if in.Quantity < 0 {
			return nil, ErrInvalidQuantity
		}
	}

	now := s.Now()
	var resolved domain.CartItems
	for _, in := range items {
		qty := in.Quantity
		if qty == 0 {
			qty = 1
		}
		p, err := resolveProduct(ctx, s.Catalog, in)
		if err != nil {
			if errors.Is(err, ErrInvalidProduct) || errors.Is(err, ErrProductNotFound) {
				continue
			}
			return nil, err
		}
		resolved = append(resolved, newCartItem(resolved, p, qty, now))
	}
	if len(resolved) == 0 {
		return nil, ErrNoValidItems
	}
	span.SetAttributes(attribute.Int("items.resolved", len(resolved)))

	if billing == nil && shipping != nil {
		b := *shipping
		billing = &b
	}
	return s.createWith(ctx, s.DB, nil, resolved, shipping, billing)
}

// createWith inserts a pending session through db, which may be a
// transaction owned by the caller.
func (s *CheckoutService) createWith(ctx context.Context, db *gorm.DB, cartID *string, items domain.CartItems, shipping, billing *domain.Address) (*domain.CheckoutSession, error) {
	now := s.Now()
	snapshot := append(domain.CartItems(nil), items...)
	session := &domain.CheckoutSession{
		ID:              uuid.NewString(),
		CartID:          cartID,
		APIKeyID:        principalID(ctx),
		Items:           snapshot,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CouponCodes:     []string{},
		Totals:          domain.NewTotals(snapshot, s.Currency),
		Status:          domain.CheckoutPending,
		ExpiresAt:       now.Add(s.TTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.CreateCheckout(ctx, db, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns a live or completed session. An expired session is persisted as
// expired and reported as ErrSessionExpired.
func (s *CheckoutService) Get(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	session, err := repo.GetCheckout(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.Now()
	switch {
	case session.Status == domain.CheckoutExpired:
		return nil, ErrSessionExpired
	case session.Expired(now):
		if err := repo.MarkCheckoutExpired(ctx, s.DB, id, now); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("checkout_id", id).Msg("mark session expired failed")
		}
		return nil, ErrSessionExpired
	case session.Status == domain.CheckoutFailed:
		return nil, ErrSessionUnavailable
	}
	return session, nil
}

// Update applies in to the session, recomputes totals and moves it to ready
// once a shipping method is known.
func (s *CheckoutService) Update(ctx context.Context, id string, in UpdateCheckoutInput) (*domain.CheckoutSession, error) {
	tr := otel.Tracer("services/CheckoutService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("checkout.id", id)))
	defer span.End()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.CheckoutComplete {
		return nil, ErrAlreadyComplete
	}

	if in.ShippingAddress != nil {
		session.ShippingAddress = in.ShippingAddress
	}
	if in.BillingAddress != nil {
		session.BillingAddress = in.BillingAddress
	}
	if in.ShippingMethod != nil {
		if m := strings.TrimSpace(*in.ShippingMethod); m != "" {
			session.ShippingMethod = m
		}
	}
	if in.PaymentMethod != nil {
		if m := strings.TrimSpace(*in.PaymentMethod); m != "" {
			session.PaymentMethod = m
		}
	}
	if in.CouponCodes != nil {
		session.CouponCodes = in.CouponCodes
	}

	session.Totals = domain.NewTotals(session.Items, s.Currency)
	if session.ShippingMethod != "" {
		session.Status = domain.CheckoutReady
	}
	session.UpdatedAt = s.Now()

	if err := repo.UpdateCheckout(ctx, s.DB, session); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost a race with Complete.
			return nil, ErrAlreadyComplete
		}
		return nil, err
	}
	return session, nil
}

// Complete turns the session into an order. A second completion fails with
// ErrAlreadyComplete and creates nothing.
func (s *CheckoutService) Complete(ctx context.Context, id string, in CompleteInput) (*domain.CheckoutSession, *commerce.Order, error) {
	tr := otel.Tracer("services/CheckoutService")
	ctx, span := tr.Start(ctx, "Complete", trace.WithAttributes(attribute.String("checkout.id", id)))
	defer span.End()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if session.Status == domain.CheckoutComplete {
		return nil, nil, ErrAlreadyComplete
	}

	billing := session.BillingAddress
	if billing == nil {
		billing = session.ShippingAddress
	}
	paymentMethod := strings.TrimSpace(in.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = session.PaymentMethod
	}

	order, err := s.Orders.CreateOrder(ctx, commerce.OrderRequest{
		CheckoutSessionID: session.ID,
		Items:             commerce.LinesFromItems(session.Items),
		Shipping:          session.ShippingAddress,
		Billing:           billing,
		PaymentMethod:     paymentMethod,
		PaymentHandlerID:  strings.TrimSpace(in.PaymentHandlerID),
		Currency:          s.Currency,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order creation failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}

	now := s.Now()
	ok, err := repo.CompleteCheckout(ctx, s.DB, session.ID, order.ID, paymentMethod, now)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		log.Ctx(ctx).Warn().Str("checkout_id", session.ID).Str("order_id", order.ID).
			Msg("checkout completed concurrently; order left unlinked")
		return nil, nil, ErrAlreadyComplete
	}

	session.Status = domain.CheckoutComplete
	session.OrderID = order.ID
	session.PaymentMethod = paymentMethod
	session.UpdatedAt = now
	span.SetAttributes(attribute.String("order.id", order.ID))

	if s.Events != nil {
		s.Events.Publish(domain.EventOrderCreated, OrderCreatedPayload(session, order))
	}
	return session, order, nil
}

// OrderCreatedPayload is the webhook data for order.created.
func OrderCreatedPayload(session *domain.CheckoutSession, order *commerce.Order) map[string]any {
	return map[string]any{
		"order_id":            order.ID,
		"checkout_session_id": session.ID,
		"order":               order,
	}
}
