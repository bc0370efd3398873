package handlers

import (
	"context"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
)

//
// Service contracts (context-aware)
//

// CartService defines cart session operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CartService interface {
	Create(ctx context.Context) (*domain.CartSession, error)
	Get(ctx context.Context, id string) (*domain.CartSession, error)
	Delete(ctx context.Context, id string) error
	AddItem(ctx context.Context, cartID string, in services.AddItemInput) (*domain.CartSession, error)
	UpdateItem(ctx context.Context, cartID, key string, qty int) (*domain.CartSession, error)
	RemoveItem(ctx context.Context, cartID, key string) (*domain.CartSession, error)
	ConvertToCheckout(ctx context.Context, cartID string, shipping domain.Address, billing *domain.Address) (*domain.CheckoutSession, error)
	Totals(c *domain.CartSession) domain.Totals
}

// CheckoutService defines the checkout session state machine.
type CheckoutService interface {
	Create(ctx context.Context, items []services.AddItemInput, shipping, billing *domain.Address) (*domain.CheckoutSession, error)
	Get(ctx context.Context, id string) (*domain.CheckoutSession, error)
	Update(ctx context.Context, id string, in services.UpdateCheckoutInput) (*domain.CheckoutSession, error)
	Complete(ctx context.Context, id string, in services.CompleteInput) (*domain.CheckoutSession, *commerce.Order, error)
}

// OrderService reads orders back from the order store.
type OrderService interface {
	Get(ctx context.Context, id string) (*commerce.Order, error)
}

// KeyService administers API keys.
type KeyService interface {
	Create(ctx context.Context, owner, description string, perm domain.Permission) (*domain.APIKey, string, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.APIKey, int64, error)
	Delete(ctx context.Context, id uint) error
}

// WebhookService manages subscriptions of the calling key and reports dead
// letters.
type WebhookService interface {
	Create(ctx context.Context, rawURL string, events []string, secret string) (*domain.Webhook, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Webhook, int64, error)
	Delete(ctx context.Context, id uint) error
	DeadLetters(ctx context.Context, page, pageSize int) (*services.DeadLetterReport, error)
}

// OrderEventService turns order store notifications into webhook events.
type OrderEventService interface {
	Ingest(ctx context.Context, ev services.OrderEvent) ([]string, error)
}

// SigningKeys exposes the webhook signing key set.
type SigningKeys interface {
	Available(ctx context.Context) bool
	PublicKeys(ctx context.Context) ([]signing.JWK, error)
	Rotate(ctx context.Context) (*domain.SigningKey, error)
}

//
// Handler wiring
//

// Services bundles the collaborators of Handlers.
type Services struct {
	Carts       CartService
	Checkouts   CheckoutService
	Orders      OrderService
	Keys        KeyService
	Webhooks    WebhookService
	OrderEvents OrderEventService
	Signing     SigningKeys
}

// Info is the static store description used by discovery and presentation.
type Info struct {
	Version          string
	BasePath         string
	PublicURL        string
	MerchantName     string
	Currency         string
	CurrencyDecimals int
	Locale           string
	RateRPS          float64
	RateBurst        int
	PaymentHandlers  []string
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	carts       CartService
	checkouts   CheckoutService
	orders      OrderService
	keys        KeyService
	webhooks    WebhookService
	orderEvents OrderEventService
	signing     SigningKeys
	info        Info
}

// New constructs and returns a Handlers instance bound to the given services.
func New(s Services, info Info) *Handlers {
	RegisterValidators()
	return &Handlers{
		carts:       s.Carts,
		checkouts:   s.Checkouts,
		orders:      s.Orders,
		keys:        s.Keys,
		webhooks:    s.Webhooks,
		orderEvents: s.OrderEvents,
		signing:     s.Signing,
		info:        info,
	}
}
