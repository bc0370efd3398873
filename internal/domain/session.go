package domain

import "time"

// Cart statuses.
const (
	CartActive    = "active"
	CartCheckout  = "checkout"
	CartConverted = "converted"
	CartExpired   = "expired"
)

// Checkout statuses. Pending and ready are the working states, complete is
// final and immutable, failed and expired are terminal error states.
const (
	CheckoutPending  = "pending"
	CheckoutReady    = "ready"
	CheckoutComplete = "complete"
	CheckoutFailed   = "failed"
	CheckoutExpired  = "expired"
)

// CartItem is one line of a cart or checkout snapshot. Prices are minor
// currency units. LineTotal is always Price * Quantity.
type CartItem struct {
	Key         string `json:"key"`
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	LineTotal   int64  `json:"line_total"`
	Image       string `json:"image,omitempty"`
}

// CartItems keeps items in insertion order; keys are unique within the list.
type CartItems []CartItem

// Index returns the position of key or -1.
func (it CartItems) Index(key string) int {
	for i := range it {
		if it[i].Key == key {
			return i
		}
	}
	return -1
}

// Subtotal sums line totals.
func (it CartItems) Subtotal() int64 {
	var sum int64
	for _, item := range it {
		sum += item.LineTotal
	}
	return sum
}

// Count sums quantities.
func (it CartItems) Count() int {
	n := 0
	for _, item := range it {
		n += item.Quantity
	}
	return n
}

// Totals is the computed money summary of a cart or checkout session.
type Totals struct {
	Subtotal   int64  `json:"subtotal"`
	Shipping   int64  `json:"shipping"`
	Tax        int64  `json:"tax"`
	Discount   int64  `json:"discount"`
	Total      int64  `json:"total"`
	ItemsCount int    `json:"items_count"`
	Currency   string `json:"currency"`
}

// NewTotals computes totals for items. Shipping, tax and discount have no
// rate source yet and are always zero.
func NewTotals(items CartItems, currency string) Totals {
	t := Totals{
		Subtotal:   items.Subtotal(),
		ItemsCount: items.Count(),
		Currency:   currency,
	}
	t.Total = t.Subtotal + t.Shipping + t.Tax - t.Discount
	return t
}

// Address is a postal plus contact address.
type Address struct {
	FirstName string `json:"first_name,omitempty" example:"Ada"`
	LastName  string `json:"last_name,omitempty"  example:"Lovelace"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"  example:"12 Analytical St"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"       example:"London"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"   example:"N1 9GU"`
	Country   string `json:"country,omitempty"    example:"GB"`
	Email     string `json:"email,omitempty"      example:"ada@example.com"`
	Phone     string `json:"phone,omitempty"`
}

// CartSession is an ephemeral shopping cart keyed by an opaque id. Expiry is
// evaluated when the cart is read, not swept.
type CartSession struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	APIKeyID  *uint     `json:"-"          gorm:"index"`
	Items     CartItems `json:"items"      gorm:"type:text;serializer:json"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'active';index"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CartSession.
func (CartSession) TableName() string { return "cart_sessions" }

// Expired reports whether the cart is past its expiry at now.
func (c *CartSession) Expired(now time.Time) bool { return c.ExpiresAt.Before(now) }

// CheckoutSession snapshots items plus fulfillment and payment choices and is
// converted into an order exactly once.
type CheckoutSession struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	CartID          *string   `json:"cart_id"          gorm:"type:char(36);index"`
	APIKeyID        *uint     `json:"-"                gorm:"index"`
	Items           CartItems `json:"items"            gorm:"type:text;serializer:json"`
	ShippingAddress *Address  `json:"shipping_address" gorm:"type:text;serializer:json"`
	BillingAddress  *Address  `json:"billing_address"  gorm:"type:text;serializer:json"`
	ShippingMethod  string    `json:"shipping_method"  gorm:"type:varchar(64)"`
	PaymentMethod   string    `json:"payment_method"   gorm:"type:varchar(64)"`
	CouponCodes     []string  `json:"coupon_codes"     gorm:"type:text;serializer:json"`
	Totals          Totals    `json:"totals"           gorm:"type:text;serializer:json"`
	Status          string    `json:"status"           gorm:"type:varchar(16);not null;default:'pending';index"`
	OrderID         string    `json:"order_id"         gorm:"type:varchar(64)"`
	ExpiresAt       time.Time `json:"expires_at"       gorm:"not null;index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for CheckoutSession.
func (CheckoutSession) TableName() string { return "checkout_sessions" }

// Expired reports whether the session is past expiry. Complete sessions never
// expire.
func (s *CheckoutSession) Expired(now time.Time) bool {
	return s.Status != CheckoutComplete && s.ExpiresAt.Before(now)
}

// PublicStatus maps internal states to the protocol's two-valued status.
func (s *CheckoutSession) PublicStatus() string {
	if s.Status == CheckoutComplete {
		return "complete"
	}
	return "incomplete"
}
