package domain

import "time"

// Order lifecycle events delivered to webhook subscribers.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
	EventOrderRefunded      = "order.refunded"
)

// Events lists every event a webhook may subscribe to.
var Events = []string{EventOrderCreated, EventOrderStatusChanged, EventOrderPaid, EventOrderRefunded}

// IsEvent reports whether name is a known event.
func IsEvent(name string) bool {
	for _, e := range Events {
		if e == name {
			return true
		}
	}
	return false
}

// Webhook statuses.
const (
	WebhookActive   = "active"
	WebhookInactive = "inactive"
)

// Webhook is a subscriber URL, its shared HMAC secret and the events it wants.
type Webhook struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	APIKeyID  uint      `json:"api_key_id" gorm:"not null;index"`
	URL       string    `json:"url"        gorm:"type:varchar(2048);not null"`
	Events    []string  `json:"events"     gorm:"type:text;serializer:json"`
	Secret    string    `json:"-"          gorm:"type:varchar(255);not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'active';index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Webhook.
func (Webhook) TableName() string { return "webhooks" }

// Subscribes reports whether the webhook wants event.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// FailedWebhook is a dead-letter record: a delivery that exhausted its inline
// retries and waits for the periodic sweep. The table is capped; the oldest
// rows (lowest ID) are evicted first.
type FailedWebhook struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	WebhookID uint      `json:"webhook_id" gorm:"index"`
	URL       string    `json:"url"        gorm:"type:varchar(2048);not null"`
	Secret    string    `json:"-"          gorm:"type:varchar(255);not null"`
	Event     string    `json:"event"      gorm:"type:varchar(64);not null"`
	Body      string    `json:"-"          gorm:"type:text;not null"`
	Signature string    `json:"-"          gorm:"type:varchar(255)"`
	Error     string    `json:"error"      gorm:"type:text"`
	Attempts  int       `json:"attempts"   gorm:"not null;default:0"`
	FailedAt  time.Time `json:"failed_at"  gorm:"not null;index"`
}

// TableName returns the database table name for FailedWebhook.
func (FailedWebhook) TableName() string { return "failed_webhooks" }

// Signing key statuses.
const (
	KeyCurrent  = "current"
	KeyPrevious = "previous"
)

// SigningKey is an Ed25519 key pair. The private half never leaves the server.
type SigningKey struct {
	ID         uint      `json:"-"          gorm:"primaryKey"`
	KID        string    `json:"kid"        gorm:"type:varchar(64);not null;uniqueIndex"`
	PublicKey  []byte    `json:"-"          gorm:"not null"`
	PrivateKey []byte    `json:"-"          gorm:"not null"`
	Status     string    `json:"status"     gorm:"type:varchar(16);not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for SigningKey.
func (SigningKey) TableName() string { return "signing_keys" }
