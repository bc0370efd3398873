package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(APIKey{}).TableName():          "api_keys",
		(CartSession{}).TableName():     "cart_sessions",
		(CheckoutSession{}).TableName(): "checkout_sessions",
		(Webhook{}).TableName():         "webhooks",
		(FailedWebhook{}).TableName():   "failed_webhooks",
		(SigningKey{}).TableName():      "signing_keys",
		(Setting{}).TableName():         "settings",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestPermission_Ordering(t *testing.T) {
	if !PermAdmin.Allows(PermWrite) || !PermWrite.Allows(PermRead) || !PermRead.Allows(PermRead) {
		t.Fatalf("higher permissions must satisfy lower requirements")
	}
	if PermRead.Allows(PermWrite) || PermWrite.Allows(PermAdmin) {
		t.Fatalf("lower permissions must not satisfy higher requirements")
	}
	if Permission("root").Allows(PermRead) {
		t.Fatalf("unknown permission must satisfy nothing")
	}
	if _, ok := ParsePermission("write"); !ok {
		t.Fatalf("write should parse")
	}
	if _, ok := ParsePermission("superuser"); ok {
		t.Fatalf("unknown permission should not parse")
	}
}

func TestCartItems_Aggregates(t *testing.T) {
	items := CartItems{
		{Key: "a", Quantity: 2, Price: 500, LineTotal: 1000},
		{Key: "b", Quantity: 1, Price: 250, LineTotal: 250},
	}
	if items.Subtotal() != 1250 || items.Count() != 3 {
		t.Fatalf("aggregates: subtotal=%d count=%d", items.Subtotal(), items.Count())
	}
	if items.Index("b") != 1 || items.Index("zz") != -1 {
		t.Fatalf("Index lookup failed")
	}

	tot := NewTotals(items, "USD")
	if tot.Subtotal != 1250 || tot.Total != 1250 || tot.Shipping != 0 || tot.Tax != 0 || tot.ItemsCount != 3 || tot.Currency != "USD" {
		t.Fatalf("totals unexpected: %+v", tot)
	}
}

func TestCheckoutSession_ExpiryAndStatus(t *testing.T) {
	now := time.Now()
	s := &CheckoutSession{Status: CheckoutReady, ExpiresAt: now.Add(-time.Second)}
	if !s.Expired(now) {
		t.Fatalf("ready session past expiry should be expired")
	}
	if s.PublicStatus() != "incomplete" {
		t.Fatalf("ready maps to incomplete, got %q", s.PublicStatus())
	}
	s.Status = CheckoutComplete
	if s.Expired(now) {
		t.Fatalf("complete session must never expire")
	}
	if s.PublicStatus() != "complete" {
		t.Fatalf("complete maps to complete, got %q", s.PublicStatus())
	}

	c := &CartSession{ExpiresAt: now.Add(time.Minute)}
	if c.Expired(now) {
		t.Fatalf("cart inside ttl should not be expired")
	}
}

func TestWebhook_SubscribesAndEvents(t *testing.T) {
	w := &Webhook{Events: []string{EventOrderPaid}}
	if !w.Subscribes(EventOrderPaid) || w.Subscribes(EventOrderCreated) {
		t.Fatalf("Subscribes mismatch")
	}
	if !IsEvent("order.refunded") || IsEvent("order.deleted") {
		t.Fatalf("IsEvent mismatch")
	}
}

func TestMigrations_JSONColumnsRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&CheckoutSession{}, &Webhook{}, &APIKey{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&APIKey{}, "idx_api_keys_key_id") {
		t.Fatalf("expected unique index on api_keys.key_id")
	}

	cart := "cart-1"
	in := CheckoutSession{
		ID:              "11111111-1111-1111-1111-111111111111",
		CartID:          &cart,
		Items:           CartItems{{Key: "k", ProductID: "p1", Quantity: 2, Price: 500, LineTotal: 1000}},
		ShippingAddress: &Address{FirstName: "Ada", Country: "GB"},
		CouponCodes:     []string{"SAVE10"},
		Totals:          NewTotals(CartItems{{Quantity: 2, LineTotal: 1000}}, "USD"),
		Status:          CheckoutPending,
		ExpiresAt:       time.Now().Add(time.Hour),
	}
	if err := db.Create(&in).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var out CheckoutSession
	if err := db.First(&out, "id = ?", in.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].LineTotal != 1000 {
		t.Fatalf("items not round-tripped: %+v", out.Items)
	}
	if out.ShippingAddress == nil || out.ShippingAddress.FirstName != "Ada" {
		t.Fatalf("shipping address not round-tripped: %+v", out.ShippingAddress)
	}
	if out.BillingAddress != nil {
		t.Fatalf("nil billing address should stay nil, got %+v", out.BillingAddress)
	}
	if out.Totals.Subtotal != 1000 || len(out.CouponCodes) != 1 {
		t.Fatalf("totals/coupons not round-tripped: %+v %v", out.Totals, out.CouponCodes)
	}
}
