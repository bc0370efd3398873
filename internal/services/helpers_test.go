package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type publishedEvent struct {
	Event string
	Data  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Event: event, Data: data})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event
	}
	return out
}

// clock is a settable time source.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testCatalog() *commerce.Memory {
	return commerce.NewMemory(
		commerce.Product{ID: "10", SKU: "ABC", Name: "Mug", Published: true, Price: 500, InStock: true},
		commerce.Product{ID: "11", SKU: "TEE-M", Name: "Tee", Published: true, Price: 2500, InStock: true, ManageStock: true, StockQuantity: 2},
		commerce.Product{ID: "11", VariationID: "7", SKU: "TEE-L", Name: "Tee (L)", Published: true, Price: 2600, InStock: true},
		commerce.Product{ID: "12", SKU: "GONE", Name: "Sold out", Published: true, Price: 900},
		commerce.Product{ID: "13", SKU: "DRAFT", Name: "Draft", Price: 100, InStock: true},
	)
}

type fixture struct {
	clock    *clock
	catalog  *commerce.Memory
	events   *recordingPublisher
	cart     *CartService
	checkout *CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	s := &fixture{clock: newClock(), catalog: testCatalog(), events: &recordingPublisher{}}
	s.checkout = NewCheckoutService(db, s.catalog, s.catalog, s.events, "USD")
	s.checkout.Now = s.clock.Now
	s.cart = NewCartService(db, s.catalog, s.checkout, "USD")
	s.cart.Now = s.clock.Now
	return s
}
