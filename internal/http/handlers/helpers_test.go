package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/http/middleware"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
)

// ---------- test DB + wiring ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (p *recordingPublisher) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.data = append(p.data, data)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// env is a fully wired API over an in-memory database.
type env struct {
	t       *testing.T
	db      *gorm.DB
	r       *gin.Engine
	clock   *testClock
	catalog *commerce.Memory
	events  *recordingPublisher
	signing *signing.Manager

	admin, writer, reader string
	writerKey             *domain.APIKey
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	e := &env{
		t:     t,
		db:    db,
		clock: &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		catalog: commerce.NewMemory(
			commerce.Product{ID: "10", SKU: "ABC", Name: "Mug", Published: true, Price: 500, InStock: true},
			commerce.Product{ID: "11", SKU: "TEE-M", Name: "Tee", Published: true, Price: 2500, InStock: true, ManageStock: true, StockQuantity: 2},
			commerce.Product{ID: "12", SKU: "GONE", Name: "Sold out", Published: true, Price: 900},
		),
		events: &recordingPublisher{},
	}
	e.catalog.PaymentURLBase = "https://shop.example.com"
	e.catalog.Now = e.clock.Now

	keys := services.NewKeyService(db, nil)
	keys.Cost = bcrypt.MinCost
	e.admin = e.mintKey(keys, domain.PermAdmin, nil)
	e.writer = e.mintKey(keys, domain.PermWrite, &e.writerKey)
	e.reader = e.mintKey(keys, domain.PermRead, nil)

	checkout := services.NewCheckoutService(db, e.catalog, e.catalog, e.events, "USD")
	checkout.Now = e.clock.Now
	carts := services.NewCartService(db, e.catalog, checkout, "USD")
	carts.Now = e.clock.Now

	e.signing = signing.NewManager(db, zerolog.Nop())
	if err := e.signing.EnsureKey(context.Background()); err != nil {
		t.Fatalf("ensure signing key: %v", err)
	}

	h := New(Services{
		Carts:       carts,
		Checkouts:   checkout,
		Orders:      services.NewOrderService(e.catalog),
		Keys:        keys,
		Webhooks:    services.NewWebhookService(db),
		OrderEvents: services.NewOrderEventService(e.events),
		Signing:     e.signing,
	}, Info{
		Version:          "2026-01-11",
		BasePath:         "/ucp/v1",
		PublicURL:        "https://shop.example.com",
		MerchantName:     "Test Shop",
		Currency:         "USD",
		CurrencyDecimals: 2,
		Locale:           "en-US",
		RateRPS:          5,
		RateBurst:        10,
		PaymentHandlers:  []string{"stripe", "cod"},
	})

	auth := services.NewAuthenticator(db, nil)
	read := middleware.RequireAPIKey(auth, domain.PermRead)
	readKey := middleware.RequireKey(auth, domain.PermRead)
	write := middleware.RequireAPIKey(auth, domain.PermWrite)
	admin := middleware.RequireAPIKey(auth, domain.PermAdmin)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/.well-known/ucp", read, h.Discovery)
	api := r.Group("/ucp/v1")
	api.GET("/discovery", read, h.Discovery)
	api.GET("/signing-keys", read, h.SigningKeys)
	api.POST("/signing-keys/rotate", admin, h.RotateSigningKey)
	api.GET("/auth/verify", readKey, h.VerifyKey)
	api.GET("/auth/keys", admin, h.ListKeys)
	api.POST("/auth/keys", admin, h.CreateKey)
	api.DELETE("/auth/keys/:id", admin, h.DeleteKey)
	api.POST("/carts", write, h.CreateCart)
	api.GET("/carts/:id", write, h.GetCart)
	api.DELETE("/carts/:id", write, h.DeleteCart)
	api.POST("/carts/:id/items", write, h.AddCartItem)
	api.PUT("/carts/:id/items/:item_key", write, h.UpdateCartItem)
	api.DELETE("/carts/:id/items/:item_key", write, h.RemoveCartItem)
	api.POST("/carts/:id/checkout", write, h.CheckoutCart)
	api.POST("/checkout/sessions", write, h.CreateCheckout)
	api.GET("/checkout/sessions/:id", write, h.GetCheckout)
	api.PATCH("/checkout/sessions/:id", write, h.UpdateCheckout)
	api.POST("/checkout/sessions/:id/complete", write, h.CompleteCheckout)
	api.POST("/checkout/sessions/:id/confirm", write, h.CompleteCheckout)
	api.GET("/orders/:id", write, h.GetOrder)
	api.GET("/webhooks", write, h.ListWebhooks)
	api.POST("/webhooks", write, h.CreateWebhook)
	api.GET("/webhooks/failed", admin, h.FailedWebhooks)
	api.DELETE("/webhooks/:id", write, h.DeleteWebhook)
	api.POST("/order-events", admin, h.IngestOrderEvent)
	e.r = r
	return e
}

func (e *env) mintKey(keys *services.KeyService, perm domain.Permission, out **domain.APIKey) string {
	e.t.Helper()
	k, secret, err := keys.Create(context.Background(), "tests", string(perm), perm)
	if err != nil {
		e.t.Fatalf("create %s key: %v", perm, err)
	}
	if out != nil {
		*out = k
	}
	return k.KeyID + ":" + secret
}

// do sends a JSON request with credential cred ("" for anonymous).
func (e *env) do(method, path, cred string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != "" {
		req.Header.Set(middleware.APIKeyHeader, cred)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// decode unmarshals the "data" member of a success envelope into out.
func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, w.Body.String())
	}
}

// decodeBody unmarshals the whole response body into out.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
}

// wantError asserts status and error code.
func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != status || er.Code != code {
		t.Fatalf("got %d %q; want %d %q (%s)", w.Code, er.Code, status, code, w.Body.String())
	}
	if er.RequestID == "" {
		t.Fatalf("error envelope without request_id: %s", w.Body.String())
	}
}

// newCart creates a cart and returns its id.
func (e *env) newCart() string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/ucp/v1/carts", e.writer, nil)
	if w.Code != http.StatusCreated {
		e.t.Fatalf("create cart: %d %s", w.Code, w.Body.String())
	}
	var cv CartView
	decode(e.t, w, &cv)
	return cv.ID
}

var shipping = domain.Address{
	FirstName: "Ada", LastName: "Lovelace", Address1: "12 Analytical St",
	City: "London", Country: "GB", Email: "ada@example.com",
}
