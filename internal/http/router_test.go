package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
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
	"github.com/tbourn/ucp-shopping-agent/internal/config"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/http/middleware"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
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

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

func newDeps(t *testing.T, db *gorm.DB) Deps {
	t.Helper()
	catalog := commerce.NewMemory(commerce.Product{ID: "10", SKU: "ABC", Name: "Mug", Published: true, Price: 500, InStock: true})
	mgr := signing.NewManager(db, zerolog.Nop())
	if err := mgr.EnsureKey(context.Background()); err != nil {
		t.Fatalf("signing key: %v", err)
	}
	return Deps{DB: db, Catalog: catalog, Orders: catalog, Events: nopPublisher{}, Signing: mgr}
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/ucp/v1",
		UCPVersion:  "2026-01-11",
		RateRPS:     100,
		RateBurst:   50,
		Merchant: config.MerchantConfig{
			Name: "Test Shop", URL: "https://shop.example.com", Currency: "USD", Locale: "en-US",
		},
		CORS:     config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security: config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:     config.OTELConfig{ServiceName: "test-svc"},
	}
}

func adminCredential(t *testing.T, db *gorm.DB) string {
	t.Helper()
	keys := services.NewKeyService(db, nil)
	keys.Cost = bcrypt.MinCost
	k, secret, err := keys.Create(context.Background(), "router-test", "", domain.PermAdmin)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	return k.KeyID + ":" + secret
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, newDeps(t, db), baseConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 with error envelope
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	var er struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.Code != "not_found" || er.RequestID == "" {
		t.Fatalf("GET /nope expected 404 envelope, got %d %s", w.Code, w.Body.String())
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newDeps(t, newTestDB(t)), cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// preflight for the credential header
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/ucp/v1/carts", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", middleware.APIKeyHeader)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
}

func TestRegisterRoutes_RouteTable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t, newTestDB(t)), baseConfig())

	have := map[string]bool{}
	for _, ri := range r.Routes() {
		have[ri.Method+" "+ri.Path] = true
	}
	want := []string{
		"GET /.well-known/ucp",
		"GET /ucp/v1/discovery",
		"GET /ucp/v1/signing-keys",
		"POST /ucp/v1/signing-keys/rotate",
		"GET /ucp/v1/auth/verify",
		"GET /ucp/v1/auth/keys",
		"POST /ucp/v1/auth/keys",
		"DELETE /ucp/v1/auth/keys/:id",
		"POST /ucp/v1/carts",
		"GET /ucp/v1/carts/:id",
		"DELETE /ucp/v1/carts/:id",
		"POST /ucp/v1/carts/:id/items",
		"PUT /ucp/v1/carts/:id/items/:item_key",
		"PATCH /ucp/v1/carts/:id/items/:item_key",
		"DELETE /ucp/v1/carts/:id/items/:item_key",
		"POST /ucp/v1/carts/:id/checkout",
		"POST /ucp/v1/checkout/sessions",
		"GET /ucp/v1/checkout/sessions/:id",
		"PATCH /ucp/v1/checkout/sessions/:id",
		"PUT /ucp/v1/checkout/sessions/:id",
		"POST /ucp/v1/checkout/sessions/:id/complete",
		"POST /ucp/v1/checkout/sessions/:id/confirm",
		"GET /ucp/v1/orders/:id",
		"GET /ucp/v1/webhooks",
		"POST /ucp/v1/webhooks",
		"GET /ucp/v1/webhooks/failed",
		"DELETE /ucp/v1/webhooks/:id",
		"POST /ucp/v1/order-events",
		"GET /health",
		"GET /metrics",
	}
	for _, route := range want {
		if !have[route] {
			t.Errorf("missing route %s", route)
		}
	}
	if have["GET /swagger/*any"] {
		t.Errorf("swagger must be off unless enabled")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, body := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != body {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// A credentialed request traverses ratelimit + auth + otel + gzip + security headers.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	RegisterRoutes(r, newDeps(t, db), cfg)
	cred := adminCredential(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/carts", nil)
	req.Header.Set(middleware.APIKeyHeader, cred)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("POST /carts = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain http")
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers: %v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var body struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(zr).Decode(&body); err != nil || body.Data.ID == "" || body.Data.Status != domain.CartActive {
		t.Fatalf("cart body: %v %+v", err, body)
	}

	// same route without a credential
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ucp/v1/carts", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous POST /carts = %d", w.Code)
	}
}

func TestPipeline_DiscoveryIsPublic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t, newTestDB(t)), baseConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/ucp", nil))
	var doc struct {
		Data struct {
			UCP struct {
				Version    string `json:"version"`
				RateLimits struct {
					RequestsPerMinute int `json:"requests_per_minute"`
					BurstLimit        int `json:"burst_limit"`
				} `json:"rate_limits"`
				Signing struct {
					Available bool `json:"available"`
				} `json:"signing"`
			} `json:"ucp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil || w.Code != http.StatusOK {
		t.Fatalf("discovery: %d %s", w.Code, w.Body.String())
	}
	d := doc.Data.UCP
	if d.Version != "2026-01-11" || d.RateLimits.RequestsPerMinute != 6000 || d.RateLimits.BurstLimit != 50 || !d.Signing.Available {
		t.Fatalf("discovery body = %+v", d)
	}
}

func TestPipeline_RateLimitBeforeAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	RegisterRoutes(r, newDeps(t, newTestDB(t)), cfg)

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ucp/v1/carts", nil)
		req.Header.Set(middleware.APIKeyHeader, "ucp_nobody:secret")
		r.ServeHTTP(w, req)
		return w
	}
	if w := send(); w.Code != http.StatusUnauthorized {
		t.Fatalf("first request = %d; want 401", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second request = %d; want 429 with Retry-After", w.Code)
	}
}

func TestPipeline_FakeKeyIDsDoNotEscapeIPLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 2
	RegisterRoutes(r, newDeps(t, newTestDB(t)), cfg)

	limited := 0
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ucp/v1/carts", nil)
		req.Header.Set(middleware.APIKeyHeader, fmt.Sprintf("ucp_fake%d:secret", i))
		r.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Fatalf("limited = %d of 20; want 18", limited)
	}
}

func TestPipeline_VerifiedKeyLimitedAcrossIPs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	RegisterRoutes(r, newDeps(t, db), cfg)
	cred := adminCredential(t, db)

	send := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ucp/v1/carts", nil)
		req.RemoteAddr = ip + ":5000"
		req.Header.Set(middleware.APIKeyHeader, cred)
		r.ServeHTTP(w, req)
		return w
	}
	if w := send("198.51.100.1"); w.Code != http.StatusCreated {
		t.Fatalf("first request = %d %s", w.Code, w.Body.String())
	}
	// Fresh IP bucket, same key bucket.
	if w := send("198.51.100.2"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from another IP = %d; want 429", w.Code)
	}
}
