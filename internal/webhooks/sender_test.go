package webhooks

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

type memDeadLetters struct {
	mu   sync.Mutex
	recs []*domain.FailedWebhook
}

func (m *memDeadLetters) Add(_ context.Context, rec *domain.FailedWebhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type fixedSigner struct{ priv ed25519.PrivateKey }

func (s fixedSigner) Sign(_ context.Context, msg []byte) (string, []byte, error) {
	return "ed25519-2026-01-deadbeef", ed25519.Sign(s.priv, msg), nil
}

var fixedNow = time.Date(2026, 1, 11, 9, 30, 0, 0, time.UTC)

func newTestSender(dl DeadLetterStore) (*Sender, *[]time.Duration) {
	var sleeps []time.Duration
	s := NewSender(5*time.Second, zerolog.Nop())
	s.DeadLetters = dl
	s.APIVersion = "2026-01-11"
	s.Source = "https://shop.example"
	s.Now = func() time.Time { return fixedNow }
	s.Sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return s, &sleeps
}

func TestSend_ServerErrorRetriesThenDeadLetters(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dl := &memDeadLetters{}
	s, sleeps := newTestSender(dl)
	hook := domain.Webhook{ID: 7, URL: srv.URL, Secret: "whsec", Events: []string{domain.EventOrderCreated}}

	res := s.Send(context.Background(), hook, domain.EventOrderCreated, map[string]any{"order_id": "42"})

	if res.Outcome != OutcomeDeadLettered || res.Attempts != 3 {
		t.Fatalf("result = %+v; want dead_lettered after 3 attempts", res)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hits = %d; want 3", hits.Load())
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != 5*time.Second || (*sleeps)[1] != 10*time.Second {
		t.Fatalf("backoff = %v; want [5s 10s]", *sleeps)
	}
	if len(dl.recs) != 1 {
		t.Fatalf("dead letters = %d; want 1", len(dl.recs))
	}
	rec := dl.recs[0]
	if rec.WebhookID != 7 || rec.Attempts != 3 || rec.Event != domain.EventOrderCreated || rec.Error != "HTTP 500" {
		t.Fatalf("dead letter = %+v", rec)
	}
	if err := VerifySignature([]byte(rec.Body), rec.Signature, "whsec", fixedNow); err != nil {
		t.Fatalf("stored signature should match stored body: %v", err)
	}
}

func TestSend_ClientErrorIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dl := &memDeadLetters{}
	s, sleeps := newTestSender(dl)
	res := s.Send(context.Background(), domain.Webhook{URL: srv.URL, Secret: "x"}, domain.EventOrderPaid, nil)

	if res.Outcome != OutcomeTerminal || res.Attempts != 1 || res.StatusCode != 404 {
		t.Fatalf("result = %+v", res)
	}
	if hits.Load() != 1 || len(*sleeps) != 0 || len(dl.recs) != 0 {
		t.Fatalf("hits=%d sleeps=%v deadletters=%d; want 1, none, none", hits.Load(), *sleeps, len(dl.recs))
	}
}

func TestSend_RedirectNotFollowed(t *testing.T) {
	var followed atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	s, _ := newTestSender(nil)
	res := s.Send(context.Background(), domain.Webhook{URL: srv.URL, Secret: "x"}, domain.EventOrderPaid, nil)
	if res.Outcome != OutcomeTerminal || res.StatusCode != http.StatusFound {
		t.Fatalf("result = %+v; want terminal 302", res)
	}
	if followed.Load() {
		t.Fatalf("redirect must not be followed")
	}
}

func TestSend_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dl := &memDeadLetters{}
	s, sleeps := newTestSender(dl)
	res := s.Send(context.Background(), domain.Webhook{URL: srv.URL, Secret: "x"}, domain.EventOrderPaid, nil)
	if !res.Delivered() || res.Attempts != 2 || len(*sleeps) != 1 || len(dl.recs) != 0 {
		t.Fatalf("result=%+v sleeps=%v deadletters=%d", res, *sleeps, len(dl.recs))
	}
}

func TestSend_HeadersEnvelopeAndSignatures(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	type seen struct {
		header http.Header
		body   []byte
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := newTestSender(nil)
	s.Signer = fixedSigner{priv: priv}
	s.UserAgent = "UCP-Shopping-Agent/1.2.3"

	res := s.Send(context.Background(), domain.Webhook{URL: srv.URL, Secret: "whsec"}, domain.EventOrderRefunded,
		map[string]any{"order_id": "42", "amount": 500})
	if !res.Delivered() {
		t.Fatalf("expected delivery, got %+v", res)
	}
	req := <-got
	h := req.header

	for k, want := range map[string]string{
		"Content-Type":           "application/json",
		"User-Agent":             "UCP-Shopping-Agent/1.2.3",
		"X-Ucp-Event":            domain.EventOrderRefunded,
		"X-Ucp-Timestamp":        strconv.FormatInt(fixedNow.Unix(), 10),
		"X-Ucp-Signature-Key-Id": "ed25519-2026-01-deadbeef",
	} {
		if h.Get(k) != want {
			t.Errorf("header %s = %q; want %q", k, h.Get(k), want)
		}
	}
	if h.Get("X-UCP-Delivery") == "" {
		t.Errorf("missing X-UCP-Delivery")
	}
	if err := VerifySignature(req.body, h.Get("X-UCP-Signature"), "whsec", fixedNow); err != nil {
		t.Fatalf("hmac signature: %v", err)
	}
	edSig, err := base64.RawURLEncoding.DecodeString(h.Get("X-UCP-Signature-Ed25519"))
	if err != nil || !ed25519.Verify(pub, SignedPayload(fixedNow.Unix(), req.body), edSig) {
		t.Fatalf("ed25519 signature does not verify (decode err=%v)", err)
	}

	var env map[string]any
	if err := json.Unmarshal(req.body, &env); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if env["event"] != domain.EventOrderRefunded || env["api_version"] != "2026-01-11" ||
		env["source"] != "https://shop.example" || env["timestamp"] != "2026-01-11T09:30:00Z" || env["id"] == "" {
		t.Fatalf("envelope = %v", env)
	}
	if data, _ := env["data"].(map[string]any); data["order_id"] != "42" {
		t.Fatalf("envelope data = %v", env["data"])
	}
}

func TestSend_DeliveryIDFreshPerAttempt(t *testing.T) {
	var mu sync.Mutex
	ids := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids[r.Header.Get("X-UCP-Delivery")] = true
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := newTestSender(nil)
	s.Send(context.Background(), domain.Webhook{URL: srv.URL, Secret: "x"}, domain.EventOrderPaid, nil)
	if len(ids) != 3 {
		t.Fatalf("distinct delivery ids = %d; want 3", len(ids))
	}
}
