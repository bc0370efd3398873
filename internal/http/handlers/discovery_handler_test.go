package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

func TestDiscovery_Document(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/.well-known/ucp", "/ucp/v1/discovery"} {
		w := e.do(http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", path, w.Code, w.Body.String())
		}
		var doc DiscoveryDocument
		decode(t, w, &doc)
		d := doc.UCP

		if d.Version != "2026-01-11" || d.Merchant.Name != "Test Shop" || d.Merchant.Currency != (CurrencyInfo{Code: "USD", Decimals: 2}) {
			t.Fatalf("%s: merchant = %+v", path, d.Merchant)
		}
		if !strings.HasPrefix(d.Merchant.ID, "merchant_") || len(d.Merchant.ID) != len("merchant_")+16 {
			t.Fatalf("%s: merchant id = %q", path, d.Merchant.ID)
		}
		if d.RateLimits != (RateLimits{RequestsPerMinute: 300, BurstLimit: 10}) {
			t.Fatalf("%s: rate limits = %+v", path, d.RateLimits)
		}
		if !d.Signing.Available || d.Signing.JWKSURI != "https://shop.example.com/ucp/v1/signing-keys" {
			t.Fatalf("%s: signing = %+v", path, d.Signing)
		}

		names := map[string]Capability{}
		for _, c := range d.Capabilities {
			names[c.Name] = c
		}
		cart, okCart := names["dev.ucp.shopping.cart"]
		hooks, okHooks := names["dev.ucp.shopping.webhooks"]
		if !okCart || !cart.RequiresAuth || cart.Endpoint != "https://shop.example.com/ucp/v1/carts" {
			t.Fatalf("%s: cart capability = %+v", path, cart)
		}
		if !okHooks || len(hooks.Events) != len(domain.Events) {
			t.Fatalf("%s: webhooks capability = %+v", path, hooks)
		}
		if _, has := names["dev.ucp.shopping.checkout"]; !has {
			t.Fatalf("%s: checkout capability missing", path)
		}
	}
}

func TestDiscovery_SameMerchantIDAcrossRequests(t *testing.T) {
	e := newEnv(t)
	var a, b DiscoveryDocument
	decode(t, e.do(http.MethodGet, "/.well-known/ucp", "", nil), &a)
	decode(t, e.do(http.MethodGet, "/ucp/v1/discovery", e.reader, nil), &b)
	if a.UCP.Merchant.ID != b.UCP.Merchant.ID {
		t.Fatalf("merchant id differs: %q vs %q", a.UCP.Merchant.ID, b.UCP.Merchant.ID)
	}
}

func TestSigningKeys_RotateKeepsPrevious(t *testing.T) {
	e := newEnv(t)

	var set JWKSet
	decode(t, e.do(http.MethodGet, "/ucp/v1/signing-keys", "", nil), &set)
	if len(set.Keys) != 1 || set.Keys[0].Kty != "OKP" || set.Keys[0].Crv != "Ed25519" || set.Keys[0].Status != domain.KeyCurrent {
		t.Fatalf("keys = %+v", set.Keys)
	}
	first := set.Keys[0].Kid

	wantError(t, e.do(http.MethodPost, "/ucp/v1/signing-keys/rotate", e.writer, nil), http.StatusForbidden, ErrCodeInsufficientPermission)

	w := e.do(http.MethodPost, "/ucp/v1/signing-keys/rotate", e.admin, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("rotate: %d %s", w.Code, w.Body.String())
	}
	var rotated domain.SigningKey
	decode(t, w, &rotated)
	if rotated.KID == "" || rotated.KID == first || strings.Contains(w.Body.String(), "private") {
		t.Fatalf("rotated = %s", w.Body.String())
	}

	decode(t, e.do(http.MethodGet, "/ucp/v1/signing-keys", e.reader, nil), &set)
	status := map[string]string{}
	for _, k := range set.Keys {
		status[k.Kid] = k.Status
	}
	if len(set.Keys) != 2 || status[first] != domain.KeyPrevious || status[rotated.KID] != domain.KeyCurrent {
		t.Fatalf("after rotate = %+v", set.Keys)
	}
}
