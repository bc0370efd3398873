// Discovery and signing key HTTP handlers.
//
// The discovery document tells an agent what this merchant supports, how to
// authenticate, how fast it may call, and where to fetch the public keys that
// sign webhook deliveries.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
)

// DiscoveryDocument is served at /.well-known/ucp and {base}/discovery.
type DiscoveryDocument struct {
	UCP DiscoveryBody `json:"ucp"`
}

// DiscoveryBody is the content of the discovery document.
type DiscoveryBody struct {
	Version        string         `json:"version" example:"2026-01-11"`
	Merchant       MerchantInfo   `json:"merchant"`
	Capabilities   []Capability   `json:"capabilities"`
	Authentication Authentication `json:"authentication"`
	RateLimits     RateLimits     `json:"rate_limits"`
	Signing        SigningInfo    `json:"signing"`
}

// MerchantInfo describes the store.
type MerchantInfo struct {
	ID       string       `json:"id"     example:"merchant_3f2a1b0c9d8e7f6a"`
	Name     string       `json:"name"   example:"UCP Store"`
	URL      string       `json:"url"    example:"https://shop.example.com"`
	Currency CurrencyInfo `json:"currency"`
	Locale   string       `json:"locale" example:"en-US"`
}

// CurrencyInfo is the store currency and its minor-unit digits.
type CurrencyInfo struct {
	Code     string `json:"code"     example:"USD"`
	Decimals int    `json:"decimals" example:"2"`
}

// Capability is one protocol feature the merchant implements.
type Capability struct {
	Name         string   `json:"name"                    example:"dev.ucp.shopping.cart"`
	Version      string   `json:"version"                 example:"2026-01-11"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Description  string   `json:"description"`
	Operations   []string `json:"operations,omitempty"`
	Events       []string `json:"events,omitempty"`
	RequiresAuth bool     `json:"requires_auth,omitempty"`
}

// AuthMethod is one way to present a credential.
type AuthMethod struct {
	Name       string `json:"name"                  example:"header"`
	HeaderName string `json:"header_name,omitempty" example:"X-UCP-API-Key"`
	ParamName  string `json:"param_name,omitempty"`
	Format     string `json:"format"                example:"key_id:secret"`
}

// PermissionInfo documents one permission level.
type PermissionInfo struct {
	Level       string `json:"level"       example:"write"`
	Description string `json:"description"`
}

// Authentication describes the API key scheme.
type Authentication struct {
	Type        string           `json:"type" example:"api_key"`
	Methods     []AuthMethod     `json:"methods"`
	Permissions []PermissionInfo `json:"permissions"`
}

// RateLimits advertises the per-identity token bucket.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute" example:"300"`
	BurstLimit        int `json:"burst_limit"         example:"10"`
}

// SigningInfo tells receivers how deliveries are signed.
type SigningInfo struct {
	Algorithms []string `json:"algorithms"`
	Available  bool     `json:"available"`
	JWKSURI    string   `json:"jwks_uri"`
	Headers    []string `json:"headers"`
}

// JWKSet is the public key set.
type JWKSet struct {
	Keys []signing.JWK `json:"keys"`
}

func (h *Handlers) discovery(c *gin.Context) DiscoveryDocument {
	v := h.info.Version
	base := h.info.PublicURL + h.info.BasePath
	sum := sha256.Sum256([]byte(h.info.PublicURL))

	return DiscoveryDocument{UCP: DiscoveryBody{
		Version: v,
		Merchant: MerchantInfo{
			ID:       "merchant_" + hex.EncodeToString(sum[:8]),
			Name:     h.info.MerchantName,
			URL:      h.info.PublicURL,
			Currency: CurrencyInfo{Code: h.info.Currency, Decimals: h.info.CurrencyDecimals},
			Locale:   h.info.Locale,
		},
		Capabilities: []Capability{
			{Name: "dev.ucp.shopping.discovery", Version: v, Endpoint: base + "/discovery", Description: "Store discovery and capabilities"},
			{Name: "dev.ucp.shopping.cart", Version: v, Endpoint: base + "/carts", Description: "Persistent cart management",
				Operations: []string{"create", "get", "update", "delete"}, RequiresAuth: true},
			{Name: "dev.ucp.shopping.checkout", Version: v, Endpoint: base + "/checkout/sessions", Description: "Create and manage checkout sessions",
				Operations: []string{"create", "get", "update", "complete"}, RequiresAuth: true},
			{Name: "dev.ucp.shopping.webhooks", Version: v, Endpoint: base + "/webhooks", Description: "Real-time order event notifications",
				Events: domain.Events, RequiresAuth: true},
		},
		Authentication: Authentication{
			Type: "api_key",
			Methods: []AuthMethod{
				{Name: "header", HeaderName: "X-UCP-API-Key", Format: "key_id:secret"},
				{Name: "query", ParamName: "ucp_api_key", Format: "key_id:secret"},
			},
			Permissions: []PermissionInfo{
				{Level: string(domain.PermRead), Description: "Discovery and signing keys"},
				{Level: string(domain.PermWrite), Description: "Carts, checkout sessions and webhooks"},
				{Level: string(domain.PermAdmin), Description: "API keys, key rotation, order events and dead letters"},
			},
		},
		RateLimits: RateLimits{
			RequestsPerMinute: int(h.info.RateRPS * 60),
			BurstLimit:        h.info.RateBurst,
		},
		Signing: SigningInfo{
			Algorithms: []string{"HMAC-SHA256", "Ed25519"},
			Available:  h.signing.Available(c.Request.Context()),
			JWKSURI:    base + "/signing-keys",
			Headers: []string{
				"X-UCP-Signature", "X-UCP-Timestamp",
				"X-UCP-Signature-Key-Id", "X-UCP-Signature-Ed25519",
			},
		},
	}}
}

// Discovery godoc
// @ID          discovery
// @Summary     Discovery document
// @Description Also served at /.well-known/ucp.
// @Tags        Discovery
// @Produce     json
// @Success     200  {object}  handlers.Envelope{data=handlers.DiscoveryDocument}
// @Router      /discovery [get]
func (h *Handlers) Discovery(c *gin.Context) {
	ok(c, http.StatusOK, h.discovery(c))
}

// SigningKeys godoc
// @ID          signingKeys
// @Summary     Public webhook signing keys
// @Description JWK set with the current key and, after a rotation, the previous one.
// @Tags        Discovery
// @Produce     json
// @Success     200  {object}  handlers.Envelope{data=handlers.JWKSet}
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /signing-keys [get]
func (h *Handlers) SigningKeys(c *gin.Context) {
	keys, err := h.signing.PublicKeys(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if keys == nil {
		keys = []signing.JWK{}
	}
	ok(c, http.StatusOK, JWKSet{Keys: keys})
}

// RotateSigningKey godoc
// @ID          rotateSigningKey
// @Summary     Rotate the signing key
// @Description The current key becomes previous; any older previous key is dropped.
// @Tags        Discovery
// @Produce     json
// @Security    ApiKeyAuth
// @Success     201  {object}  handlers.Envelope{data=domain.SigningKey}
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /signing-keys/rotate [post]
func (h *Handlers) RotateSigningKey(c *gin.Context) {
	k, err := h.signing.Rotate(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, k)
}
