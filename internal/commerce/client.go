package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Client is an HTTP Catalog and OrderStore backed by a remote commerce API.
//
//	GET  {base}/products/{id}[?variation_id=]
//	GET  {base}/products?sku=
//	POST {base}/orders
//	GET  {base}/orders/{id}
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// ResolveProduct fetches a product by id or SKU. A 404 maps to
// ErrProductNotFound.
func (c *Client) ResolveProduct(ctx context.Context, ref ProductRef) (*Product, error) {
	ctx, span := otel.Tracer("commerce/Client").Start(ctx, "ResolveProduct",
		trace.WithAttributes(
			attribute.String("product.id", ref.ProductID),
			attribute.String("product.sku", ref.SKU),
		),
	)
	defer span.End()

	var endpoint string
	switch {
	case ref.ProductID != "":
		endpoint = c.BaseURL + "/products/" + url.PathEscape(ref.ProductID)
		if ref.VariationID != "" {
			endpoint += "?variation_id=" + url.QueryEscape(ref.VariationID)
		}
	case ref.SKU != "":
		endpoint = c.BaseURL + "/products?sku=" + url.QueryEscape(ref.SKU)
	default:
		return nil, ErrProductNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var p Product
	status, err := c.do(req, &p)
	if status == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrder posts req to the order store.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := otel.Tracer("commerce/Client").Start(ctx, "CreateOrder",
		trace.WithAttributes(attribute.String("checkout.id", req.CheckoutSessionID)),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	var o Order
	if _, err := c.do(hreq, &o); err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, fmt.Errorf("order store returned no order id")
	}
	return &o, nil
}

// GetOrder fetches an order by id. A 404 maps to ErrOrderNotFound.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	ctx, span := otel.Tracer("commerce/Client").Start(ctx, "GetOrder",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var o Order
	status, err := c.do(req, &o)
	if status == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// do injects trace context, sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) (int, error) {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("commerce %s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode commerce response: %w", err)
	}
	return resp.StatusCode, nil
}
