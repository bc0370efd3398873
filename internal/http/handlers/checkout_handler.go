// Checkout HTTP handlers.
//
// This file exposes REST endpoints for checkout sessions:
//   - POST  /checkout/sessions                 (create from raw items)
//   - GET   /checkout/sessions/{id}            (get)
//   - PATCH /checkout/sessions/{id}            (partial update; PUT is an alias)
//   - POST  /checkout/sessions/{id}/complete   (place the order; /confirm is an alias)
//
// Sessions are presented with the public status (incomplete | complete),
// their items as line_items and the configured payment handlers.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

//
// DTOs
//

// CreateCheckoutRequest opens a session directly from items.
type CreateCheckoutRequest struct {
	Items           []AddItemRequest `json:"items"`
	ShippingAddress *domain.Address  `json:"shipping_address,omitempty"`
	BillingAddress  *domain.Address  `json:"billing_address,omitempty"`
}

// UpdateCheckoutRequest is a partial update. Omitted fields are unchanged.
type UpdateCheckoutRequest struct {
	ShippingAddress *domain.Address `json:"shipping_address,omitempty"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	ShippingMethod  *string         `json:"shipping_method,omitempty" example:"flat_rate"`
	PaymentMethod   *string         `json:"payment_method,omitempty"  example:"stripe"`
	CouponCodes     []string        `json:"coupon_codes,omitempty"`
}

// PaymentData selects a payment handler at completion.
type PaymentData struct {
	HandlerID string `json:"handler_id" example:"stripe"`
}

// CompleteCheckoutRequest carries optional payment details. payment_method is
// the older form of payment_data.handler_id.
type CompleteCheckoutRequest struct {
	PaymentData   *PaymentData `json:"payment_data,omitempty"`
	PaymentMethod string       `json:"payment_method,omitempty" example:"stripe"`
}

// PaymentHandler advertises one way to pay.
type PaymentHandler struct {
	ID      string `json:"id"      example:"stripe"`
	Version string `json:"version" example:"2026-01-11"`
}

// PaymentInfo lists the payment handlers a session accepts.
type PaymentInfo struct {
	Handlers []PaymentHandler `json:"handlers"`
}

// CheckoutView is the public representation of a checkout session.
type CheckoutView struct {
	ID              string           `json:"id"     example:"0f8c2a6e-3b1d-4e5f-9a7b-6c5d4e3f2a1b"`
	Status          string           `json:"status" example:"incomplete" enums:"incomplete,complete"`
	LineItems       domain.CartItems `json:"line_items"`
	ShippingAddress *domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address  `json:"billing_address"`
	Totals          domain.Totals    `json:"totals"`
	Payment         PaymentInfo      `json:"payment"`
	CartID          *string          `json:"cart_id"`
	ShippingMethod  string           `json:"shipping_method"`
	PaymentMethod   string           `json:"payment_method"`
	CouponCodes     []string         `json:"coupon_codes"`
	OrderID         *string          `json:"order_id"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Money is an amount rendered in major units, e.g. "10.00".
type Money struct {
	Amount   string `json:"amount"   example:"10.00"`
	Currency string `json:"currency" example:"USD"`
}

// OrderView summarizes the order created at completion.
type OrderView struct {
	ID         string    `json:"id"          example:"1042"`
	Number     string    `json:"number"      example:"1042"`
	Status     string    `json:"status"      example:"pending"`
	Total      Money     `json:"total"`
	PaymentURL string    `json:"payment_url" example:"https://shop.example.com/pay/1042"`
	CreatedAt  time.Time `json:"created_at"`
}

// CompleteCheckoutResponse is returned by a successful completion.
type CompleteCheckoutResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status" example:"complete"`
	Order  OrderView `json:"order"`
}

func (h *Handlers) checkoutView(s *domain.CheckoutSession) CheckoutView {
	items := s.Items
	if items == nil {
		items = domain.CartItems{}
	}
	coupons := s.CouponCodes
	if coupons == nil {
		coupons = []string{}
	}
	ph := make([]PaymentHandler, 0, len(h.info.PaymentHandlers))
	for _, id := range h.info.PaymentHandlers {
		ph = append(ph, PaymentHandler{ID: id, Version: h.info.Version})
	}
	var orderID *string
	if s.OrderID != "" {
		id := s.OrderID
		orderID = &id
	}
	return CheckoutView{
		ID:              s.ID,
		Status:          s.PublicStatus(),
		LineItems:       items,
		ShippingAddress: s.ShippingAddress,
		BillingAddress:  s.BillingAddress,
		Totals:          s.Totals,
		Payment:         PaymentInfo{Handlers: ph},
		CartID:          s.CartID,
		ShippingMethod:  s.ShippingMethod,
		PaymentMethod:   s.PaymentMethod,
		CouponCodes:     coupons,
		OrderID:         orderID,
		ExpiresAt:       s.ExpiresAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (h *Handlers) orderView(o *commerce.Order) OrderView {
	cur := o.Currency
	if cur == "" {
		cur = h.info.Currency
	}
	return OrderView{
		ID:         o.ID,
		Number:     o.Number,
		Status:     o.Status,
		Total:      Money{Amount: formatMinor(o.Total, h.info.CurrencyDecimals), Currency: cur},
		PaymentURL: o.PaymentURL,
		CreatedAt:  o.CreatedAt,
	}
}

// formatMinor renders minor units with the given number of decimals.
func formatMinor(v int64, decimals int) string {
	if decimals <= 0 {
		return strconv.FormatInt(v, 10)
	}
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	cut := len(s) - decimals
	return sign + s[:cut] + "." + s[cut:]
}

// bindOptionalJSON is bindJSON that accepts an empty body.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	err := c.ShouldBindJSON(out)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	failBind(c, err)
	return false
}

//
// Handlers
//

// CreateCheckout godoc
// @ID          createCheckout
// @Summary     Create a checkout session from items
// @Description Items that do not resolve to a published product are dropped.
// @Tags        Checkout
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       body  body      handlers.CreateCheckoutRequest  true  "Items and addresses"
// @Success     201   {object}  handlers.Envelope{data=handlers.CheckoutView}
// @Failure     400   {object}  handlers.ErrorResponse  "empty_cart / no_valid_items / invalid_quantity"
// @Failure     401   {object}  handlers.ErrorResponse
// @Router      /checkout/sessions [post]
func (h *Handlers) CreateCheckout(c *gin.Context) {
	var req CreateCheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	items := make([]services.AddItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.input())
	}
	session, err := h.checkouts.Create(c.Request.Context(), items, req.ShippingAddress, req.BillingAddress)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, h.checkoutView(session))
}

// GetCheckout godoc
// @ID          getCheckout
// @Summary     Get a checkout session
// @Tags        Checkout
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id   path      string  true  "Session ID"  format(uuid)
// @Success     200  {object}  handlers.Envelope{data=handlers.CheckoutView}
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     410  {object}  handlers.ErrorResponse  "session_expired / session_unavailable"
// @Router      /checkout/sessions/{id} [get]
func (h *Handlers) GetCheckout(c *gin.Context) {
	session, err := h.checkouts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.checkoutView(session))
}

// UpdateCheckout godoc
// @ID          updateCheckout
// @Summary     Update a checkout session
// @Description Provided fields overwrite; totals are recomputed. A shipping method
// @Description moves the session to ready.
// @Tags        Checkout
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id    path      string                          true  "Session ID"  format(uuid)
// @Param       body  body      handlers.UpdateCheckoutRequest  true  "Changes"
// @Success     200   {object}  handlers.Envelope{data=handlers.CheckoutView}
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "already_complete"
// @Failure     410   {object}  handlers.ErrorResponse
// @Router      /checkout/sessions/{id} [patch]
// @Router      /checkout/sessions/{id} [put]
func (h *Handlers) UpdateCheckout(c *gin.Context) {
	var req UpdateCheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.checkouts.Update(c.Request.Context(), c.Param("id"), services.UpdateCheckoutInput{
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		CouponCodes:     req.CouponCodes,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.checkoutView(session))
}

// CompleteCheckout godoc
// @ID          completeCheckout
// @Summary     Complete a checkout session
// @Description Creates the order exactly once and emits order.created. A second call
// @Description answers 409 already_complete and creates nothing.
// @Tags        Checkout
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id    path      string                            true   "Session ID"  format(uuid)
// @Param       body  body      handlers.CompleteCheckoutRequest  false  "Payment details"
// @Success     200   {object}  handlers.Envelope{data=handlers.CompleteCheckoutResponse}
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "already_complete"
// @Failure     410   {object}  handlers.ErrorResponse
// @Failure     502   {object}  handlers.ErrorResponse  "order_creation_failed"
// @Router      /checkout/sessions/{id}/complete [post]
// @Router      /checkout/sessions/{id}/confirm [post]
func (h *Handlers) CompleteCheckout(c *gin.Context) {
	var req CompleteCheckoutRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	in := services.CompleteInput{PaymentMethod: req.PaymentMethod}
	if req.PaymentData != nil {
		in.PaymentHandlerID = req.PaymentData.HandlerID
	}
	session, order, err := h.checkouts.Complete(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CompleteCheckoutResponse{
		ID:     session.ID,
		Status: session.PublicStatus(),
		Order:  h.orderView(order),
	})
}
