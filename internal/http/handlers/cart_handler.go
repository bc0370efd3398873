// Cart HTTP handlers.
//
// This file exposes REST endpoints for cart sessions:
//   - POST   /carts                          (create)
//   - GET    /carts/{id}                     (get with totals)
//   - DELETE /carts/{id}                     (delete)
//   - POST   /carts/{id}/items               (add item)
//   - PUT    /carts/{id}/items/{item_key}    (set quantity; 0 removes)
//   - DELETE /carts/{id}/items/{item_key}    (remove item)
//   - POST   /carts/{id}/checkout            (convert to a checkout session)
//
// Handlers are transport-thin: they bind input, call CartService and render
// the cart with freshly computed totals.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

//
// DTOs
//

// FlexID accepts a JSON string or number. Agents send catalog ids in both
// forms.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// AddItemRequest names a product by id (optionally a variation) or by SKU.
type AddItemRequest struct {
	ProductID   FlexID `json:"product_id"   swaggertype:"string" example:"10"`
	VariationID FlexID `json:"variation_id" swaggertype:"string" example:"7"`
	SKU         string `json:"sku"          example:"TEE-M"`
	// Quantity defaults to 1.
	Quantity int `json:"quantity" example:"2"`
}

func (r AddItemRequest) input() services.AddItemInput {
	return services.AddItemInput{
		ProductID:   string(r.ProductID),
		VariationID: string(r.VariationID),
		SKU:         strings.TrimSpace(r.SKU),
		Quantity:    r.Quantity,
	}
}

// UpdateItemRequest sets the quantity of one cart line.
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required" example:"3"`
}

// ConvertCartRequest carries the addresses for a new checkout session.
// Billing defaults to shipping.
type ConvertCartRequest struct {
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
}

// CartView is the public representation of a cart.
type CartView struct {
	ID        string           `json:"id"         example:"9b2f1c3e-8a4d-4c1e-9f7a-0e1d2c3b4a59"`
	Status    string           `json:"status"     example:"active"`
	Items     domain.CartItems `json:"items"`
	Totals    domain.Totals    `json:"totals"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (h *Handlers) cartView(c *domain.CartSession) CartView {
	items := c.Items
	if items == nil {
		items = domain.CartItems{}
	}
	return CartView{
		ID:        c.ID,
		Status:    c.Status,
		Items:     items,
		Totals:    h.carts.Totals(c),
		ExpiresAt: c.ExpiresAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

//
// Handlers
//

// CreateCart godoc
// @ID          createCart
// @Summary     Create a cart
// @Description Starts an empty cart owned by the calling key.
// @Tags        Carts
// @Produce     json
// @Security    ApiKeyAuth
// @Success     201  {object}  handlers.Envelope{data=handlers.CartView}
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /carts [post]
func (h *Handlers) CreateCart(c *gin.Context) {
	cart, err := h.carts.Create(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, h.cartView(cart))
}

// GetCart godoc
// @ID          getCart
// @Summary     Get a cart
// @Tags        Carts
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id   path      string  true  "Cart ID"  format(uuid)
// @Success     200  {object}  handlers.Envelope{data=handlers.CartView}
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown cart"
// @Failure     410  {object}  handlers.ErrorResponse  "Expired or converted cart"
// @Router      /carts/{id} [get]
func (h *Handlers) GetCart(c *gin.Context) {
	cart, err := h.carts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.cartView(cart))
}

// DeleteCart godoc
// @ID          deleteCart
// @Summary     Delete a cart
// @Tags        Carts
// @Security    ApiKeyAuth
// @Param       id   path  string  true  "Cart ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     410  {object}  handlers.ErrorResponse
// @Router      /carts/{id} [delete]
func (h *Handlers) DeleteCart(c *gin.Context) {
	if err := h.carts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AddCartItem godoc
// @ID          addCartItem
// @Summary     Add an item
// @Description Resolves the product by id or SKU, checks stock and appends a line.
// @Tags        Carts
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id    path      string                    true  "Cart ID"  format(uuid)
// @Param       body  body      handlers.AddItemRequest   true  "Item"
// @Success     201   {object}  handlers.Envelope{data=handlers.CartView}
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_product / invalid_quantity"
// @Failure     404   {object}  handlers.ErrorResponse  "cart_not_found / product_not_found"
// @Failure     409   {object}  handlers.ErrorResponse  "out_of_stock / insufficient_stock"
// @Failure     410   {object}  handlers.ErrorResponse
// @Router      /carts/{id}/items [post]
func (h *Handlers) AddCartItem(c *gin.Context) {
	var req AddItemRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.AddItem(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, h.cartView(cart))
}

// UpdateCartItem godoc
// @ID          updateCartItem
// @Summary     Set an item quantity
// @Description A quantity of 0 removes the line.
// @Tags        Carts
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id        path      string                      true  "Cart ID"  format(uuid)
// @Param       item_key  path      string                      true  "Item key"
// @Param       body      body      handlers.UpdateItemRequest  true  "Quantity"
// @Success     200       {object}  handlers.Envelope{data=handlers.CartView}
// @Failure     400       {object}  handlers.ErrorResponse
// @Failure     404       {object}  handlers.ErrorResponse  "cart_not_found / item_not_found"
// @Failure     410       {object}  handlers.ErrorResponse
// @Router      /carts/{id}/items/{item_key} [put]
// @Router      /carts/{id}/items/{item_key} [patch]
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	var req UpdateItemRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("item_key"), *req.Quantity)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.cartView(cart))
}

// RemoveCartItem godoc
// @ID          removeCartItem
// @Summary     Remove an item
// @Tags        Carts
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id        path      string  true  "Cart ID"  format(uuid)
// @Param       item_key  path      string  true  "Item key"
// @Success     200       {object}  handlers.Envelope{data=handlers.CartView}
// @Failure     404       {object}  handlers.ErrorResponse
// @Failure     410       {object}  handlers.ErrorResponse
// @Router      /carts/{id}/items/{item_key} [delete]
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	cart, err := h.carts.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("item_key"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.cartView(cart))
}

// CheckoutCart godoc
// @ID          checkoutCart
// @Summary     Convert a cart to a checkout session
// @Description Requires first_name, last_name, address_1, city, country and email
// @Description on the shipping address. The cart moves to status "checkout".
// @Tags        Carts
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id    path      string                       true  "Cart ID"  format(uuid)
// @Param       body  body      handlers.ConvertCartRequest  true  "Addresses"
// @Success     201   {object}  handlers.Envelope{data=handlers.CheckoutView}
// @Failure     400   {object}  handlers.ErrorResponse  "empty_cart / missing_address_field"
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     410   {object}  handlers.ErrorResponse
// @Router      /carts/{id}/checkout [post]
func (h *Handlers) CheckoutCart(c *gin.Context) {
	var req ConvertCartRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.carts.ConvertToCheckout(c.Request.Context(), c.Param("id"), req.ShippingAddress, req.BillingAddress)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, h.checkoutView(session))
}
