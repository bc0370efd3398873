// Order HTTP handlers.
//
//   - GET /orders/{id}   (order detail, write permission)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// OrderLineView is one purchased line with unit price and line total.
type OrderLineView struct {
	ProductID   string `json:"product_id"             example:"42"`
	VariationID string `json:"variation_id,omitempty"`
	SKU         string `json:"sku,omitempty"          example:"MUG-RED"`
	Name        string `json:"name"                   example:"Red mug"`
	Quantity    int    `json:"quantity"               example:"2"`
	Price       Money  `json:"price"`
	Total       Money  `json:"total"`
}

// OrderDetailView is an order with its lines and addresses.
type OrderDetailView struct {
	OrderView
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	Items             []OrderLineView `json:"items"`
	ShippingAddress   *domain.Address `json:"shipping_address,omitempty"`
	BillingAddress    *domain.Address `json:"billing_address,omitempty"`
}

func (h *Handlers) orderDetailView(o *commerce.Order) OrderDetailView {
	v := OrderDetailView{
		OrderView:         h.orderView(o),
		CheckoutSessionID: o.CheckoutSessionID,
		Items:             make([]OrderLineView, 0, len(o.Items)),
		ShippingAddress:   o.Shipping,
		BillingAddress:    o.Billing,
	}
	cur, dec := v.Total.Currency, h.info.CurrencyDecimals
	for _, l := range o.Items {
		v.Items = append(v.Items, OrderLineView{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			SKU:         l.SKU,
			Name:        l.Name,
			Quantity:    l.Quantity,
			Price:       Money{Amount: formatMinor(l.Price, dec), Currency: cur},
			Total:       Money{Amount: formatMinor(l.Price*int64(l.Quantity), dec), Currency: cur},
		})
	}
	return v
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order
// @Description Reads the order back from the order store, with its lines and addresses.
// @Tags        Orders
// @Produce     json
// @Security    ApiKeyAuth
// @Param       id   path      string  true  "Order ID"
// @Success     200  {object}  handlers.Envelope{data=handlers.OrderDetailView}
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "order_not_found"
// @Failure     502  {object}  handlers.ErrorResponse  "order_lookup_failed"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.orderDetailView(o))
}
