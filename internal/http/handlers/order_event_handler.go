package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

// OrderEventRequest is a lifecycle notification from the order store.
type OrderEventRequest struct {
	Type      string                 `json:"type"       binding:"required,oneof=status_changed paid refunded" example:"status_changed"`
	OrderID   FlexID                 `json:"order_id"   binding:"required" swaggertype:"string" example:"1042"`
	OldStatus string                 `json:"old_status" example:"pending"`
	NewStatus string                 `json:"new_status" example:"processing"`
	RefundID  FlexID                 `json:"refund_id"  swaggertype:"string"`
	Amount    int64                  `json:"amount"`
	Reason    string                 `json:"reason"`
	Order     services.OrderSnapshot `json:"order"`
}

// OrderEventResponse lists the webhook events that were published.
type OrderEventResponse struct {
	Events []string `json:"events" example:"order.status_changed,order.created"`
}

// IngestOrderEvent godoc
// @ID          ingestOrderEvent
// @Summary     Ingest an order lifecycle event
// @Description Fans the event out to subscribed webhooks. Delivery happens in the
// @Description background; the response only lists what was published.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       body  body      handlers.OrderEventRequest  true  "Event"
// @Success     202   {object}  handlers.Envelope{data=handlers.OrderEventResponse}
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Router      /order-events [post]
func (h *Handlers) IngestOrderEvent(c *gin.Context) {
	var req OrderEventRequest
	if !bindJSON(c, &req) {
		return
	}
	events, err := h.orderEvents.Ingest(c.Request.Context(), services.OrderEvent{
		Type:      req.Type,
		OrderID:   string(req.OrderID),
		OldStatus: req.OldStatus,
		NewStatus: req.NewStatus,
		RefundID:  string(req.RefundID),
		Amount:    req.Amount,
		Reason:    req.Reason,
		Order:     req.Order,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, OrderEventResponse{Events: events})
}
