// Webhook HTTP handlers.
//
// Subscriptions belong to the calling key: list and delete only ever see the
// caller's own webhooks. The signing secret is returned once, at creation.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CreateWebhookRequest subscribes a URL to order events.
type CreateWebhookRequest struct {
	URL    string   `json:"url"    binding:"required,url" example:"https://agent.example.com/hooks/ucp"`
	Events []string `json:"events" binding:"required,min=1,dive,ucp_event" example:"order.created,order.paid"`
	// Secret is generated when omitted.
	Secret string `json:"secret,omitempty"`
}

// CreatedWebhook is the subscription plus its secret, shown once.
type CreatedWebhook struct {
	ID        uint      `json:"id"         example:"3"`
	URL       string    `json:"url"        example:"https://agent.example.com/hooks/ucp"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"     example:"active"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateWebhook godoc
// @ID          createWebhook
// @Summary     Subscribe to order events
// @Description Deliveries are signed with HMAC-SHA256 using the returned secret.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       body  body      handlers.CreateWebhookRequest  true  "Subscription"
// @Success     201   {object}  handlers.Envelope{data=handlers.CreatedWebhook}
// @Failure     400   {object}  handlers.ErrorResponse  "validation_failed / invalid_webhook"
// @Failure     401   {object}  handlers.ErrorResponse
// @Router      /webhooks [post]
func (h *Handlers) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if !bindJSON(c, &req) {
		return
	}
	w, err := h.webhooks.Create(c.Request.Context(), req.URL, req.Events, req.Secret)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, CreatedWebhook{
		ID:        w.ID,
		URL:       w.URL,
		Events:    w.Events,
		Status:    w.Status,
		Secret:    w.Secret,
		CreatedAt: w.CreatedAt,
	})
}

// ListWebhooks godoc
// @ID          listWebhooks
// @Summary     List the caller's subscriptions
// @Tags        Webhooks
// @Produce     json
// @Security    ApiKeyAuth
// @Param       page      query     int  false  "Page (1-based)"  default(1)
// @Param       per_page  query     int  false  "Page size"       default(10)
// @Success     200       {object}  handlers.Envelope{data=[]domain.Webhook,meta=handlers.Meta}
// @Failure     401       {object}  handlers.ErrorResponse
// @Router      /webhooks [get]
func (h *Handlers) ListWebhooks(c *gin.Context) {
	page, perPage := clampPagination(c)
	items, total, err := h.webhooks.ListPage(c.Request.Context(), page, perPage)
	if err != nil {
		failErr(c, err)
		return
	}
	okPage(c, items, page, perPage, total)
}

// DeleteWebhook godoc
// @ID          deleteWebhook
// @Summary     Delete one of the caller's subscriptions
// @Tags        Webhooks
// @Security    ApiKeyAuth
// @Param       id   path  int  true  "Webhook id"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /webhooks/{id} [delete]
func (h *Handlers) DeleteWebhook(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	if err := h.webhooks.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// FailedWebhooks godoc
// @ID          failedWebhooks
// @Summary     Dead-letter report
// @Description Counters by event plus the newest failed deliveries. Secrets and
// @Description bodies are never included.
// @Tags        Webhooks
// @Produce     json
// @Security    ApiKeyAuth
// @Param       page      query     int  false  "Page (1-based)"  default(1)
// @Param       per_page  query     int  false  "Page size"       default(10)
// @Success     200       {object}  handlers.Envelope{data=services.DeadLetterReport}
// @Failure     403       {object}  handlers.ErrorResponse
// @Router      /webhooks/failed [get]
func (h *Handlers) FailedWebhooks(c *gin.Context) {
	page, perPage := clampPagination(c)
	rep, err := h.webhooks.DeadLetters(c.Request.Context(), page, perPage)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}
