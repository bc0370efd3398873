// Auth HTTP handlers: credential verification and API key administration.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

// CreateKeyRequest mints a key.
type CreateKeyRequest struct {
	Owner       string `json:"owner"       example:"agent@example.com"`
	Description string `json:"description" example:"shopping assistant"`
	Permissions string `json:"permissions" binding:"required,ucp_permission" example:"write" enums:"read,write,admin"`
}

// CreatedKey is returned once at creation. The secret is not retrievable
// afterwards.
type CreatedKey struct {
	Key        *domain.APIKey `json:"key"`
	Secret     string         `json:"secret"     example:"ucp_sk_2Qm5x9..."`
	Credential string         `json:"credential" example:"ucp_a1b2c3:ucp_sk_2Qm5x9..."`
	Warning    string         `json:"warning"`
}

// VerifyResponse echoes the authenticated key.
type VerifyResponse struct {
	Valid       bool              `json:"valid"`
	KeyID       string            `json:"key_id"      example:"ucp_a1b2c3d4e5f6g7h8i9j0k1l2"`
	Permissions domain.Permission `json:"permissions" example:"write"`
	Owner       string            `json:"owner"`
	Description string            `json:"description"`
	LastAccess  *time.Time        `json:"last_access,omitempty"`
}

// VerifyKey godoc
// @ID          verifyKey
// @Summary     Verify the presented API key
// @Tags        Auth
// @Produce     json
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.Envelope{data=handlers.VerifyResponse}
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/verify [get]
func (h *Handlers) VerifyKey(c *gin.Context) {
	k := principal(c)
	if k == nil {
		failErr(c, services.ErrAuthRequired)
		return
	}
	ok(c, http.StatusOK, VerifyResponse{
		Valid:       true,
		KeyID:       k.KeyID,
		Permissions: k.Permissions,
		Owner:       k.Owner,
		Description: k.Description,
		LastAccess:  k.LastAccess,
	})
}

// CreateKey godoc
// @ID          createKey
// @Summary     Create an API key
// @Description The plaintext secret is only returned by this call.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    ApiKeyAuth
// @Param       body  body      handlers.CreateKeyRequest  true  "Key"
// @Success     201   {object}  handlers.Envelope{data=handlers.CreatedKey}
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Router      /auth/keys [post]
func (h *Handlers) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if !bindJSON(c, &req) {
		return
	}
	k, secret, err := h.keys.Create(c.Request.Context(), req.Owner, req.Description, domain.Permission(req.Permissions))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, CreatedKey{
		Key:        k,
		Secret:     secret,
		Credential: k.KeyID + ":" + secret,
		Warning:    "store the secret now; it cannot be shown again",
	})
}

// ListKeys godoc
// @ID          listKeys
// @Summary     List API keys
// @Tags        Auth
// @Produce     json
// @Security    ApiKeyAuth
// @Param       page      query     int  false  "Page (1-based)"  default(1)
// @Param       per_page  query     int  false  "Page size"       default(10)
// @Success     200       {object}  handlers.Envelope{data=[]domain.APIKey,meta=handlers.Meta}
// @Failure     403       {object}  handlers.ErrorResponse
// @Router      /auth/keys [get]
func (h *Handlers) ListKeys(c *gin.Context) {
	page, perPage := clampPagination(c)
	keys, total, err := h.keys.ListPage(c.Request.Context(), page, perPage)
	if err != nil {
		failErr(c, err)
		return
	}
	okPage(c, keys, page, perPage, total)
}

// DeleteKey godoc
// @ID          deleteKey
// @Summary     Delete an API key
// @Description Also removes the key's webhook subscriptions.
// @Tags        Auth
// @Security    ApiKeyAuth
// @Param       id   path  int  true  "Key row id"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /auth/keys/{id} [delete]
func (h *Handlers) DeleteKey(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	if err := h.keys.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// uintParam parses a positive integer path parameter or writes a 400.
func uintParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return uint(n), true
}
