// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, the success envelope, and pagination
// helpers. Every endpoint answers in one of two shapes so agents can parse
// responses without per-route special cases.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `ok()` wraps a payload as {"data": ...}; `okPage()` adds {"meta": ...}
//     for paginated lists.
//
// Example error response:
//
//	HTTP/1.1 410 Gone
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "cart_expired",
//	  "message": "cart has expired"
//	}
//
// Example success response:
//
//	HTTP/1.1 200 OK
//	{ "data": { "id": "abc123", "status": "active" } }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/http/middleware"
	"github.com/tbourn/ucp-shopping-agent/internal/utils"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header, used
//     to correlate server logs with client-side errors.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"cart_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"cart not found"`
}

// Envelope is the success wrapper. Meta is only present on paginated lists.
type Envelope struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta carries pagination metadata for list responses.
type Meta struct {
	Page       int   `json:"page"        example:"1"`
	PerPage    int   `json:"per_page"    example:"10"`
	Total      int64 `json:"total"       example:"42"`
	TotalPages int   `json:"total_pages" example:"5"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes data inside the success envelope.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Data: data})
}

// okPage writes a page of items with pagination metadata.
func okPage(c *gin.Context, items any, page, perPage int, total int64) {
	c.JSON(http.StatusOK, Envelope{
		Data: items,
		Meta: &Meta{Page: page, PerPage: perPage, Total: total, TotalPages: utils.TotalPages(total, perPage)},
	})
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// clampPagination reads page/per_page from the query string with defaults
// and caps applied.
func clampPagination(c *gin.Context) (page, perPage int) {
	return utils.ParsePage(c.Query("page"), c.Query("per_page"))
}

// principal returns the key that authenticated the request, or nil.
func principal(c *gin.Context) *domain.APIKey {
	return middleware.Principal(c)
}
