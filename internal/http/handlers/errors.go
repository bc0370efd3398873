// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the table that maps
// service sentinel errors onto them. Codes give clients a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, not_found, ...) mirror HTTP status semantics.
//   - Domain codes name the failed precondition (cart_expired, already_complete).
//   - Unknown errors surface as internal_error without their text.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_complete",
//	  "message": "checkout session has already been completed"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/http/middleware"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Authentication and key administration
	ErrCodeAuthRequired           = "auth_required"
	ErrCodeInvalidKeyFormat       = "invalid_api_key_format"
	ErrCodeInvalidKey             = "invalid_api_key"
	ErrCodeInsufficientPermission = "insufficient_permission"
	ErrCodeKeyNotFound            = "key_not_found"

	// Carts
	ErrCodeCartNotFound        = "cart_not_found"
	ErrCodeCartExpired         = "cart_expired"
	ErrCodeCartUnavailable     = "cart_unavailable"
	ErrCodeInvalidProduct      = "invalid_product"
	ErrCodeInvalidQuantity     = "invalid_quantity"
	ErrCodeProductNotFound     = "product_not_found"
	ErrCodeOutOfStock          = "out_of_stock"
	ErrCodeInsufficientStock   = "insufficient_stock"
	ErrCodeItemNotFound        = "item_not_found"
	ErrCodeMissingAddressField = "missing_address_field"

	// Checkout
	ErrCodeSessionNotFound     = "session_not_found"
	ErrCodeSessionExpired      = "session_expired"
	ErrCodeSessionUnavailable  = "session_unavailable"
	ErrCodeAlreadyComplete     = "already_complete"
	ErrCodeEmptyCart           = "empty_cart"
	ErrCodeNoValidItems        = "no_valid_items"
	ErrCodeOrderCreationFailed = "order_creation_failed"

	// Orders
	ErrCodeOrderNotFound     = "order_not_found"
	ErrCodeOrderLookupFailed = "order_lookup_failed"

	// Webhooks and order events
	ErrCodeWebhookNotFound   = "webhook_not_found"
	ErrCodeInvalidWebhook    = "invalid_webhook"
	ErrCodeInvalidOrderEvent = "invalid_order_event"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{services.ErrAuthRequired, http.StatusUnauthorized, ErrCodeAuthRequired},
	{services.ErrInvalidFormat, http.StatusUnauthorized, ErrCodeInvalidKeyFormat},
	{services.ErrInvalidKey, http.StatusUnauthorized, ErrCodeInvalidKey},
	{services.ErrInsufficientPermission, http.StatusForbidden, ErrCodeInsufficientPermission},
	{services.ErrKeyNotFound, http.StatusNotFound, ErrCodeKeyNotFound},

	{services.ErrCartNotFound, http.StatusNotFound, ErrCodeCartNotFound},
	{services.ErrCartExpired, http.StatusGone, ErrCodeCartExpired},
	{services.ErrCartUnavailable, http.StatusGone, ErrCodeCartUnavailable},
	{services.ErrInvalidProduct, http.StatusBadRequest, ErrCodeInvalidProduct},
	{services.ErrInvalidQuantity, http.StatusBadRequest, ErrCodeInvalidQuantity},
	{services.ErrProductNotFound, http.StatusNotFound, ErrCodeProductNotFound},
	{services.ErrOutOfStock, http.StatusConflict, ErrCodeOutOfStock},
	{services.ErrInsufficientStock, http.StatusConflict, ErrCodeInsufficientStock},
	{services.ErrItemNotFound, http.StatusNotFound, ErrCodeItemNotFound},
	{services.ErrMissingAddressField, http.StatusBadRequest, ErrCodeMissingAddressField},

	{services.ErrSessionNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
	{services.ErrSessionExpired, http.StatusGone, ErrCodeSessionExpired},
	{services.ErrSessionUnavailable, http.StatusGone, ErrCodeSessionUnavailable},
	{services.ErrAlreadyComplete, http.StatusConflict, ErrCodeAlreadyComplete},
	{services.ErrEmptyCart, http.StatusBadRequest, ErrCodeEmptyCart},
	{services.ErrNoValidItems, http.StatusBadRequest, ErrCodeNoValidItems},
	{services.ErrOrderCreationFailed, http.StatusBadGateway, ErrCodeOrderCreationFailed},

	{services.ErrOrderNotFound, http.StatusNotFound, ErrCodeOrderNotFound},
	{services.ErrOrderLookupFailed, http.StatusBadGateway, ErrCodeOrderLookupFailed},

	{services.ErrWebhookNotFound, http.StatusNotFound, ErrCodeWebhookNotFound},
	{services.ErrInvalidWebhook, http.StatusBadRequest, ErrCodeInvalidWebhook},
	{services.ErrInvalidOrderEvent, http.StatusBadRequest, ErrCodeInvalidOrderEvent},
}

// failErr maps err onto the error table and aborts the request. Errors
// outside the table become a 500 whose message does not echo err.
func failErr(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.status >= http.StatusInternalServerError {
				// Upstream detail stays in the log.
				middleware.LoggerFrom(c).Warn().Err(err).Msg("upstream failure")
				msg = m.err.Error()
			}
			fail(c, m.status, m.code, msg)
			return
		}
	}
	_ = c.Error(err)
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}
