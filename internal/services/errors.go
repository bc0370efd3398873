// Package services defines the business logic for API key authentication,
// carts, checkout sessions and order lifecycle events. This file centralizes
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Authentication errors.
var (
	// ErrAuthRequired is returned when a write or admin operation is called
	// without a credential.
	ErrAuthRequired = errors.New("api key required")

	// ErrInvalidFormat is returned when the credential is not "key_id:secret".
	ErrInvalidFormat = errors.New("invalid api key format")

	// ErrInvalidKey covers both an unknown key id and a wrong secret.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInsufficientPermission is returned when the key's level is below the
	// level the operation needs.
	ErrInsufficientPermission = errors.New("insufficient permission")

	// ErrKeyNotFound is returned by key administration for an unknown id.
	ErrKeyNotFound = errors.New("api key not found")
)

// Cart errors.
var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrCartExpired     = errors.New("cart has expired")
	ErrCartUnavailable = errors.New("cart is no longer active")

	// ErrInvalidProduct is returned when an item names neither a product id
	// nor a SKU.
	ErrInvalidProduct    = errors.New("product_id or sku is required")
	ErrProductNotFound   = errors.New("product not found")
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("cart item not found")

	// ErrMissingAddressField is wrapped with the name of the missing field.
	ErrMissingAddressField = errors.New("missing required address field")
)

// Checkout errors.
var (
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrSessionExpired      = errors.New("checkout session has expired")
	ErrSessionUnavailable  = errors.New("checkout session is no longer available")
	ErrAlreadyComplete     = errors.New("checkout session has already been completed")
	ErrEmptyCart           = errors.New("no items to check out")
	ErrNoValidItems        = errors.New("none of the items could be resolved")
	ErrOrderCreationFailed = errors.New("failed to create order")
)

// Order read errors.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderLookupFailed = errors.New("failed to read order")
)

// Webhook subscription errors.
var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidWebhook  = errors.New("invalid webhook")
)
