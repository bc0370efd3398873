// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for cart and
// checkout sessions.
//
// Sessions are keyed by opaque UUID strings and carry an expires_at column.
// Expiry is not enforced here; the service layer evaluates it on read.
// Concurrent writers to the same row are last-write-wins, except that a
// completed checkout session can never be overwritten.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// CreateCart inserts c.
func CreateCart(ctx context.Context, db *gorm.DB, c *domain.CartSession) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetCart fetches a cart by id, or ErrNotFound.
func GetCart(ctx context.Context, db *gorm.DB, id string) (*domain.CartSession, error) {
	var c domain.CartSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCartItems replaces the item list and bumps updated_at. expires_at is
// left untouched.
func SaveCartItems(ctx context.Context, db *gorm.DB, id string, items domain.CartItems, at time.Time) error {
	if items == nil {
		items = domain.CartItems{}
	}
	res := db.WithContext(ctx).
		Model(&domain.CartSession{}).
		Where("id = ?", id).
		Select("items", "updated_at").
		Updates(&domain.CartSession{Items: items, UpdatedAt: at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateCartStatus sets the cart status.
func UpdateCartStatus(ctx context.Context, db *gorm.DB, id, status string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.CartSession{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteCart removes a cart. Returns ErrNotFound when nothing was deleted.
func DeleteCart(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.CartSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateCheckout inserts s.
func CreateCheckout(ctx context.Context, db *gorm.DB, s *domain.CheckoutSession) error {
	return db.WithContext(ctx).Create(s).Error
}

// GetCheckout fetches a checkout session by id, or ErrNotFound.
func GetCheckout(ctx context.Context, db *gorm.DB, id string) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateCheckout writes every mutable column of s unless the stored row is
// already complete. Returns ErrNotFound when the row is missing or complete.
func UpdateCheckout(ctx context.Context, db *gorm.DB, s *domain.CheckoutSession) error {
	res := db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ? AND status <> ?", s.ID, domain.CheckoutComplete).
		Select("items", "shipping_address", "billing_address", "shipping_method",
			"payment_method", "coupon_codes", "totals", "status", "updated_at").
		Updates(s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CompleteCheckout moves a session to complete with orderID. It reports false
// when the session was already complete (or missing), so a concurrent second
// completion can be told apart from the first.
func CompleteCheckout(ctx context.Context, db *gorm.DB, id, orderID, paymentMethod string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     domain.CheckoutComplete,
		"order_id":   orderID,
		"updated_at": at,
	}
	if paymentMethod != "" {
		updates["payment_method"] = paymentMethod
	}
	res := db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ? AND status <> ?", id, domain.CheckoutComplete).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCheckoutExpired flags a session whose deadline has passed. Complete
// sessions are never touched.
func MarkCheckoutExpired(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ? AND status IN ?", id, []string{domain.CheckoutPending, domain.CheckoutReady}).
		Updates(map[string]any{"status": domain.CheckoutExpired, "updated_at": at}).Error
}

// DeleteExpiredCarts removes active carts whose expiry is before cutoff and
// returns the number removed. Carts that moved on to checkout are kept so the
// session can still point at them.
func DeleteExpiredCarts(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", domain.CartActive, cutoff).
		Delete(&domain.CartSession{})
	return res.RowsAffected, res.Error
}
