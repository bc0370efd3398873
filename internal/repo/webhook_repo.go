// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for webhook
// subscriptions and the bounded dead-letter table.
//
// Dead letters form a capped FIFO: AddFailedWebhook inserts and then evicts
// the oldest rows (lowest id) beyond the cap inside one transaction, so the
// table never holds more than cap rows after a successful insert.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// CreateWebhook inserts w.
func CreateWebhook(ctx context.Context, db *gorm.DB, w *domain.Webhook) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(w).Error
}

// ListActiveWebhooks returns every active subscription, oldest first.
func ListActiveWebhooks(ctx context.Context, db *gorm.DB) ([]domain.Webhook, error) {
	var out []domain.Webhook
	err := db.WithContext(ctx).
		Where("status = ?", domain.WebhookActive).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// CountWebhooksByKey returns the number of subscriptions owned by apiKeyID.
func CountWebhooksByKey(ctx context.Context, db *gorm.DB, apiKeyID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Webhook{}).
		Where("api_key_id = ?", apiKeyID).
		Count(&n).Error
	return n, err
}

// ListWebhooksByKeyPage returns a page of subscriptions owned by apiKeyID,
// newest first.
func ListWebhooksByKeyPage(ctx context.Context, db *gorm.DB, apiKeyID uint, offset, limit int) ([]domain.Webhook, error) {
	var out []domain.Webhook
	err := db.WithContext(ctx).
		Where("api_key_id = ?", apiKeyID).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteWebhook removes a subscription owned by apiKeyID. Returns ErrNotFound
// when the webhook is missing or owned by another key.
func DeleteWebhook(ctx context.Context, db *gorm.DB, id, apiKeyID uint) error {
	res := db.WithContext(ctx).
		Where("id = ? AND api_key_id = ?", id, apiKeyID).
		Delete(&domain.Webhook{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteWebhooksByKey removes every subscription of a deleted key.
func DeleteWebhooksByKey(ctx context.Context, db *gorm.DB, apiKeyID uint) error {
	return db.WithContext(ctx).
		Where("api_key_id = ?", apiKeyID).
		Delete(&domain.Webhook{}).Error
}

// AddFailedWebhook stores a dead letter and evicts the oldest rows beyond
// capacity. It returns the number of evicted rows.
func AddFailedWebhook(ctx context.Context, db *gorm.DB, rec *domain.FailedWebhook, capacity int) (int64, error) {
	var evicted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&domain.FailedWebhook{}).Count(&n).Error; err != nil {
			return err
		}
		if over := int(n) - capacity; capacity > 0 && over > 0 {
			oldest := tx.Model(&domain.FailedWebhook{}).Select("id").Order("id asc").Limit(over)
			res := tx.Where("id IN (?)", oldest).Delete(&domain.FailedWebhook{})
			if res.Error != nil {
				return res.Error
			}
			evicted = res.RowsAffected
		}
		return nil
	})
	return evicted, err
}

// ListFailedWebhooks returns every dead letter in FIFO order.
func ListFailedWebhooks(ctx context.Context, db *gorm.DB) ([]domain.FailedWebhook, error) {
	var out []domain.FailedWebhook
	err := db.WithContext(ctx).Order("id asc").Find(&out).Error
	return out, err
}

// ListFailedWebhooksPage returns a page of dead letters, newest first.
func ListFailedWebhooksPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.FailedWebhook, error) {
	var out []domain.FailedWebhook
	err := db.WithContext(ctx).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateFailedWebhook records the outcome of a sweep retry.
func UpdateFailedWebhook(ctx context.Context, db *gorm.DB, id uint, attempts int, lastErr, signature string) error {
	res := db.WithContext(ctx).
		Model(&domain.FailedWebhook{}).
		Where("id = ?", id).
		Updates(map[string]any{"attempts": attempts, "error": lastErr, "signature": signature})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteFailedWebhook removes a dead letter. Deleting a missing row is not an
// error so overlapping sweeps stay idempotent.
func DeleteFailedWebhook(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).Delete(&domain.FailedWebhook{}, id).Error
}
