// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the APIKey
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows surface as gorm.ErrRecordNotFound (exported as ErrNotFound).
//   - Other DB errors (constraint violations, connectivity) propagate raw.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateAPIKey inserts k. KeyID must be unique.
func CreateAPIKey(ctx context.Context, db *gorm.DB, k *domain.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(k).Error
}

// GetAPIKeyByKeyID fetches a key by its public identifier.
func GetAPIKeyByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := db.WithContext(ctx).Where("key_id = ?", keyID).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAPIKey fetches a key by surrogate id.
func GetAPIKey(ctx context.Context, db *gorm.DB, id uint) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := db.WithContext(ctx).First(&k, id).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// CountAPIKeys returns the number of stored keys.
func CountAPIKeys(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.APIKey{}).Count(&n).Error
	return n, err
}

// ListAPIKeysPage returns a page of keys, newest first.
func ListAPIKeysPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.APIKey, error) {
	var out []domain.APIKey
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TouchAPIKey records a successful authentication at the given time.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id uint, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_access", at).Error
}

// DeleteAPIKey removes a key. Returns ErrNotFound when nothing was deleted.
func DeleteAPIKey(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(&domain.APIKey{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
