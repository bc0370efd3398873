package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// GetSigningKeyByStatus returns the key with the given status, or ErrNotFound.
func GetSigningKeyByStatus(ctx context.Context, db *gorm.DB, status string) (*domain.SigningKey, error) {
	var k domain.SigningKey
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("id desc").
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetSigningKeyByKID returns the key with kid, or ErrNotFound.
func GetSigningKeyByKID(ctx context.Context, db *gorm.DB, kid string) (*domain.SigningKey, error) {
	var k domain.SigningKey
	if err := db.WithContext(ctx).Where("kid = ?", kid).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// ListSigningKeys returns the current key followed by the previous one.
func ListSigningKeys(ctx context.Context, db *gorm.DB) ([]domain.SigningKey, error) {
	var out []domain.SigningKey
	err := db.WithContext(ctx).
		Where("status IN ?", []string{domain.KeyCurrent, domain.KeyPrevious}).
		Order("id desc").
		Find(&out).Error
	return out, err
}

// RotateSigningKeys drops the old previous key, demotes the current key and
// inserts next as current, all in one transaction.
func RotateSigningKeys(ctx context.Context, db *gorm.DB, next *domain.SigningKey) error {
	next.Status = domain.KeyCurrent
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", domain.KeyPrevious).Delete(&domain.SigningKey{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.SigningKey{}).
			Where("status = ?", domain.KeyCurrent).
			Update("status", domain.KeyPrevious).Error; err != nil {
			return err
		}
		return tx.Create(next).Error
	})
}

// GetSetting returns the value stored under key and whether it exists.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (string, bool, error) {
	var s domain.Setting
	err := db.WithContext(ctx).Where("setting_key = ?", key).Limit(1).Find(&s).Error
	if err != nil {
		return "", false, err
	}
	if s.Key == "" {
		return "", false, nil
	}
	return s.Value, true, nil
}

// PutSetting upserts key=value.
func PutSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	s := domain.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&s).Error
}

// DeleteSetting removes key if present.
func DeleteSetting(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("setting_key = ?", key).Delete(&domain.Setting{}).Error
}
