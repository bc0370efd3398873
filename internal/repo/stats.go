// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the
// dead-letter table used by the admin counters endpoint and the sweep gauge.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// EventCount is one row of a per-event aggregation.
type EventCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// FailedWebhookStats returns the number of dead letters and the FailedAt of
// the oldest one. When the table is empty the count is 0 and oldest is nil.
func FailedWebhookStats(ctx context.Context, db *gorm.DB) (count int64, oldest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.FailedWebhook{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order + limit instead of MIN() which SQLite returns as TEXT.
	var row struct {
		FailedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.FailedWebhook{}).
		Select("failed_at").Order("failed_at asc").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.FailedAt, nil
}

// FailedWebhookCountsByEvent groups dead letters by event name.
func FailedWebhookCountsByEvent(ctx context.Context, db *gorm.DB) ([]EventCount, error) {
	var out []EventCount
	err := db.WithContext(ctx).
		Model(&domain.FailedWebhook{}).
		Select("event, count(*) as count").
		Group("event").
		Order("event asc").
		Scan(&out).Error
	return out, err
}
