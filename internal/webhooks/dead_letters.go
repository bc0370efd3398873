package webhooks

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// DBDeadLetters keeps dead letters in the failed_webhooks table, capped at
// Cap rows with the oldest evicted first.
type DBDeadLetters struct {
	DB  *gorm.DB
	Cap int
	Log zerolog.Logger
}

// Add implements DeadLetterStore.
func (d *DBDeadLetters) Add(ctx context.Context, rec *domain.FailedWebhook) error {
	evicted, err := repo.AddFailedWebhook(ctx, d.DB, rec, d.Cap)
	if err != nil {
		return err
	}
	if evicted > 0 {
		d.Log.Warn().Int64("evicted", evicted).Int("cap", d.Cap).Msg("dead-letter store full; oldest records evicted")
	}
	refreshDeadLetterGauge(ctx, d.DB)
	return nil
}

func refreshDeadLetterGauge(ctx context.Context, db *gorm.DB) {
	if n, _, err := repo.FailedWebhookStats(ctx, db); err == nil {
		deadLetters.Set(float64(n))
	}
}
