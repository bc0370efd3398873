package webhooks

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// SweepStats counts what one sweep did.
type SweepStats struct {
	Redelivered int
	Retained    int
	Expired     int // older than MaxAge, dropped without a retry
	GaveUp      int // reached MaxAttempts
	Gone        int // removed by eviction or another sweep while this one ran
}

// Sweeper periodically retries dead letters once each.
type Sweeper struct {
	DB          *gorm.DB
	Sender      *Sender
	Log         zerolog.Logger
	Interval    time.Duration
	MaxAge      time.Duration
	MaxAttempts int
	Now         func() time.Time

	running atomic.Bool
}

// NewSweeper returns a Sweeper with a 15 minute interval, a 24h age limit and
// a 10 attempt limit.
func NewSweeper(db *gorm.DB, sender *Sender, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		DB:          db,
		Sender:      sender,
		Log:         logger,
		Interval:    15 * time.Minute,
		MaxAge:      24 * time.Hour,
		MaxAttempts: 10,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, ran, err := s.Sweep(ctx); err != nil {
				s.Log.Error().Err(err).Msg("dead-letter sweep failed")
			} else if !ran {
				s.Log.Debug().Msg("dead-letter sweep skipped; previous run still active")
			}
		}
	}
}

// Sweep processes every dead letter once. ran is false when another sweep is
// still in progress.
func (s *Sweeper) Sweep(ctx context.Context) (stats SweepStats, ran bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return stats, false, nil
	}
	defer s.running.Store(false)
	defer refreshDeadLetterGauge(ctx, s.DB)

	records, err := repo.ListFailedWebhooks(ctx, s.DB)
	if err != nil {
		return stats, true, err
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return stats, true, ctx.Err()
		}
		logger := s.Log.With().Uint("dead_letter_id", rec.ID).Str("event", rec.Event).Logger()

		if s.Now().Sub(rec.FailedAt) > s.MaxAge {
			if err := repo.DeleteFailedWebhook(ctx, s.DB, rec.ID); err != nil {
				return stats, true, err
			}
			stats.Expired++
			deliveries.WithLabelValues(rec.Event, OutcomeDropped).Inc()
			logger.Info().Time("failed_at", rec.FailedAt).Msg("dead letter too old; dropped")
			continue
		}

		sig, sendErr := s.Sender.Redeliver(ctx, rec.URL, rec.Secret, rec.Event, []byte(rec.Body))
		if sendErr == nil {
			if err := repo.DeleteFailedWebhook(ctx, s.DB, rec.ID); err != nil {
				return stats, true, err
			}
			stats.Redelivered++
			deliveries.WithLabelValues(rec.Event, OutcomeRedelivered).Inc()
			logger.Info().Msg("dead letter redelivered")
			continue
		}

		attempts := rec.Attempts + 1
		if attempts >= s.MaxAttempts {
			if err := repo.DeleteFailedWebhook(ctx, s.DB, rec.ID); err != nil {
				return stats, true, err
			}
			stats.GaveUp++
			deliveries.WithLabelValues(rec.Event, OutcomeDropped).Inc()
			logger.Warn().Err(sendErr).Int("attempts", attempts).Msg("dead letter exhausted; dropped")
			continue
		}
		if err := repo.UpdateFailedWebhook(ctx, s.DB, rec.ID, attempts, sendErr.Error(), sig); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				stats.Gone++
				logger.Debug().Msg("dead letter removed during sweep; skipped")
				continue
			}
			return stats, true, err
		}
		stats.Retained++
		logger.Debug().Err(sendErr).Int("attempts", attempts).Msg("dead letter retry failed")
	}

	if n := stats.Redelivered + stats.Expired + stats.GaveUp + stats.Retained + stats.Gone; n > 0 {
		s.Log.Info().
			Int("redelivered", stats.Redelivered).
			Int("retained", stats.Retained).
			Int("expired", stats.Expired).
			Int("gave_up", stats.GaveUp).
			Int("gone", stats.Gone).
			Msg("dead-letter sweep finished")
	}
	return stats, true, nil
}
