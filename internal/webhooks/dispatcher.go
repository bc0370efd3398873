package webhooks

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// Deliverer sends one event to one webhook.
type Deliverer interface {
	Send(ctx context.Context, w domain.Webhook, event string, data any) Result
}

// Dispatcher fans events out to every active subscription that wants them.
type Dispatcher struct {
	DB     *gorm.DB
	Sender Deliverer
	Log    zerolog.Logger
	// Parallel bounds concurrent deliveries per event.
	Parallel int

	wg sync.WaitGroup
}

// NewDispatcher returns a Dispatcher delivering through sender.
func NewDispatcher(db *gorm.DB, sender Deliverer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{DB: db, Sender: sender, Log: logger, Parallel: 8}
}

// Dispatch delivers event to every matching webhook and waits for all of
// them. One subscriber's failure never affects another. It returns the number
// of matched subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data any) (int, error) {
	hooks, err := repo.ListActiveWebhooks(ctx, d.DB)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	if d.Parallel > 0 {
		g.SetLimit(d.Parallel)
	}
	matched := 0
	for _, w := range hooks {
		if !w.Subscribes(event) {
			continue
		}
		matched++
		w := w
		g.Go(func() error {
			d.Sender.Send(ctx, w, event, data)
			return nil
		})
	}
	_ = g.Wait()
	return matched, nil
}

// Publish runs Dispatch in the background, detached from the caller's
// cancellation. Wait drains outstanding publishes.
func (d *Dispatcher) Publish(event string, data any) {
	d.PublishContext(context.Background(), event, data)
}

// PublishContext is Publish keeping the values (trace, logger) of ctx.
func (d *Dispatcher) PublishContext(ctx context.Context, event string, data any) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		n, err := d.Dispatch(ctx, event, data)
		if err != nil {
			d.Log.Error().Err(err).Str("event", event).Msg("dispatch failed")
			return
		}
		d.Log.Debug().Str("event", event).Int("subscribers", n).Msg("event dispatched")
	}()
}

// Wait blocks until background publishes finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
