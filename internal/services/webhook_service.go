package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
	"github.com/tbourn/ucp-shopping-agent/internal/utils"
)

// DeadLetterReport summarizes the dead-letter store for operators.
type DeadLetterReport struct {
	Count   int64                  `json:"count"`
	Oldest  *string                `json:"oldest_failed_at"`
	ByEvent []repo.EventCount      `json:"by_event"`
	Records []domain.FailedWebhook `json:"records"`
}

// WebhookService manages the subscriptions of the calling key.
type WebhookService struct {
	DB *gorm.DB
}

// NewWebhookService returns a WebhookService.
func NewWebhookService(db *gorm.DB) *WebhookService {
	return &WebhookService{DB: db}
}

// Create subscribes rawURL to events for the caller. A 32 character secret is
// generated when none is supplied. The returned webhook carries the secret so
// the handler can show it once.
func (s *WebhookService) Create(ctx context.Context, rawURL string, events []string, secret string) (*domain.Webhook, error) {
	owner := PrincipalFrom(ctx)
	if owner == nil {
		return nil, ErrAuthRequired
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidWebhook)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrInvalidWebhook)
	}
	seen := make(map[string]bool, len(events))
	var set []string
	for _, e := range events {
		if !domain.IsEvent(e) {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidWebhook, e)
		}
		if !seen[e] {
			seen[e] = true
			set = append(set, e)
		}
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if secret, err = randomAlnum(32); err != nil {
			return nil, err
		}
	}

	w := &domain.Webhook{
		APIKeyID: owner.ID,
		URL:      u.String(),
		Events:   set,
		Secret:   secret,
		Status:   domain.WebhookActive,
	}
	if err := repo.CreateWebhook(ctx, s.DB, w); err != nil {
		return nil, err
	}
	return w, nil
}

// ListPage returns the caller's subscriptions.
func (s *WebhookService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Webhook, int64, error) {
	owner := PrincipalFrom(ctx)
	if owner == nil {
		return nil, 0, ErrAuthRequired
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = utils.DefaultPerPage
	}
	total, err := repo.CountWebhooksByKey(ctx, s.DB, owner.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Webhook{}, 0, nil
	}
	items, err := repo.ListWebhooksByKeyPage(ctx, s.DB, owner.ID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Delete removes one of the caller's subscriptions.
func (s *WebhookService) Delete(ctx context.Context, id uint) error {
	owner := PrincipalFrom(ctx)
	if owner == nil {
		return ErrAuthRequired
	}
	if err := repo.DeleteWebhook(ctx, s.DB, id, owner.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrWebhookNotFound
		}
		return err
	}
	return nil
}

// DeadLetters reports counters plus the newest page of records.
func (s *WebhookService) DeadLetters(ctx context.Context, page, pageSize int) (*DeadLetterReport, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = utils.DefaultPerPage
	}
	count, oldest, err := repo.FailedWebhookStats(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	byEvent, err := repo.FailedWebhookCountsByEvent(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	records, err := repo.ListFailedWebhooksPage(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, err
	}
	rep := &DeadLetterReport{Count: count, ByEvent: byEvent, Records: records}
	if rep.ByEvent == nil {
		rep.ByEvent = []repo.EventCount{}
	}
	if rep.Records == nil {
		rep.Records = []domain.FailedWebhook{}
	}
	if oldest != nil {
		ts := oldest.UTC().Format(time.RFC3339)
		rep.Oldest = &ts
	}
	return rep, nil
}
