package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Webhook{}, &domain.FailedWebhook{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSweep_AgeAndAttemptLimits(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)

	var staleHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/stale":
			staleHits.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	add := func(path string, attempts int, age time.Duration) uint {
		rec := &domain.FailedWebhook{
			URL: srv.URL + path, Secret: "s", Event: domain.EventOrderCreated,
			Body: `{"event":"order.created"}`, Signature: "old", Error: "HTTP 500",
			Attempts: attempts, FailedAt: now.Add(-age),
		}
		if _, err := repo.AddFailedWebhook(ctx, db, rec, 100); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return rec.ID
	}
	add("/stale", 3, 25*time.Hour)
	add("/ok", 3, time.Hour)
	retryID := add("/fail", 3, time.Hour)
	add("/fail", 9, time.Hour)

	sender, _ := newTestSender(nil)
	sender.Now = func() time.Time { return now }
	sw := NewSweeper(db, sender, zerolog.Nop())
	sw.Now = func() time.Time { return now }

	stats, ran, err := sw.Sweep(ctx)
	if err != nil || !ran {
		t.Fatalf("sweep: ran=%v err=%v", ran, err)
	}
	want := SweepStats{Redelivered: 1, Retained: 1, Expired: 1, GaveUp: 1}
	if stats != want {
		t.Fatalf("stats = %+v; want %+v", stats, want)
	}
	if staleHits.Load() != 0 {
		t.Fatalf("stale record must be dropped without a retry")
	}

	left, _ := repo.ListFailedWebhooks(ctx, db)
	if len(left) != 1 || left[0].ID != retryID {
		t.Fatalf("remaining = %+v; want only %d", left, retryID)
	}
	if left[0].Attempts != 4 || left[0].Error != "HTTP 500" || left[0].Signature == "old" {
		t.Fatalf("retained record not updated: %+v", left[0])
	}
	if err := VerifySignature([]byte(left[0].Body), left[0].Signature, "s", now); err != nil {
		t.Fatalf("retained record should carry a fresh signature: %v", err)
	}
}

func TestSweep_ContinuesWhenRecordVanishes(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)

	var firstID uint
	var secondHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/first":
			// Another sweeper (or cap eviction) removes the row mid-delivery.
			_ = repo.DeleteFailedWebhook(ctx, db, firstID)
			w.WriteHeader(http.StatusInternalServerError)
		case "/second":
			secondHits.Add(1)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/first", "/second"} {
		rec := &domain.FailedWebhook{
			URL: srv.URL + path, Secret: "s", Event: domain.EventOrderPaid,
			Body: `{"event":"order.paid"}`, Attempts: 1, FailedAt: now.Add(-time.Hour),
		}
		if _, err := repo.AddFailedWebhook(ctx, db, rec, 100); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if path == "/first" {
			firstID = rec.ID
		}
	}

	sender, _ := newTestSender(nil)
	sender.Now = func() time.Time { return now }
	sw := NewSweeper(db, sender, zerolog.Nop())
	sw.Now = func() time.Time { return now }

	stats, ran, err := sw.Sweep(ctx)
	if err != nil || !ran {
		t.Fatalf("sweep: ran=%v err=%v", ran, err)
	}
	if want := (SweepStats{Redelivered: 1, Gone: 1}); stats != want {
		t.Fatalf("stats = %+v; want %+v", stats, want)
	}
	if secondHits.Load() != 1 {
		t.Fatalf("second record attempted %d times; want 1", secondHits.Load())
	}
	if left, _ := repo.ListFailedWebhooks(ctx, db); len(left) != 0 {
		t.Fatalf("remaining = %+v; want none", left)
	}
}

func TestSweep_SkipsWhenAlreadyRunning(t *testing.T) {
	db := newTestDB(t)
	sender, _ := newTestSender(nil)
	sw := NewSweeper(db, sender, zerolog.Nop())

	sw.running.Store(true)
	_, ran, err := sw.Sweep(context.Background())
	if err != nil || ran {
		t.Fatalf("overlapping sweep should be skipped: ran=%v err=%v", ran, err)
	}
}

func TestDBDeadLetters_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := &DBDeadLetters{DB: db, Cap: 2, Log: zerolog.Nop()}

	for _, ev := range []string{domain.EventOrderCreated, domain.EventOrderPaid, domain.EventOrderRefunded} {
		rec := &domain.FailedWebhook{URL: "https://x.example", Secret: "s", Event: ev, Body: "{}", FailedAt: time.Now()}
		if err := store.Add(ctx, rec); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	left, _ := repo.ListFailedWebhooks(ctx, db)
	if len(left) != 2 || left[0].Event != domain.EventOrderPaid || left[1].Event != domain.EventOrderRefunded {
		t.Fatalf("remaining = %+v; want paid, refunded", left)
	}
}
