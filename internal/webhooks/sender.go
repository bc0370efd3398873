package webhooks

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// Signer produces the optional Ed25519 signature headers.
type Signer interface {
	Sign(ctx context.Context, msg []byte) (kid string, sig []byte, err error)
}

// DeadLetterStore receives deliveries that exhausted their inline retries.
type DeadLetterStore interface {
	Add(ctx context.Context, rec *domain.FailedWebhook) error
}

// Envelope is the JSON body of every delivery.
type Envelope struct {
	ID         string `json:"id"`
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
	APIVersion string `json:"api_version"`
	Source     string `json:"source"`
	Data       any    `json:"data"`
}

// Result describes how a Send ended.
type Result struct {
	Outcome    string
	Attempts   int
	StatusCode int
	Err        error
}

// Delivered reports whether the receiver accepted the event.
func (r Result) Delivered() bool { return r.Outcome == OutcomeDelivered }

// Sender signs and posts envelopes with bounded exponential backoff.
type Sender struct {
	Client      *http.Client
	Signer      Signer
	DeadLetters DeadLetterStore
	Log         zerolog.Logger

	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
	APIVersion string
	Source     string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewSender returns a Sender whose client never follows redirects.
func NewSender(timeout time.Duration, logger zerolog.Logger) *Sender {
	return &Sender{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Log:        logger,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		UserAgent:  "UCP-Shopping-Agent/1.0.0",
		Now:        func() time.Time { return time.Now().UTC() },
		Sleep:      sleepCtx,
	}
}

// signedRequest is a body plus every signature header derived from it.
type signedRequest struct {
	body    []byte
	ts      int64
	hmacSig string
	kid     string
	edSig   string
}

// Send delivers data as event to w. 2xx succeeds. 3xx and 4xx end the
// delivery without retry. 5xx and transport errors are retried after
// RetryDelay * 2^(attempt-1); when attempts run out the delivery is stored as
// a dead letter.
func (s *Sender) Send(ctx context.Context, w domain.Webhook, event string, data any) Result {
	tr := otel.Tracer("webhooks/Sender")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("webhook.event", event),
			attribute.Int64("webhook.id", int64(w.ID)),
		),
	)
	defer span.End()

	now := s.Now()
	body, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Event:      event,
		Timestamp:  now.Format(time.RFC3339),
		APIVersion: s.APIVersion,
		Source:     s.Source,
		Data:       data,
	})
	if err != nil {
		span.RecordError(err)
		return Result{Outcome: OutcomeTerminal, Err: fmt.Errorf("encode envelope: %w", err)}
	}
	req := s.sign(ctx, w.Secret, now, body)

	maxAttempts := s.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := s.Log.With().Uint("webhook_id", w.ID).Str("event", event).Logger()

	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		res.StatusCode, res.Err = s.attempt(ctx, w.URL, event, req)

		switch {
		case res.Err == nil && res.StatusCode >= 200 && res.StatusCode < 300:
			res.Outcome = OutcomeDelivered
			deliveries.WithLabelValues(event, res.Outcome).Inc()
			logger.Debug().Int("attempt", attempt).Int("status", res.StatusCode).Msg("webhook delivered")
			return res
		case res.Err == nil && res.StatusCode < 500:
			res.Outcome = OutcomeTerminal
			res.Err = fmt.Errorf("HTTP %d", res.StatusCode)
			deliveries.WithLabelValues(event, res.Outcome).Inc()
			span.SetStatus(codes.Error, res.Err.Error())
			logger.Warn().Int("status", res.StatusCode).Msg("webhook rejected by receiver")
			return res
		case res.Err == nil:
			res.Err = fmt.Errorf("HTTP %d", res.StatusCode)
		}

		logger.Warn().Err(res.Err).Int("attempt", attempt).Msg("webhook attempt failed")
		if attempt == maxAttempts {
			break
		}
		if err := s.Sleep(ctx, s.backoff(attempt)); err != nil {
			res.Err = fmt.Errorf("%v (retries interrupted: %w)", res.Err, err)
			break
		}
	}

	res.Outcome = OutcomeDeadLettered
	deliveries.WithLabelValues(event, res.Outcome).Inc()
	span.SetStatus(codes.Error, res.Err.Error())
	if s.DeadLetters != nil {
		rec := &domain.FailedWebhook{
			WebhookID: w.ID,
			URL:       w.URL,
			Secret:    w.Secret,
			Event:     event,
			Body:      string(req.body),
			Signature: req.hmacSig,
			Error:     res.Err.Error(),
			Attempts:  res.Attempts,
			FailedAt:  s.Now(),
		}
		if err := s.DeadLetters.Add(context.WithoutCancel(ctx), rec); err != nil {
			logger.Error().Err(err).Msg("store dead letter failed")
		}
	}
	logger.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("webhook delivery exhausted")
	return res
}

// Redeliver makes one freshly signed attempt with a stored body. It returns
// the new HMAC signature and a non-nil error for anything but 2xx.
func (s *Sender) Redeliver(ctx context.Context, url, secret, event string, body []byte) (signature string, err error) {
	req := s.sign(ctx, secret, s.Now(), body)
	status, err := s.attempt(ctx, url, event, req)
	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("HTTP %d", status)
	}
	return req.hmacSig, err
}

// backoff returns RetryDelay * 2^(attempt-1).
func (s *Sender) backoff(attempt int) time.Duration {
	return s.RetryDelay * time.Duration(1<<(attempt-1))
}

func (s *Sender) sign(ctx context.Context, secret string, now time.Time, body []byte) signedRequest {
	ts := now.Unix()
	req := signedRequest{body: body, ts: ts, hmacSig: Sign(secret, ts, body)}
	if s.Signer != nil {
		kid, sig, err := s.Signer.Sign(ctx, SignedPayload(ts, body))
		if err == nil {
			req.kid = kid
			req.edSig = base64.RawURLEncoding.EncodeToString(sig)
		}
	}
	return req
}

// attempt performs one POST and returns the status code.
func (s *Sender) attempt(ctx context.Context, url, event string, sr signedRequest) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(sr.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("X-UCP-Event", event)
	req.Header.Set("X-UCP-Signature", sr.hmacSig)
	req.Header.Set("X-UCP-Timestamp", strconv.FormatInt(sr.ts, 10))
	req.Header.Set("X-UCP-Delivery", uuid.NewString())
	if sr.kid != "" {
		req.Header.Set("X-UCP-Signature-Key-Id", sr.kid)
		req.Header.Set("X-UCP-Signature-Ed25519", sr.edSig)
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	attemptDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
