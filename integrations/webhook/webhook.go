package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"fitprogress/core"
)

// DefaultBackoff is the base delay between delivery attempts.
const DefaultBackoff = 200 * time.Millisecond

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
	SignatureHeader = "X-FitProgress-Signature"
	// EventHeader carries the event type.
	EventHeader = "X-FitProgress-Event"
)

// Sink posts domain events to configured HTTP endpoints.
// It is synchronous for determinism; wire it behind the async event bus to
// keep request latency unaffected.
type Sink struct {
	client     *http.Client
	endpoints  []string
	secret     []byte
	types      map[core.EventType]struct{}
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	failures   atomic.Int64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs every body with HMAC-SHA256.
func WithSecret(secret string) Option {
	return func(s *Sink) { s.secret = []byte(secret) }
}

// WithEventTypes limits delivery to the listed types. No types means all.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		if len(types) == 0 {
			return
		}
		s.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// WithRetries retries failed deliveries up to n extra times with linear backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.maxRetries = n
		}
		s.backoff = backoff
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 2 * time.Second},
		backoff: DefaultBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Failures reports deliveries that were abandoned after all retries.
func (s *Sink) Failures() int64 { return s.failures.Load() }

// OnEvent posts the event JSON to all endpoints.
func (s *Sink) OnEvent(e core.Event) {
	s.Handle(context.Background(), e)
}

// Handle is OnEvent with a caller context, matching the event bus handler type.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if s.types != nil {
		if _, ok := s.types[e.Type]; !ok {
			return
		}
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("webhook encode failed", "event_id", e.ID, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.deliver(ctx, ep, e.Type, body); err != nil {
			s.failures.Add(1)
			s.logger.Warn("webhook delivery failed", "endpoint", ep, "event_id", e.ID, "type", e.Type, "error", err)
		}
	}
}

func (s *Sink) deliver(ctx context.Context, endpoint string, typ core.EventType, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
		retry, err := s.post(ctx, endpoint, typ, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post sends one request and reports whether a failure is worth retrying.
func (s *Sink) post(ctx context.Context, endpoint string, typ core.EventType, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(typ))
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return true, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
