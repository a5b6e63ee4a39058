package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fitprogress/core"
)

// Option configures the Client.
type Option func(*Client)

// Client talks to the progression HTTP API and its WebSocket stream.
type Client struct {
	base            *url.URL
	wsURL           string
	httpClient      *http.Client
	headers         http.Header
	conflictRetries int
}

// NewClient returns a client for the API rooted at baseURL, for example
// http://localhost:8080/api.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	c := &Client{
		base:       base,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken sends Authorization: Bearer token on HTTP and WS calls.
func WithAuthToken(token string) Option {
	return WithHeader("Authorization", bearer(token))
}

// WithAPIKey sends an X-API-Key header.
func WithAPIKey(key string) Option {
	return WithHeader("X-API-Key", strings.TrimSpace(key))
}

// WithHeader sets a header on every HTTP and WS call. Empty values are ignored.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" && v != "" {
			c.headers.Set(k, v)
		}
	}
}

// WithConflictRetries makes CompleteWorkout retry up to n times when the
// server reports a version conflict.
func WithConflictRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.conflictRetries = n
		}
	}
}

func bearer(token string) string {
	if token = strings.TrimSpace(token); token == "" {
		return ""
	}
	return "Bearer " + token
}

// CompleteWorkout records a finished workout with the given number of sets.
func (c *Client) CompleteWorkout(ctx context.Context, userID string, completedSets int64) (WorkoutResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return WorkoutResponse{}, ErrEmptyUserID
	}
	req := struct {
		CompletedSets int64 `json:"completed_sets"`
	}{completedSets}
	endpoint := c.endpoint(nil, "users", userID, "workouts")

	var (
		out WorkoutResponse
		err error
	)
	for attempt := 0; ; attempt++ {
		err = c.send(ctx, http.MethodPost, endpoint, req, &out)
		if err == nil || !IsConflict(err) || attempt >= c.conflictRetries {
			break
		}
	}
	if err != nil {
		return WorkoutResponse{}, err
	}
	return out, nil
}

// GetProgress fetches the current progression of a user.
func (c *Client) GetProgress(ctx context.Context, userID string) (Progress, error) {
	if strings.TrimSpace(userID) == "" {
		return Progress{}, ErrEmptyUserID
	}
	var p Progress
	if err := c.send(ctx, http.MethodGet, c.endpoint(nil, "users", userID), nil, &p); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// Leaderboard returns the top athletes. limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return c.LeaderboardPage(ctx, 0, limit)
}

// LeaderboardPage returns up to limit athletes ranked after the first offset.
func (c *Client) LeaderboardPage(ctx context.Context, offset, limit int) ([]LeaderboardEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var page struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.send(ctx, http.MethodGet, c.endpoint(q, "leaderboard"), nil, &page); err != nil {
		return nil, err
	}
	return page.Entries, nil
}

// Milestones returns the server's milestone catalog.
func (c *Client) Milestones(ctx context.Context) (Milestones, error) {
	var m Milestones
	if err := c.send(ctx, http.MethodGet, c.endpoint(nil, "milestones"), nil, &m); err != nil {
		return Milestones{}, err
	}
	return m, nil
}

// Health probes /healthz.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	if err := c.send(ctx, http.MethodGet, c.endpoint(nil, "healthz"), nil, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// endpoint resolves path segments against the base URL. Each segment is
// escaped, so user ids may contain reserved characters.
func (c *Client) endpoint(q url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.base.JoinPath(escaped...)
	u.RawQuery = q.Encode()
	return u.String()
}

// send issues one request. in, when non-nil, is encoded as the JSON body;
// out receives the decoded 2xx response.
func (c *Client) send(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for k, vals := range c.headers {
		req.Header[k] = append([]string(nil), vals...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// SubscribeEvents opens the WebSocket stream. A non-empty userID restricts
// it to that athlete. The channel closes when ctx is done or the connection
// drops; events are dropped while the consumer's buffer is full.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?" + url.Values{"user": {userID}}.Encode()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	out := make(chan core.Event, 32)
	go readEvents(ctx, conn, out)
	return out, nil
}

func readEvents(ctx context.Context, conn *websocket.Conn, out chan<- core.Event) {
	// closing the conn is what unblocks ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		close(out)
	}()
	for {
		var evt core.Event
		if err := conn.ReadJSON(&evt); err != nil {
			return
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return
		default:
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.JoinPath("ws").String()
}
