package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"fitprogress/core"
	"fitprogress/metrics"
)

func withCORS(next http.Handler, origin string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		MaxAge:         600,
	}).Handler(next)
}

type ctxKey int

const callerKey ctxKey = iota

// caller is who a request authenticated as. An empty athlete means an API key.
type caller struct {
	key     string
	athlete core.UserID
}

// athleteFrom returns the user an athlete token was issued to. Requests
// authenticated with an API key carry no athlete.
func athleteFrom(ctx context.Context) (core.UserID, bool) {
	c, ok := ctx.Value(callerKey).(caller)
	if !ok || c.athlete == "" {
		return "", false
	}
	return c.athlete, true
}

func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey).(caller)
	return c, ok
}

// authenticator checks credentials against the configured API keys and,
// when secret is set, athlete tokens.
type authenticator struct {
	keys   map[string]struct{}
	secret []byte
}

func newAuthenticator(apiKeys []string, secret []byte) *authenticator {
	a := &authenticator{keys: make(map[string]struct{}, len(apiKeys)), secret: secret}
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys[k] = struct{}{}
		}
	}
	return a
}

func (a *authenticator) identify(r *http.Request) (caller, bool) {
	cred := credential(r)
	if cred == "" {
		return caller{}, false
	}
	if _, ok := a.keys[cred]; ok {
		return caller{key: "key:" + cred}, true
	}
	if len(a.secret) > 0 {
		if user, err := parseAthleteToken(cred, a.secret); err == nil {
			return caller{key: "athlete:" + string(user), athlete: user}, true
		}
	}
	return caller{}, false
}

// withIdentity resolves the caller once so the rate limiter and auth agree
// on who is asking. Unrecognized credentials leave the request anonymous.
func withIdentity(next http.Handler, a *authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := a.identify(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), callerKey, c))
		}
		next.ServeHTTP(w, r)
	})
}

// IssueAthleteToken signs an HS256 token that lets user act on their own
// routes until now+ttl.
func IssueAthleteToken(secret []byte, user core.UserID, ttl time.Duration, now time.Time) (string, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return "", err
	}
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	claims := jwt.RegisteredClaims{
		Subject:   string(normalized),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseAthleteToken(raw string, secret []byte) (core.UserID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	user, err := core.NormalizeUserID(core.UserID(claims.Subject))
	if err != nil {
		return "", fmt.Errorf("token subject: %w", err)
	}
	return user, nil
}

// withAuth rejects requests withIdentity could not attribute to an API key
// or a valid athlete token.
func withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := callerFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if credential(r) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials", nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
	})
}

// ownStreamOnly stops athlete tokens from watching other athletes' events.
func ownStreamOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if athlete, ok := athleteFrom(r.Context()); ok {
			requested, err := core.NormalizeUserID(core.UserID(r.URL.Query().Get("user")))
			if err != nil || requested != athlete {
				writeError(w, http.StatusForbidden, "forbidden", "athlete tokens may only stream their own events", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// credential reads a bearer token or an X-API-Key header.
func credential(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// clientKey identifies the caller for rate limiting: the authenticated key
// or athlete, otherwise the remote IP. Unverified credentials never pick a
// bucket, so rotating them does not escape the limit.
func clientKey(r *http.Request) string {
	if c, ok := callerFrom(r.Context()); ok {
		return c.key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withRateLimit(next http.Handler, l *rateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r), time.Now()) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per client and forgets clients idle
// for longer than idle.
type rateLimiter struct {
	limit     rate.Limit
	burst     int
	idle      time.Duration
	mu        sync.Mutex
	clients   map[string]*limitedClient
	lastSweep time.Time
}

type limitedClient struct {
	lim  *rate.Limiter
	seen time.Time
}

func newRateLimiter(rpm, burst int, idle time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(rpm)),
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*limitedClient),
	}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.idle > 0 && now.Sub(l.lastSweep) >= l.idle {
		for k, c := range l.clients {
			if now.Sub(c.seen) >= l.idle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[key]
	if !ok {
		c = &limitedClient{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

func (l *rateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// withMetrics records request counts and latencies labelled by the first
// path segment, which keeps user ids out of the label set.
func withMetrics(next http.Handler, m *metrics.Manager, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.GaugeRequests.Inc()
		defer m.GaugeRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveRequest(r.Method, routeLabel(r.URL.Path, prefix), rec.status, time.Since(start))
	})
}

func routeLabel(path, prefix string) string {
	parts := split(strings.TrimPrefix(path, prefix), '/')
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "users", "leaderboard", "milestones", "stats", "healthz", "ws":
		return "/" + parts[0]
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
