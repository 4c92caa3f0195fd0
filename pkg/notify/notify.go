// Package notify delivers payment outcome events to the bot process over a
// signed HTTP callback. The backend never talks to the messaging platform
// directly; it posts a compact event and the bot turns it into a user-facing
// message. Delivery is best effort with retries: the payment state is already
// committed by the time a callback fires, so a lost event degrades to the
// user tapping "check payment" manually.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

// Config holds the bot callback settings. An empty CallbackURL disables the
// notifier entirely.
type Config struct {
	CallbackURL string        `env:"BOT_CALLBACK_URL"`
	Secret      string        `env:"BOT_CALLBACK_SECRET"`
	MaxRetries  int           `env:"BOT_CALLBACK_MAX_RETRIES" envDefault:"3"`
	Timeout     time.Duration `env:"BOT_CALLBACK_TIMEOUT" envDefault:"10s"`
}

// Configured reports whether the callback endpoint is set.
func (c Config) Configured() bool { return c.CallbackURL != "" }

// event is the wire format posted to the bot.
type event struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	Plan       string `json:"plan"`
	OccurredAt int64  `json:"occurred_at"`
}

// Option configures optional notifier collaborators.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// WithBackoff overrides the delay between retry attempts.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(n *Notifier) {
		if fn != nil {
			n.backoff = fn
		}
	}
}

// Notifier posts signed payment events to the bot callback endpoint.
// Safe for concurrent use.
type Notifier struct {
	client     *http.Client
	backoff    func(attempt int) time.Duration
	log        *slog.Logger
	url        string
	secret     string
	maxRetries int
}

// New creates a Notifier from config.
// Panics on a malformed callback URL to fail fast during initialization.
func New(cfg Config, opts ...Option) *Notifier {
	u, err := url.Parse(cfg.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		panic(fmt.Sprintf("notify: invalid callback URL %q", cfg.CallbackURL))
	}
	n := &Notifier{
		client:     &http.Client{Timeout: cfg.Timeout},
		backoff:    exponentialBackoff,
		log:        slog.New(slog.DiscardHandler),
		url:        cfg.CallbackURL,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PaymentConfirmed posts a payment.confirmed event for the user's plan.
func (n *Notifier) PaymentConfirmed(ctx context.Context, userID int64, plan entitlement.PlanType) error {
	return n.deliver(ctx, event{
		ID:         uuid.NewString(),
		Type:       "payment.confirmed",
		UserID:     userID,
		Plan:       string(plan),
		OccurredAt: time.Now().Unix(),
	})
}

func (n *Notifier) deliver(ctx context.Context, ev event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal callback event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt)):
			}
		}

		status, err := n.post(ctx, ev.ID, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if permanentStatus(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		n.log.InfoContext(ctx, "callback delivery attempt failed",
			slog.String("event_id", ev.ID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, n.maxRetries+1, lastErr)
}

func (n *Notifier) post(ctx context.Context, eventID string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Callback-ID", eventID)
	if n.secret != "" {
		ts := time.Now().Unix()
		req.Header.Set("X-Callback-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Callback-Signature", Sign(n.secret, ts, payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

const userAgent = "vipgate/1.0"

// Sign computes the hex HMAC-SHA256 over "<timestamp>.<payload>". Binding the
// timestamp into the signed material lets the bot reject replayed deliveries.
func Sign(secret string, timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// permanentStatus reports whether an HTTP status should stop retrying.
// 408, 425 and 429 are retried; other 4xx responses will not change.
func permanentStatus(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// exponentialBackoff doubles the delay per attempt with 10% jitter, capped at
// 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	const (
		initial = time.Second
		max     = 30 * time.Second
		jitter  = 0.1
	)
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	d *= 1 + (rand.Float64()*2-1)*jitter
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}
