// Package webhook delivers signed JSON events to outside HTTP endpoints and
// verifies signatures on events received from them.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	IDHeader        = "X-Webhook-ID"
	EventHeader     = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
	maxResponseBody = 64 << 10
)

// Delivery describes the outcome of a Post.
type Delivery struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	EventType  string        `json:"event_type"`
	StatusCode int           `json:"status_code"`
	Body       []byte        `json:"-"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration_ns"`
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx response: %d", e.StatusCode)
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret. A "sha256=" prefix is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, signaturePrefix)
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithTimeout sets the per-attempt timeout of the default client.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.httpClient.Timeout = t }
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) { d.maxRetries = n }
}

// WithRetryDelays sets the wait before each retry. The last delay is reused
// when there are more retries than delays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

// Dispatcher POSTs signed JSON payloads with bounded retries. Network errors,
// 429 and 5xx responses are retried; other statuses fail immediately.
type Dispatcher struct {
	secret      string
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
}

// NewDispatcher creates a Dispatcher. Payloads are signed when secret is set.
func NewDispatcher(secret string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:  3,
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second, 5 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) delay(retry int) time.Duration {
	if len(d.retryDelays) == 0 {
		return 0
	}
	if retry > len(d.retryDelays) {
		retry = len(d.retryDelays)
	}
	return d.retryDelays[retry-1]
}

// Post delivers v as JSON to url. The returned Delivery is non-nil whenever
// at least one attempt was made.
func (d *Dispatcher) Post(ctx context.Context, url, eventType string, v any) (*Delivery, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	del := &Delivery{ID: uuid.New().String(), URL: url, EventType: eventType}
	start := time.Now()
	defer func() { del.Duration = time.Since(start) }()

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			zerolog.Ctx(ctx).Warn().Err(lastErr).
				Str("event_type", eventType).
				Str("delivery_id", del.ID).
				Int("attempt", attempt+1).
				Msg("retrying webhook delivery")
			if err := Sleep(ctx, d.delay(attempt)); err != nil {
				return del, fmt.Errorf("deliver %s: %w", eventType, lastErr)
			}
		}

		del.Attempts++
		status, body, err := d.send(ctx, url, eventType, del.ID, payload)
		del.StatusCode = status
		del.Body = body
		if err == nil && status >= 200 && status < 300 {
			return del, nil
		}
		if err == nil {
			err = &StatusError{StatusCode: status, Body: string(body)}
		}
		lastErr = err
		if !retryable(ctx, status) {
			break
		}
	}
	return del, fmt.Errorf("deliver %s: %w", eventType, lastErr)
}

func (d *Dispatcher) send(ctx context.Context, url, eventType, id string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IDHeader, id)
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))
	if d.secret != "" {
		req.Header.Set(SignatureHeader, signaturePrefix+SignPayload(payload, d.secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, body, nil
}

func retryable(ctx context.Context, status int) bool {
	if ctx.Err() != nil {
		return false
	}
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsStatus reports whether err carries a non-2xx response with the given
// status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
