// Package channel wraps the WAHA-style WhatsApp gateway API behind a
// process-wide rate gate. Every send passes two layers: the shared rolling
// window budget (fail fast with a retry-after hint) and a fixed minimum
// inter-message spacing delay paid even when under budget, to avoid
// provider-side burst detection.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/config"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/internal/ratelimit"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// Client calls the WhatsApp gateway with rate limiting, spacing, a bounded
// request timeout, and a fixed transport retry schedule.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	spacer     *rate.Limiter // minimum inter-message spacing gate
	backoff    []time.Duration
	attempts   int
}

// NewClient builds a gateway client from config. The limiter must be the
// shared process-wide instance; per-client limiters defeat the provider cap.
func NewClient(cfg config.ChannelConfig, limiter *ratelimit.Limiter) *Client {
	delays := make([]time.Duration, 0, len(cfg.RetryBackoff))
	for _, s := range cfg.RetryBackoff {
		delays = append(delays, time.Duration(s)*time.Second)
	}

	spacing := cfg.MessageDelay
	if spacing <= 0 {
		spacing = 2 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		spacer:     rate.NewLimiter(rate.Every(spacing), 1),
		backoff:    delays,
		attempts:   cfg.RetryAttempts,
	}
}

// SendText sends a plain text message and returns the gateway message id.
func (c *Client) SendText(ctx context.Context, session, phone, text string) (string, error) {
	payload := map[string]interface{}{
		"session": session,
		"chatId":  NormalizePhone(phone),
		"text":    text,
	}
	return c.send(ctx, session, "/api/sendText", payload)
}

// SendImage sends an image by URL with an optional caption and returns the
// gateway message id.
func (c *Client) SendImage(ctx context.Context, session, phone, mediaURL, caption string) (string, error) {
	payload := map[string]interface{}{
		"session": session,
		"chatId":  NormalizePhone(phone),
		"file":    map[string]interface{}{"url": mediaURL},
	}
	if caption != "" {
		payload["caption"] = caption
	}
	return c.send(ctx, session, "/api/sendImage", payload)
}

// send applies the shared budget and spacing gate, then performs the call.
func (c *Client) send(ctx context.Context, session, endpoint string, payload map[string]interface{}) (string, error) {
	if ok, retryAfter := c.limiter.Allow(); !ok {
		observer.IncRateLimitRejection()
		observer.IncChannelSend(session, "rate_limited")
		return "", &apperrors.RateLimitError{RetryAfter: retryAfter}
	}

	// Spacing is paid by every admitted send, budget or not.
	if err := c.spacer.Wait(ctx); err != nil {
		return "", apperrors.NewRetryable(err, "spacing wait interrupted")
	}

	start := time.Now()
	body, err := c.request(ctx, http.MethodPost, endpoint, payload)
	observer.ObserveChannelSendDuration(session, time.Since(start))
	if err != nil {
		observer.IncChannelSend(session, "error")
		return "", err
	}
	observer.IncChannelSend(session, "sent")

	return extractMessageID(body), nil
}

// CheckNumberExists asks the gateway whether a phone number is reachable.
func (c *Client) CheckNumberExists(ctx context.Context, session, phone string) (bool, error) {
	q := url.Values{}
	q.Set("session", session)
	q.Set("phone", NormalizePhone(phone))

	body, err := c.request(ctx, http.MethodGet, "/api/contacts/check-exists?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}

	var resp struct {
		NumberExists bool `json:"numberExists"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: malformed check-exists response: %w", apperrors.ErrChannel, err)
	}
	return resp.NumberExists, nil
}

// CreateSession asks the gateway to start a named session.
func (c *Client) CreateSession(ctx context.Context, sessionName string) error {
	payload := map[string]interface{}{
		"name":  sessionName,
		"start": true,
	}
	_, err := c.request(ctx, http.MethodPost, "/api/sessions", payload)
	return err
}

// SessionStatus fetches the gateway's view of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionName string) (string, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionName), nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed session response: %w", apperrors.ErrChannel, err)
	}
	return resp.Status, nil
}

// Logout disconnects a session from the provider account without deleting it.
func (c *Client) Logout(ctx context.Context, sessionName string) error {
	_, err := c.request(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionName)+"/logout", nil)
	return err
}

// Health reports whether the gateway answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.request(ctx, http.MethodGet, "/api/health", nil)
	return err == nil
}

// request performs one HTTP call with the fixed transport retry schedule.
// Only transient transport failures (network errors, timeouts, 5xx) are
// retried; gateway rejections surface immediately.
func (c *Client) request(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		var reqBody io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("%w: failed to encode request: %w", apperrors.ErrBadRequest, err))
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: failed to build request: %w", apperrors.ErrBadRequest, err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			// Network failure or request timeout: transient
			return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: failed to read response: %w", apperrors.ErrChannel, readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			respBody = body
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: gateway returned %d: %s", apperrors.ErrChannel, resp.StatusCode, gatewayErrorMessage(body))
		default:
			// 4xx: the gateway rejected the request, retrying won't help
			return backoff.Permanent(fmt.Errorf("%w: gateway returned %d: %s", apperrors.ErrChannel, resp.StatusCode, gatewayErrorMessage(body)))
		}
	}

	err := backoff.Retry(operation, backoff.WithContext(newScheduleBackOff(c.backoff, c.attempts), ctx))
	if err != nil {
		logger.FromContext(ctx).Error("Channel request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil, err
	}
	return respBody, nil
}

// gatewayErrorMessage pulls the provider's message field out of an error
// body, falling back to the raw body.
func gatewayErrorMessage(body []byte) string {
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

// extractMessageID pulls the message id from a send response. The gateway
// returns either a flat string id or a serialized key object.
func extractMessageID(body []byte) string {
	var flat struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.ID != "" {
		return flat.ID
	}

	var nested struct {
		ID struct {
			Serialized string `json:"_serialized"`
		} `json:"id"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.ID.Serialized != "" {
		return nested.ID.Serialized
	}
	return ""
}

// scheduleBackOff walks a fixed list of per-attempt delays, then stops.
type scheduleBackOff struct {
	delays   []time.Duration
	attempts int
	next     int
}

func newScheduleBackOff(delays []time.Duration, attempts int) *scheduleBackOff {
	if attempts <= 0 {
		attempts = len(delays)
	}
	return &scheduleBackOff{delays: delays, attempts: attempts}
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.next >= s.attempts || s.next >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *scheduleBackOff) Reset() {
	s.next = 0
}
