package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookDestination posts events as JSON to a configured HTTP endpoint.
// Rate-limited responses (429) are retried with exponential backoff; other
// failures surface to the dispatcher and are isolated there. Disabled when no
// URL is configured.
type WebhookDestination struct {
	url        string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

// webhookPayload is the wire shape posted to the endpoint.
type webhookPayload struct {
	Kind       string     `json:"kind"`
	Name       string     `json:"name,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// NewWebhookDestination constructs the destination. An empty url disables it.
func NewWebhookDestination(url string, timeout time.Duration, maxRetries int, logger *zap.Logger) *WebhookDestination {
	return &WebhookDestination{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (w *WebhookDestination) Name() string               { return "webhook" }
func (w *WebhookDestination) Enabled() bool              { return w.url != "" }
func (w *WebhookDestination) Init(context.Context) error { return nil }
func (w *WebhookDestination) Close() error               { return nil }

// post sends one payload, retrying on 429 with exponential backoff.
func (w *WebhookDestination) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	backoff := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt < w.maxRetries:
			w.logger.Debug("webhook rate limited, backing off",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		default:
			return fmt.Errorf("webhook status %d", resp.StatusCode)
		}
	}
}

func (w *WebhookDestination) Track(ctx context.Context, event string, props Properties) error {
	return w.post(ctx, webhookPayload{Kind: "track", Name: event, UserID: stringProp(props, "user_id"), Properties: props})
}

func (w *WebhookDestination) Page(ctx context.Context, name string, props Properties) error {
	return w.post(ctx, webhookPayload{Kind: "page", Name: name, UserID: stringProp(props, "user_id"), Properties: props})
}

func (w *WebhookDestination) Identify(ctx context.Context, userID string, traits Properties) error {
	return w.post(ctx, webhookPayload{Kind: "identify", UserID: userID, Properties: traits})
}

func (w *WebhookDestination) SetUserProperties(ctx context.Context, props Properties) error {
	return w.post(ctx, webhookPayload{Kind: "set_user_properties", Properties: props})
}

func (w *WebhookDestination) Reset(ctx context.Context) error {
	return w.post(ctx, webhookPayload{Kind: "reset"})
}

func (w *WebhookDestination) CaptureException(ctx context.Context, err error, meta Properties) error {
	return w.post(ctx, webhookPayload{Kind: "error", Name: "exception", UserID: stringProp(meta, "user_id"), Error: err.Error(), Properties: meta})
}
