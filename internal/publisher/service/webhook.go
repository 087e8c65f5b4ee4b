package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/linkrent/linkrent/internal/clock"
	"github.com/linkrent/linkrent/internal/config"
	publisherdomain "github.com/linkrent/linkrent/internal/publisher/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type WebhookParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

// WebhookDispatcher POSTs event payloads to site-configured URLs. Delivery
// is single-shot: rental and placement state never waits on a webhook.
type WebhookDispatcher struct {
	client *http.Client
	log    *zap.Logger
	clock  clock.Clock
}

func NewWebhookDispatcher(p WebhookParams) publisherdomain.WebhookDispatcher {
	return &WebhookDispatcher{
		client: &http.Client{Timeout: p.Config.WebhookTimeout},
		log:    p.Log.Named("publisher.webhook"),
		clock:  p.Clock,
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, url string, event string, payload map[string]any) publisherdomain.WebhookResult {
	if url == "" {
		return publisherdomain.WebhookResult{Delivered: false}
	}

	body, err := json.Marshal(map[string]any{
		"event":   event,
		"sent_at": d.clock.Now(),
		"payload": payload,
	})
	if err != nil {
		return publisherdomain.WebhookResult{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return publisherdomain.WebhookResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("webhook delivery failed", zap.String("url", url), zap.String("event", event), zap.Error(err))
		return publisherdomain.WebhookResult{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	result := publisherdomain.WebhookResult{
		Delivered: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:    resp.StatusCode,
	}
	if !result.Delivered {
		d.log.Warn("webhook rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
	}
	return result
}
