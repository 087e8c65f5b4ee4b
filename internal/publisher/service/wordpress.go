package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/linkrent/linkrent/internal/config"
	publisherdomain "github.com/linkrent/linkrent/internal/publisher/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// WordPressGateway talks to the marketplace plugin installed on partner
// WordPress sites. The plugin exposes a single JSON endpoint authenticated
// with a per-site bearer token.
type WordPressGateway struct {
	client *http.Client
	log    *zap.Logger
}

func NewWordPressGateway(p Params) publisherdomain.Gateway {
	return &WordPressGateway{
		client: &http.Client{Timeout: p.Config.PublishTimeout},
		log:    p.Log.Named("publisher.wordpress"),
	}
}

type publishRequest struct {
	Kind       string `json:"kind"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	AnchorText string `json:"anchor_text,omitempty"`
	Body       string `json:"body,omitempty"`
}

type publishResponse struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

func (g *WordPressGateway) Publish(ctx context.Context, creds publisherdomain.Credentials, content publisherdomain.Content) (string, error) {
	if creds.Endpoint == "" || creds.Token == "" {
		return "", publisherdomain.ErrMissingCreds
	}
	if content.URL == "" && content.Body == "" {
		return "", publisherdomain.ErrEmptyContent
	}

	body, err := json.Marshal(publishRequest{
		Kind:       content.Kind,
		Title:      content.Title,
		URL:        content.URL,
		AnchorText: content.AnchorText,
		Body:       content.Body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.Endpoint+"/publish", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("publish request failed", zap.String("endpoint", creds.Endpoint), zap.Error(err))
		return "", fmt.Errorf("%w: %v", publisherdomain.ErrPublishFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", publisherdomain.ErrPublishFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.log.Warn("publish rejected by remote",
			zap.String("endpoint", creds.Endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: status %d", publisherdomain.ErrRemoteRejected, resp.StatusCode)
	}

	var parsed publishResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: bad response body", publisherdomain.ErrPublishFailed)
	}
	if parsed.ExternalID == "" {
		return "", fmt.Errorf("%w: missing external id", publisherdomain.ErrPublishFailed)
	}
	return parsed.ExternalID, nil
}

func (g *WordPressGateway) Remove(ctx context.Context, creds publisherdomain.Credentials, externalID string) error {
	if creds.Endpoint == "" || creds.Token == "" {
		return publisherdomain.ErrMissingCreds
	}
	if externalID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, creds.Endpoint+"/content/"+externalID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", publisherdomain.ErrRemoveFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	// 404 means the remote already dropped it; that is success for us.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", publisherdomain.ErrRemoveFailed, resp.StatusCode)
	}
	return nil
}
