// Package domain declares the publish gateway boundary. Everything beyond
// Gateway is an external CMS: the placement engine only ever sees an
// external ID or an error, never the remote protocol.
package domain

import (
	"context"
	"errors"
)

var (
	ErrPublishFailed  = errors.New("publish_failed")
	ErrRemoveFailed   = errors.New("remove_failed")
	ErrMissingCreds   = errors.New("missing_publish_credentials")
	ErrEmptyContent   = errors.New("empty_publish_content")
	ErrRemoteRejected = errors.New("remote_rejected")
)

// Credentials identify the remote plugin endpoint for one site.
type Credentials struct {
	Endpoint string
	Token    string
}

// Content is the payload pushed to the remote site. Exactly one of URL or
// Body is meaningful depending on Kind.
type Content struct {
	Kind       string // "link" or "article"
	Title      string
	URL        string
	AnchorText string
	Body       string
}

// Gateway publishes and removes content on a remote site.
type Gateway interface {
	// Publish pushes content to the remote site and returns the external ID
	// assigned by it. A non-nil error means nothing went live.
	Publish(ctx context.Context, creds Credentials, content Content) (string, error)

	// Remove takes previously published content down. Removal is best-effort
	// from the caller's perspective; errors are reported but the local state
	// transition proceeds.
	Remove(ctx context.Context, creds Credentials, externalID string) error
}

// WebhookResult reports one webhook delivery attempt.
type WebhookResult struct {
	Delivered bool
	Status    int
	Err       error
}

// WebhookDispatcher delivers best-effort event notifications to a site's
// configured webhook URL. Failures never propagate into business state.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, url string, event string, payload map[string]any) WebhookResult
}
