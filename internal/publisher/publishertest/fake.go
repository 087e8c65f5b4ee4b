// Package publishertest provides in-memory fakes for the publish gateway
// boundary, used by placement and rental tests.
package publishertest

import (
	"context"
	"fmt"
	"sync"

	publisherdomain "github.com/linkrent/linkrent/internal/publisher/domain"
)

// FakeGateway records publish/remove calls and can be programmed to fail.
type FakeGateway struct {
	mu sync.Mutex

	PublishErr error
	RemoveErr  error

	Published []publisherdomain.Content
	Removed   []string

	nextID int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

func (f *FakeGateway) Publish(_ context.Context, creds publisherdomain.Credentials, content publisherdomain.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return "", f.PublishErr
	}
	if creds.Endpoint == "" || creds.Token == "" {
		return "", publisherdomain.ErrMissingCreds
	}
	f.nextID++
	f.Published = append(f.Published, content)
	return fmt.Sprintf("ext-%d", f.nextID), nil
}

func (f *FakeGateway) Remove(_ context.Context, _ publisherdomain.Credentials, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.Removed = append(f.Removed, externalID)
	return nil
}

func (f *FakeGateway) PublishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}

// FakeDispatcher records webhook dispatches.
type FakeDispatcher struct {
	mu     sync.Mutex
	Events []string
	Fail   bool
}

func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{}
}

func (f *FakeDispatcher) Dispatch(_ context.Context, url string, event string, _ map[string]any) publisherdomain.WebhookResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if url == "" {
		return publisherdomain.WebhookResult{Delivered: false}
	}
	if f.Fail {
		return publisherdomain.WebhookResult{Delivered: false, Status: 500}
	}
	f.Events = append(f.Events, event)
	return publisherdomain.WebhookResult{Delivered: true, Status: 200}
}
