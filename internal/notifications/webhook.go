package notifications

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// WebhookForwarder POSTs every hub event to an external endpoint.
// Delivery is best effort with retries; a dead endpoint never blocks
// the desk.
type WebhookForwarder struct {
	client *resty.Client
	url    string
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebhookForwarder subscribes to the hub and starts forwarding.
// Returns nil when no URL is configured.
func NewWebhookForwarder(hub Hub, url string, logger zerolog.Logger) *WebhookForwarder {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &WebhookForwarder{
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		url:    url,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	events, unsubscribe := hub.Subscribe(ctx)
	go f.run(ctx, events, unsubscribe)
	return f
}

func (f *WebhookForwarder) run(ctx context.Context, events <-chan Event, unsubscribe func()) {
	defer close(f.done)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			resp, err := f.client.R().
				SetContext(ctx).
				SetHeader("Content-Type", "application/json").
				SetBody(event).
				Post(f.url)
			if err != nil {
				f.logger.Warn().Err(err).Str("event_id", event.ID).Msg("webhook delivery failed")
				continue
			}
			if resp.IsError() {
				f.logger.Warn().
					Int("status", resp.StatusCode()).
					Str("event_id", event.ID).
					Msg("webhook endpoint rejected event")
			}
		}
	}
}

// Stop halts forwarding and waits for the loop to exit.
func (f *WebhookForwarder) Stop() {
	if f == nil {
		return
	}
	f.cancel()
	<-f.done
}
