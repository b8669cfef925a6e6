package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHubPublishAndSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	events, cancel := hub.Subscribe(context.Background())
	defer cancel()

	sent := NewEvent(EventTicketUpdate, TicketUpdatePayload{TicketID: 42, Status: "attending"})
	require.NoError(t, hub.Publish(context.Background(), sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, EventTicketUpdate, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	_, cancel := hub.Subscribe(context.Background())
	defer cancel()

	// More events than the subscriber buffer holds; Publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = hub.Publish(context.Background(), NewEvent(EventNewMessage, nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestMemoryHubCancelReleasesSubscription(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	events, cancel := hub.Subscribe(context.Background())
	cancel()

	_, open := <-events
	assert.False(t, open, "cancelled subscription channel must be closed")

	// cancel twice is safe
	cancel()
}

func TestMemoryHubCloseIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	events, _ := hub.Subscribe(context.Background())

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, open := <-events
	assert.False(t, open)

	// publishing after close is a no-op
	assert.NoError(t, hub.Publish(context.Background(), NewEvent(EventConnectionUpdate, nil)))
}

func TestGlobalHubSwap(t *testing.T) {
	custom := NewMemoryHub()
	prev := SetHub(custom)
	defer SetHub(prev)

	assert.Same(t, Hub(custom), GetHub())

	// nil resets to a fresh memory hub
	SetHub(nil)
	assert.NotNil(t, GetHub())
	assert.NotSame(t, Hub(custom), GetHub())
}
