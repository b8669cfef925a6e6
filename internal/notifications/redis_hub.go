package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisHub bridges desk events across processes through Redis pub/sub.
// Local subscribers receive events published by any node on the same
// channel.
type RedisHub struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
	local   *MemoryHub

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisHub connects to Redis and starts relaying the channel into
// the local fan-out.
func NewRedisHub(client *redis.Client, channel string, logger zerolog.Logger) *RedisHub {
	h := &RedisHub{
		client:  client,
		channel: channel,
		logger:  logger,
		local:   NewMemoryHub(),
		done:    make(chan struct{}),
	}
	go h.relay()
	return h
}

// Publish serializes the event onto the Redis channel. Local delivery
// happens through the relay, so each node sees one copy.
func (h *RedisHub) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.client.Publish(ctx, h.channel, raw).Err()
}

// Subscribe attaches to the local fan-out fed by the relay.
func (h *RedisHub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return h.local.Subscribe(ctx)
}

// Close stops the relay and drops all subscribers.
func (h *RedisHub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return h.local.Close()
}

func (h *RedisHub) relay() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.done
		cancel()
	}()

	sub := h.client.Subscribe(ctx, h.channel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			h.logger.Warn().Err(err).Msg("redis hub receive failed")
			return
		}
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			h.logger.Warn().Err(err).Msg("redis hub dropped malformed event")
			continue
		}
		_ = h.local.Publish(ctx, event)
	}
}
