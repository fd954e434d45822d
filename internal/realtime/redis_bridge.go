package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "conference:"
	eventTTL      = 5 * time.Second
)

// RedisBridge publishes/subscribes fanout events across instances,
// generalizing the reference Hub's per-webinar Redis pub/sub to a
// per-conference channel under the same "publish locally + publish to
// Redis" pattern.
type RedisBridge struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBridge wraps an existing redis client.
func NewRedisBridge(client *redis.Client, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, logger: logger}
}

// Publish sends payload on the conference's Redis channel; the conference
// service calls it for cross-instance delivery.
func (b *RedisBridge) Publish(conferenceID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return b.client.Publish(ctx, channelPrefix+conferenceID, payload).Err()
}

// SubscribeConference subscribes to a conference's channel and invokes
// handler for every published event until cancel is called.
func (b *RedisBridge) SubscribeConference(conferenceID string, handler func(payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channelPrefix+conferenceID)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return func() {
		cancelCtx()
		_ = pubsub.Close()
	}, nil
}
