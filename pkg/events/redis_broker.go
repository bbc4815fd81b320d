package events

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker bridges events between processes over redis pub/sub. Each
// process publishes everything it emits and mirrors what the others publish.
type RedisBroker struct {
	Client *goredis.Client
}

func NewRedisBroker(addr, password string, db int) *RedisBroker {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBroker{Client: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.Client.Publish(ctx, channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, patterns []string, handler Handler) error {
	pubsub := b.Client.PSubscribe(ctx, patterns...)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for msg := range ch {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				zap.L().Error("failed to unmarshal event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := handler(ctx, msg.Channel, event); err != nil {
				zap.L().Error("event handler failed", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}()

	return nil
}

func (b *RedisBroker) Close() error {
	return b.Client.Close()
}
