package liveevents

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisBridge struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBridge(client *redis.Client, channel string, log *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, channel: channel, log: log.Named("liveevents.redis")}
}

func (r *RedisBridge) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisBridge) Run(ctx context.Context, deliver func(Event)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			deliver(event)
		}
	}
}

func (r *RedisBridge) Close() error {
	return r.client.Close()
}
