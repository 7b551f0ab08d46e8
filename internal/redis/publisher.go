package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher sends fan-out events on Redis pub/sub channels named "<prefix>:<topic>".
// The real-time gateway subscribes to those channels.
type Publisher struct {
	client redis.Cmdable
	prefix string
}

func NewPublisher(client redis.Cmdable, prefix string) *Publisher {
	if prefix == "" {
		prefix = "clinic"
	}
	return &Publisher{client: client, prefix: prefix}
}

func (p *Publisher) Channel(topic string) string {
	return p.prefix + ":" + topic
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.client.Publish(ctx, p.Channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
