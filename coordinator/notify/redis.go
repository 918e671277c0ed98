package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the default Redis pub/sub channel for job events.
const DefaultChannel = "clawgig.jobs"

// RedisSink publishes events to a Redis pub/sub channel, fanning out to
// subscribers beyond this process.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisSink returns a sink publishing to the given Redis address.
func NewRedisSink(addr, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		timeout: 5 * time.Second,
	}
}

// Publish delivers the event to the channel.
func (s *RedisSink) Publish(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "notify: marshaling event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "notify: publishing event")
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
