package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends events to one Redis stream per tenant so downstream notifiers
// can consume them with consumer groups.
type RedisStreamSink struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisStreamSink builds the sink; streams are named prefix+orgID.
func NewRedisStreamSink(client *redis.Client, prefix string, maxLen int64) *RedisStreamSink {
	if prefix == "" {
		prefix = "itsm:events:"
	}
	return &RedisStreamSink{client: client, prefix: prefix, maxLen: maxLen}
}

// StreamFor returns the stream key of a tenant.
func (s *RedisStreamSink) StreamFor(orgID string) string {
	return s.prefix + orgID
}

// Publish adds the event to the tenant stream.
func (s *RedisStreamSink) Publish(ctx context.Context, event Event) error {
	if s.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: s.StreamFor(event.OrgID),
		Values: map[string]interface{}{
			"id":        event.ID,
			"type":      string(event.Type),
			"ticket_id": event.TicketID,
			"event":     string(body),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}
