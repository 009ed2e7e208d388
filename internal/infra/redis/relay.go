package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/fetchkit/internal/core/domain"
)

// envelope tags a message with the publishing instance.
type envelope struct {
	Origin  string                  `json:"origin"`
	Message domain.CacheInvalidated `json:"message"`
}

// Relay forwards invalidation messages between processes over Redis pub/sub.
// Messages published by this instance are not delivered back to it.
type Relay struct {
	rdb     *redis.Client
	channel string
	id      string
	logger  *slog.Logger
}

// NewRelay creates a relay on the given channel (DefaultChannel when empty).
func NewRelay(client *Client, channel string, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		rdb:     client.rdb,
		channel: channel,
		id:      uuid.NewString(),
		logger:  logger,
	}
}

// ID returns the instance identifier stamped on outgoing messages.
func (r *Relay) ID() string { return r.id }

// Publish broadcasts msg to other instances.
func (r *Relay) Publish(ctx context.Context, msg domain.CacheInvalidated) error {
	data, err := json.Marshal(envelope{Origin: r.id, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Run delivers messages from other instances to handle until ctx is done.
func (r *Relay) Run(ctx context.Context, handle func(context.Context, domain.CacheInvalidated)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	r.logger.Info("Invalidation relay subscribed", "channel", r.channel, "instance", r.id)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				r.logger.Warn("Dropping malformed invalidation", "error", err)
				continue
			}
			if env.Origin == r.id {
				continue
			}
			handle(ctx, env.Message)
		}
	}
}
