package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefreshChannel carries tenant refresh notifications between worker replicas.
const RefreshChannel = "tenant_refresh"

type refreshMessage struct {
	Origin   string `json:"origin"`
	TenantID string `json:"tenant_id"`
}

// RefreshNotifier fans a control-endpoint refresh out to every replica sharing
// the Redis instance. Each replica ignores its own messages.
type RefreshNotifier struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

func NewRefreshNotifier(rs *RedisStore, logger *slog.Logger) *RefreshNotifier {
	return &RefreshNotifier{
		client: rs.Client(),
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Publish announces that tenantID should be reloaded.
func (n *RefreshNotifier) Publish(ctx context.Context, tenantID string) error {
	data, err := json.Marshal(refreshMessage{Origin: n.origin, TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("encoding refresh message: %w", err)
	}
	if err := n.client.Publish(ctx, RefreshChannel, data).Err(); err != nil {
		return fmt.Errorf("publishing refresh: %w", err)
	}
	return nil
}

// Listen calls handle for every refresh published by another replica until ctx ends.
func (n *RefreshNotifier) Listen(ctx context.Context, handle func(ctx context.Context, tenantID string)) error {
	sub := n.client.Subscribe(ctx, RefreshChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", RefreshChannel, err)
	}
	n.logger.Info("listening for tenant refreshes", "channel", RefreshChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m refreshMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				n.logger.Warn("ignoring malformed refresh message", "error", err)
				continue
			}
			if m.Origin == n.origin || m.TenantID == "" {
				continue
			}
			handle(ctx, m.TenantID)
		}
	}
}
