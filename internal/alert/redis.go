package alert

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// RedisNotifier publishes alerts as JSON on a Redis pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *logger.Logger
}

// NewRedisNotifier creates the client; no connection is made until first use
func NewRedisNotifier(cfg config.RedisConfig, log *logger.Logger) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisNotifier{
		client:  client,
		channel: cfg.Channel,
		logger:  log,
	}
}

func (n *RedisNotifier) Name() string { return "redis" }

// Ping checks the server is reachable
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Notify publishes the alert to the channel
func (n *RedisNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := a.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	receivers, err := n.client.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	n.logger.Debug("Alert published", "channel", n.channel, "receivers", receivers)
	return nil
}

// Close closes the client
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
