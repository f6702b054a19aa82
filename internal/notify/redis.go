package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

type redisPublisher struct {
	rdb *redis.Client
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.rdb.Publish(ctx, channel, payload).Err()
}

func (p *redisPublisher) Close() error {
	return p.rdb.Close()
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// RedisSink publishes trade events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	pub     Publisher
	channel string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	cfg.Logger.Info("redis-notifier-connected",
		zap.String("addr", cfg.Addr),
		zap.String("channel", cfg.Channel))

	return NewRedisSinkWithPublisher(&redisPublisher{rdb: rdb}, cfg), nil
}

// NewRedisSinkWithPublisher builds a sink over an existing publisher.
func NewRedisSinkWithPublisher(pub Publisher, cfg RedisConfig) *RedisSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &RedisSink{
		pub:     pub,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// TradeOpened implements execution.Notifier.
func (s *RedisSink) TradeOpened(ctx context.Context, p execution.Position) error {
	return s.publish(ctx, EventTradeOpened, p)
}

// TradeClosed implements execution.Notifier.
func (s *RedisSink) TradeClosed(ctx context.Context, p execution.Position) error {
	return s.publish(ctx, EventTradeClosed, p)
}

func (s *RedisSink) publish(ctx context.Context, eventType string, p execution.Position) error {
	payload, err := json.Marshal(Event{Type: eventType, Position: p, SentAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.pub.Publish(ctx, s.channel, payload); err != nil {
		NotificationsTotal.WithLabelValues("redis", "failed").Inc()
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}

	NotificationsTotal.WithLabelValues("redis", "sent").Inc()
	s.logger.Debug("trade-event-published",
		zap.String("channel", s.channel),
		zap.String("type", eventType),
		zap.String("position-id", p.ID))
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	s.logger.Info("closing-redis-notifier")
	return s.pub.Close()
}
