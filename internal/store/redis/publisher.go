// Package redis publishes dashboard snapshots over Pub/Sub and mirrors the
// latest payload in plain keys so a client connecting between publishes can
// still fetch current state.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Pub/Sub channels and their latest-value keys.
const (
	ChannelPositions = "trader:positions"
	ChannelOrders    = "trader:orders"
	ChannelMode      = "trader:mode"
	ChannelSignal    = "trader:signal"
	ChannelSummary   = "trader:summary"

	latestTTL = 30 * time.Minute
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher fans snapshots out to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks and
// subscriptions.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Publish JSON-encodes the payload, publishes it on the channel and mirrors
// it under "<channel>:latest".
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, channel, data)
	pipe.Set(ctx, channel+":latest", data, latestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Latest fetches the mirrored payload for a channel; ok is false when none
// exists.
func (p *Publisher) Latest(ctx context.Context, channel string) ([]byte, bool, error) {
	data, err := p.client.Get(ctx, channel+":latest").Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest %s: %w", channel, err)
	}
	return data, true, nil
}

// Subscribe returns a subscription over the given channels. The caller owns
// closing it.
func (p *Publisher) Subscribe(ctx context.Context, channels ...string) *goredis.PubSub {
	return p.client.Subscribe(ctx, channels...)
}

// Close closes the client.
func (p *Publisher) Close() error { return p.client.Close() }
