package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "veostudio:events:"

// Channel returns the Redis channel of a project.
func Channel(projectID uuid.UUID) string {
	return channelPrefix + projectID.String()
}

func projectFromChannel(channel string) (uuid.UUID, error) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return uuid.Nil, fmt.Errorf("unexpected channel %q", channel)
	}
	return uuid.Parse(strings.TrimPrefix(channel, channelPrefix))
}

// Connect opens a Redis client from a redis:// URL and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisBroker publishes events to Redis so every controller instance can
// relay them to its own hub.
type RedisBroker struct {
	rdb    *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRedisBroker(rdb *redis.Client, hub *Hub, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, hub: hub, logger: logger}
}

// Publish sends ev to Redis. If Redis is unavailable the event still
// reaches local subscribers.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode event", "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, Channel(ev.ProjectID), payload).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally", "project_id", ev.ProjectID, "error", err)
		b.hub.Publish(ctx, ev)
	}
}

// Run relays Redis events into the local hub until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.logger.Info("relaying events from redis", "pattern", channelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBroker) relay(ctx context.Context, msg *redis.Message) {
	projectID, err := projectFromChannel(msg.Channel)
	if err != nil {
		b.logger.Warn("ignoring redis message", "error", err)
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		b.logger.Warn("ignoring malformed event", "channel", msg.Channel, "error", err)
		return
	}
	ev.ProjectID = projectID
	b.hub.Publish(ctx, ev)
}
