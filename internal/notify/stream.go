package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
)

// NewRedisClient connects and pings Redis.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// StreamNotifier publishes every event as JSON to a Redis stream for downstream consumers.
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamNotifier(client *redis.Client, stream string, maxLen int64) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamNotifier) Notify(ctx context.Context, e Event) error {
	args, err := streamArgs(s.stream, s.maxLen, e)
	if err != nil {
		return err
	}
	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}
	return nil
}

func streamArgs(stream string, maxLen int64, e Event) (*redis.XAddArgs, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":  string(e.Kind),
			"match": e.MatchID,
			"event": string(data),
		},
	}, nil
}

func (s *StreamNotifier) Close() error {
	return s.client.Close()
}
