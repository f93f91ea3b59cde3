package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSnapshotTTL = 24 * time.Hour

// Snapshotter persists session views for out-of-process inspection.
type Snapshotter interface {
	Save(ctx context.Context, view View) error
	Load(ctx context.Context, userID string) (View, bool, error)
}

// RedisSnapshotter stores session views as JSON in Redis.
type RedisSnapshotter struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSnapshotter returns a snapshotter writing views with ttl.
func NewRedisSnapshotter(client *redis.Client, ttl time.Duration) *RedisSnapshotter {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisSnapshotter{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("disparaai.internal.session.snapshot"),
	}
}

func (s *RedisSnapshotter) Save(ctx context.Context, view View) error {
	ctx, span := s.tracer.Start(ctx, "session.save_snapshot")
	defer span.End()

	data, err := json.Marshal(view)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, snapshotKey(view.UserID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshotter) Load(ctx context.Context, userID string) (View, bool, error) {
	ctx, span := s.tracer.Start(ctx, "session.load_snapshot")
	defer span.End()

	data, err := s.redis.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return View{}, false, nil
		}
		span.RecordError(err)
		return View{}, false, fmt.Errorf("session: failed to load snapshot: %w", err)
	}
	var view View
	if err := json.Unmarshal(data, &view); err != nil {
		span.RecordError(err)
		return View{}, false, fmt.Errorf("session: failed to decode snapshot: %w", err)
	}
	return view, true, nil
}

func snapshotKey(userID string) string {
	return fmt.Sprintf("session:%s", userID)
}
