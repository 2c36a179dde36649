package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Aside loads key into dest from Redis, or calls fetch to fill dest and
// stores the JSON result for ttl. Redis failures fall through to fetch.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	return aside(ctx, key, "", dest, ttl, fetch)
}

// AsideTracked is Aside for keys that must also be recorded in setKey so a
// later invalidation can find them.
func AsideTracked(ctx context.Context, key, setKey string, dest any, ttl time.Duration, fetch func() error) error {
	return aside(ctx, key, setKey, dest, ttl, fetch)
}

// errStaleFill aborts a cache write whose generation moved during fetch.
var errStaleFill = errors.New("cache generation changed during fetch")

func aside(ctx context.Context, key, setKey string, dest any, ttl time.Duration, fetch func() error) error {
	if client == nil {
		return fetch()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "cache_aside")
	defer span.End()

	gen := generationKey(key)
	if setKey != "" {
		gen = generationKey(setKey)
	}
	before, err := client.Get(ctx, gen).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "cache read failed", slog.String("key", gen), slog.String("error", err.Error()))
		return fetch()
	}

	raw, err := client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
			return nil
		}
		client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	if err := fetch(); err != nil {
		return err
	}

	payload, err := json.Marshal(dest)
	if err != nil {
		return nil
	}

	// The write only lands if no invalidation bumped the generation since
	// before the fetch; otherwise dest may predate a committed mutation.
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gen).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != before {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			if setKey != "" {
				pipe.SAdd(ctx, setKey, key)
				pipe.Expire(ctx, setKey, ttl)
			}
			return nil
		})
		return err
	}, gen)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		slog.DebugContext(ctx, "skipped stale cache fill", slog.String("key", key))
	default:
		slog.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}
