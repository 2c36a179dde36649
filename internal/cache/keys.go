package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	PostKeyPrefix        = "post:%d"
	LatestPostsKeyPrefix = "posts:latest:%d"
	// LatestPostsKeySet tracks every cached latest-posts key so that one
	// mutation can drop all of them.
	LatestPostsKeySet = "posts:latest:keys"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 5 * time.Minute

func PostKey(postID uint) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func LatestPostsKey(limit int) string {
	return fmt.Sprintf(LatestPostsKeyPrefix, limit)
}

// generationTTL bounds how long an untouched generation counter lives. An
// expired counter only causes fills in flight to be skipped.
const generationTTL = time.Hour

func generationKey(key string) string {
	return key + ":gen"
}

// bump advances the generation of key so fills that started earlier are dropped.
func bump(ctx context.Context, pipe redis.Pipeliner, key string) {
	pipe.Incr(ctx, generationKey(key))
	pipe.Expire(ctx, generationKey(key), generationTTL)
}

// Invalidate drops key and stops fills already in flight from restoring it.
func Invalidate(ctx context.Context, key string) {
	if client == nil {
		return
	}
	pipe := client.TxPipeline()
	bump(ctx, pipe, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// InvalidateLatestPosts drops every cached latest-posts page.
func InvalidateLatestPosts(ctx context.Context) {
	if client == nil {
		return
	}
	keys, err := client.SMembers(ctx, LatestPostsKeySet).Result()
	if err != nil {
		slog.WarnContext(ctx, "failed to list cached latest-posts keys", slog.String("error", err.Error()))
		return
	}
	keys = append(keys, LatestPostsKeySet)
	pipe := client.TxPipeline()
	bump(ctx, pipe, LatestPostsKeySet)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", slog.String("key", LatestPostsKeySet), slog.String("error", err.Error()))
	}
}

// InvalidatePost drops the cached detail of a post and every latest-posts page.
func InvalidatePost(ctx context.Context, postID uint) {
	Invalidate(ctx, PostKey(postID))
	InvalidateLatestPosts(ctx)
}
