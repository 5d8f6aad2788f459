package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lesson-content-engine/internal/logger"
	"lesson-content-engine/utils"

	"github.com/redis/go-redis/v9"
)

// ContentCache stores generated content (summaries, retrieval contexts) in
// Redis as brotli-packed JSON. Every method fails open: a Redis problem is
// logged and treated as a miss. A nil *ContentCache is a valid, disabled cache.
type ContentCache struct {
	rdb        redis.Cmdable
	defaultTTL time.Duration
}

func NewContentCache(rdb redis.Cmdable, defaultTTL time.Duration) *ContentCache {
	if rdb == nil {
		return nil
	}
	return &ContentCache{rdb: rdb, defaultTTL: defaultTTL}
}

// GetJSON decodes the cached value for key into v. It returns false on miss or error.
func (c *ContentCache) GetJSON(ctx context.Context, key string, v any) bool {
	if c == nil {
		return false
	}
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	packed, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("content cache read failed", "key", key, "error", err)
		}
		return false
	}
	data, err := utils.Unpack(packed)
	if err != nil {
		logger.Warn("content cache entry corrupt", "key", key, "error", err)
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON stores v under key. A zero ttl uses the cache default.
func (c *ContentCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("content cache encode failed", "key", key, "error", err)
		return
	}
	packed, err := utils.Pack(data)
	if err != nil {
		logger.Warn("content cache compress failed", "key", key, "error", err)
		return
	}

	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()
	if err := c.rdb.Set(ctx, key, packed, ttl).Err(); err != nil {
		logger.Warn("content cache write failed", "key", key, "error", err)
	}
}

// TeacherGeneration returns the teacher's current cache generation. Keys built
// from an older generation are never read again and expire on their own.
func (c *ContentCache) TeacherGeneration(ctx context.Context, teacherID string) int64 {
	if c == nil {
		return 0
	}
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	gen, err := c.rdb.Get(ctx, generationKey(teacherID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Warn("content cache generation read failed", "teacher_id", teacherID, "error", err)
	}
	return gen
}

// InvalidateTeacher drops every cached retrieval context of the teacher.
func (c *ContentCache) InvalidateTeacher(ctx context.Context, teacherID string) {
	if c == nil {
		return
	}
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	if err := c.rdb.Incr(ctx, generationKey(teacherID)).Err(); err != nil {
		logger.Warn("content cache invalidation failed", "teacher_id", teacherID, "error", err)
	}
}

func generationKey(teacherID string) string {
	return fmt.Sprintf("cache_gen:%s", teacherID)
}
