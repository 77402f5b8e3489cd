package dedup

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDeduper shares the seen set between replicas subscribed to the same feeds.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *RedisDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisDeduper{client: client, prefix: strings.TrimSuffix(prefix, ":"), ttl: ttl, log: log}
}

func (r *RedisDeduper) key(id string) string {
	if r.prefix == "" {
		return id
	}
	return r.prefix + ":" + id
}

// ShouldProcess fails open: if Redis is unreachable the message is processed.
func (r *RedisDeduper) ShouldProcess(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}
	ok, err := r.client.SetNX(ctx, r.key(id), 1, r.ttl).Result()
	if err != nil {
		r.log.Warn("dedup: redis unavailable", zap.Error(err))
		return true
	}
	return ok
}
