package ledger

import (
	"context"
	"errors"
	"time"

	"keystone/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "keystone:revoked:"

// Redis is a revocation ledger shared across processes. Each entry is a
// redis key expiring at the token's own expiry, so garbage collection is
// delegated to redis and Cleanup is a no-op.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(addr, password string, db int, now func() time.Time) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, now: now}, nil
}

func (r *Redis) Revoke(ctx context.Context, entry domain.RevocationEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		// Already past its natural expiry; nothing to blacklist.
		return nil
	}
	// NX keeps the first revocation: duplicate calls are no-ops.
	return r.client.SetNX(ctx, redisKeyPrefix+entry.TokenRef, string(entry.Reason), ttl).Err()
}

func (r *Redis) IsRevoked(ctx context.Context, tokenRef string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+tokenRef).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Cleanup(ctx context.Context, now time.Time) (int, error) {
	// Redis expires entries itself.
	return 0, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
