package tokenindex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"keystone/internal/domain"
	"keystone/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const (
	redisUserPrefix = "keystone:tokens:user:"
	redisKeyPrefix  = "keystone:tokens:key:"
)

// Redis is a token index shared across processes. Each bucket is a redis
// hash keyed by token ref; expired members are skipped at read time and
// reaped opportunistically, since hash fields carry no per-field TTL.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client, now func() time.Time) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, now: now}, nil
}

func (r *Redis) Track(ctx context.Context, record domain.TokenRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, redisUserPrefix+record.UserID, record.Ref, payload)
	pipe.HSet(ctx, redisKeyPrefix+record.KeyID, record.Ref, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) OutstandingByUser(ctx context.Context, userID string) ([]domain.TokenRecord, error) {
	return r.outstanding(ctx, redisUserPrefix+userID)
}

func (r *Redis) OutstandingByKey(ctx context.Context, keyID string) ([]domain.TokenRecord, error) {
	return r.outstanding(ctx, redisKeyPrefix+keyID)
}

func (r *Redis) outstanding(ctx context.Context, bucket string) ([]domain.TokenRecord, error) {
	fields, err := r.client.HGetAll(ctx, bucket).Result()
	if err != nil {
		return nil, err
	}
	now := r.now()
	records := make([]domain.TokenRecord, 0, len(fields))
	var expired []string
	for ref, raw := range fields {
		var record domain.TokenRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			// An undecodable field cannot be revoked by ref lookup; drop it.
			expired = append(expired, ref)
			continue
		}
		if !record.ExpiresAt.After(now) {
			expired = append(expired, ref)
			continue
		}
		records = append(records, record)
	}
	if len(expired) > 0 {
		r.client.HDel(ctx, bucket, expired...)
	}
	return records, nil
}

var _ usecase.TokenIndex = (*Redis)(nil)
