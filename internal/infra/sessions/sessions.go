package sessions

import (
	"context"
	"errors"
	"time"

	"keystone/internal/usecase"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	reauthChannel = "keystone:sessions:force_reauth"
	reauthMarker  = "keystone:sessions:reauth_after"
)

// RedisBroadcaster orders a global forced re-login. The order is published
// for live session frontends and a marker timestamp is kept so frontends
// that were down during the publish still reject sessions established
// before it.
type RedisBroadcaster struct {
	Client    *redis.Client
	MarkerTTL time.Duration
	Clock     func() time.Time
	Log       *zap.Logger
}

func (b *RedisBroadcaster) ForceReauthentication(ctx context.Context, reason string) error {
	if b.Client == nil {
		return errors.New("redis client is required")
	}
	now := b.now()
	ttl := b.MarkerTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := b.Client.Set(ctx, reauthMarker, now.Format(time.RFC3339), ttl).Err(); err != nil {
		return err
	}
	if err := b.Client.Publish(ctx, reauthChannel, reason).Err(); err != nil {
		return err
	}
	if b.Log != nil {
		b.Log.Warn("forced re-authentication broadcast",
			zap.String("reason", reason),
			zap.Time("effective_at", now))
	}
	return nil
}

func (b *RedisBroadcaster) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

// LogTerminator records the order without a session backend. Used when no
// redis is configured; the emergency rotation still proceeds.
type LogTerminator struct {
	Log *zap.Logger
}

func (t *LogTerminator) ForceReauthentication(ctx context.Context, reason string) error {
	if t.Log != nil {
		t.Log.Warn("forced re-authentication requested with no session backend",
			zap.String("reason", reason))
	}
	return nil
}

var (
	_ usecase.SessionTerminator = (*RedisBroadcaster)(nil)
	_ usecase.SessionTerminator = (*LogTerminator)(nil)
)
