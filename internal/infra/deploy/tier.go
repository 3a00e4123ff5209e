package deploy

import (
	"context"
	"sync"
	"time"

	"keystone/internal/domain"

	"github.com/redis/go-redis/v9"
)

// tierCommand is one request to a tier worker. Exactly one of the op fields
// is set; reply carries the outcome back to the coordinator.
type tierCommand struct {
	apply      *domain.SigningKey
	rollbackTo string
	version    bool
	reply      chan tierReply
}

type tierReply struct {
	version string
	err     error
}

// tierWorker owns a TierApplier behind a command channel. All calls into the
// applier happen on the worker goroutine, so appliers need no locking of
// their own against the coordinator.
type tierWorker struct {
	name     domain.TierName
	commands chan tierCommand
	done     chan struct{}
}

func startTierWorker(tier TierApplier) *tierWorker {
	w := &tierWorker{
		name:     tier.Name(),
		commands: make(chan tierCommand),
		done:     make(chan struct{}),
	}
	go w.run(tier)
	return w
}

func (w *tierWorker) run(tier TierApplier) {
	for {
		select {
		case cmd := <-w.commands:
			var reply tierReply
			ctx := context.Background()
			switch {
			case cmd.apply != nil:
				reply.err = tier.Apply(ctx, cmd.apply)
			case cmd.version:
				reply.version, reply.err = tier.Version(ctx)
			default:
				reply.err = tier.Rollback(ctx, cmd.rollbackTo)
			}
			cmd.reply <- reply
		case <-w.done:
			return
		}
	}
}

func (w *tierWorker) stop() { close(w.done) }

func (w *tierWorker) send(ctx context.Context, cmd tierCommand) (tierReply, error) {
	cmd.reply = make(chan tierReply, 1)
	select {
	case w.commands <- cmd:
	case <-ctx.Done():
		return tierReply{}, ctx.Err()
	}
	select {
	case reply := <-cmd.reply:
		return reply, nil
	case <-ctx.Done():
		return tierReply{}, ctx.Err()
	}
}

func (w *tierWorker) apply(ctx context.Context, key *domain.SigningKey) error {
	reply, err := w.send(ctx, tierCommand{apply: key})
	if err != nil {
		return err
	}
	return reply.err
}

func (w *tierWorker) version(ctx context.Context) (string, error) {
	reply, err := w.send(ctx, tierCommand{version: true})
	if err != nil {
		return "", err
	}
	return reply.version, reply.err
}

func (w *tierWorker) rollback(ctx context.Context, keyVersion string) error {
	reply, err := w.send(ctx, tierCommand{rollbackTo: keyVersion})
	if err != nil {
		return err
	}
	return reply.err
}

// MemoryTier is an in-process tier for single-node deployments and tests.
type MemoryTier struct {
	TierName domain.TierName

	mu      sync.Mutex
	version string
	key     *domain.SigningKey
}

func (t *MemoryTier) Name() domain.TierName { return t.TierName }

func (t *MemoryTier) Apply(ctx context.Context, key *domain.SigningKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version = key.ID
	t.key = key
	return nil
}

func (t *MemoryTier) Version(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version, nil
}

func (t *MemoryTier) Rollback(ctx context.Context, keyVersion string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version = keyVersion
	t.key = nil
	return nil
}

// ActiveKey returns the key last applied, or nil after a rollback.
func (t *MemoryTier) ActiveKey() *domain.SigningKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

const tierVersionPrefix = "keystone:tier:"

// RedisTier publishes the tier's active key version to Redis, where the
// fleet for that tier watches it. Only the version travels through Redis;
// key material is distributed out of band.
type RedisTier struct {
	TierName domain.TierName
	Client   *redis.Client
	TTL      time.Duration
}

func (t *RedisTier) Name() domain.TierName { return t.TierName }

func (t *RedisTier) Apply(ctx context.Context, key *domain.SigningKey) error {
	return t.Client.Set(ctx, t.versionKey(), key.ID, t.TTL).Err()
}

func (t *RedisTier) Version(ctx context.Context) (string, error) {
	v, err := t.Client.Get(ctx, t.versionKey()).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (t *RedisTier) Rollback(ctx context.Context, keyVersion string) error {
	if keyVersion == "" {
		return t.Client.Del(ctx, t.versionKey()).Err()
	}
	return t.Client.Set(ctx, t.versionKey(), keyVersion, t.TTL).Err()
}

func (t *RedisTier) versionKey() string {
	return tierVersionPrefix + string(t.TierName) + ":key_version"
}
