package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"keystone/internal/domain"
)

// KeyStore persists registry mutations. SaveKeys must apply all given keys
// atomically so a promote+demote pair is never half-durable.
type KeyStore interface {
	SaveKeys(ctx context.Context, keys ...*domain.SigningKey) error
	ListKeys(ctx context.Context) ([]*domain.SigningKey, error)
}

// Registry is the owned, single-writer store of signing keys. Readers on
// the verification hot path never take the mutex: CurrentValidationKeys
// loads an immutable snapshot that is swapped atomically after each
// mutation, so no reader can observe a half-applied transition.
type Registry struct {
	mu       sync.Mutex
	store    KeyStore
	clock    func() time.Time
	newKeyID func() string
	keys     map[string]*domain.SigningKey
	snapshot atomic.Pointer[domain.ValidationKeySet]
}

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithKeyIDFunc(fn func() string) Option {
	return func(r *Registry) { r.newKeyID = fn }
}

// New builds a registry. store may be nil for a memory-only registry
// (tests); otherwise existing keys are expected to be loaded via Restore.
func New(store KeyStore, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		clock:    func() time.Time { return time.Now().UTC() },
		newKeyID: defaultKeyID,
		keys:     make(map[string]*domain.SigningKey),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot.Store(&domain.ValidationKeySet{})
	return r
}

// Restore loads the persisted key set, typically at process start.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	keys, err := r.store.ListKeys(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.keys[key.ID] = key
	}
	r.refreshSnapshot()
	return nil
}

func (r *Registry) Generate(ctx context.Context, algorithm domain.KeyAlgorithm, strengthBits int) (*domain.SigningKey, error) {
	if !domain.SupportedAlgorithm(algorithm) || strengthBits < domain.MinKeyStrengthBits {
		return nil, &domain.WeakKeyError{Algorithm: algorithm, StrengthBits: strengthBits}
	}
	secret := make([]byte, strengthBits/8)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := &domain.SigningKey{
		ID:           r.newKeyID(),
		Algorithm:    algorithm,
		StrengthBits: strengthBits,
		Status:       domain.KeyStatusPending,
		AccessLevel:  domain.AccessLevelStandard,
		Secret:       secret,
		CreatedAt:    r.clock(),
	}
	if err := r.persist(ctx, key); err != nil {
		return nil, err
	}
	r.keys[key.ID] = key
	return cloneKey(key), nil
}

// Promote makes a pending key the active primary. The prior primary is
// demoted to secondary (dual-key window) unless immediateRetire is set, in
// which case it is retired at once with no secondary window. Both changes
// apply as one atomic transition.
func (r *Registry) Promote(ctx context.Context, keyID string, immediateRetire bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	if key.Status != domain.KeyStatusPending {
		return domain.ErrKeyNotPending
	}

	changed := []*domain.SigningKey{key}
	prior := r.findByStatusLocked(domain.KeyStatusActivePrimary)
	var priorCopy domain.SigningKey
	if prior != nil {
		priorCopy = *prior
		if immediateRetire {
			// Emergency path: the old key is usually compromised already;
			// otherwise it retires with no dual-key window.
			if prior.Status.CanTransition(domain.KeyStatusRetired) {
				now := r.clock()
				prior.Status = domain.KeyStatusRetired
				prior.RetiredAt = &now
			}
		} else {
			prior.Status = domain.KeyStatusActiveSecondary
		}
		changed = append(changed, prior)
	}
	key.Status = domain.KeyStatusActivePrimary

	if err := r.persist(ctx, changed...); err != nil {
		key.Status = domain.KeyStatusPending
		if prior != nil {
			*prior = priorCopy
		}
		return err
	}
	r.refreshSnapshot()
	return nil
}

func (r *Registry) Retire(ctx context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusActivePrimary {
		return domain.ErrStillPrimary
	}
	if !key.Status.CanTransition(domain.KeyStatusRetired) {
		return fmt.Errorf("key %s cannot retire from status %s", keyID, key.Status)
	}
	prev := *key
	now := r.clock()
	key.Status = domain.KeyStatusRetired
	key.RetiredAt = &now
	if err := r.persist(ctx, key); err != nil {
		*key = prev
		return err
	}
	r.refreshSnapshot()
	return nil
}

// Archive moves a retired key to audit-only storage. Idempotent.
func (r *Registry) Archive(ctx context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusArchived {
		return nil
	}
	if !key.Status.CanTransition(domain.KeyStatusArchived) {
		return fmt.Errorf("key %s cannot archive from status %s", keyID, key.Status)
	}
	prev := *key
	key.Status = domain.KeyStatusArchived
	key.AccessLevel = domain.AccessLevelAuditOnly
	if err := r.persist(ctx, key); err != nil {
		*key = prev
		return err
	}
	r.refreshSnapshot()
	return nil
}

// MarkCompromised excludes the key from validation immediately. The
// transition is irreversible; only archival remains.
func (r *Registry) MarkCompromised(ctx context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusCompromised {
		return nil
	}
	if key.Status == domain.KeyStatusArchived {
		return domain.ErrKeyArchived
	}
	prev := *key
	key.Status = domain.KeyStatusCompromised
	if err := r.persist(ctx, key); err != nil {
		*key = prev
		return err
	}
	r.refreshSnapshot()
	return nil
}

func (r *Registry) Get(ctx context.Context, keyID string) (*domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[keyID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return cloneKey(key), nil
}

// CurrentValidationKeys is lock-free: a single atomic load of the latest
// snapshot.
func (r *Registry) CurrentValidationKeys(ctx context.Context) (*domain.ValidationKeySet, error) {
	return r.snapshot.Load(), nil
}

func (r *Registry) persist(ctx context.Context, keys ...*domain.SigningKey) error {
	if r.store == nil {
		return nil
	}
	clones := make([]*domain.SigningKey, len(keys))
	for i, key := range keys {
		clones[i] = cloneKey(key)
	}
	return r.store.SaveKeys(ctx, clones...)
}

func (r *Registry) findByStatusLocked(status domain.KeyStatus) *domain.SigningKey {
	for _, key := range r.keys {
		if key.Status == status {
			return key
		}
	}
	return nil
}

// refreshSnapshot publishes a new immutable validation set. Called with the
// mutex held, after persistence succeeded.
func (r *Registry) refreshSnapshot() {
	set := &domain.ValidationKeySet{}
	if primary := r.findByStatusLocked(domain.KeyStatusActivePrimary); primary != nil {
		set.Primary = cloneKey(primary)
	}
	if secondary := r.findByStatusLocked(domain.KeyStatusActiveSecondary); secondary != nil {
		set.Secondary = cloneKey(secondary)
	}
	r.snapshot.Store(set)
}

func cloneKey(key *domain.SigningKey) *domain.SigningKey {
	clone := *key
	clone.Secret = append([]byte(nil), key.Secret...)
	return &clone
}

func defaultKeyID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "key_" + hex.EncodeToString(buf)
}
