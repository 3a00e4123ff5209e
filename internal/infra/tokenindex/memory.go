package tokenindex

import (
	"context"
	"sync"
	"time"

	"keystone/internal/domain"
	"keystone/internal/usecase"
)

// Memory is an in-process token index. Records are indexed twice, by user
// and by signing key, so bulk revocation flows read a single bucket instead
// of scanning every outstanding token. Expired records are filtered at read
// time and reaped by Prune.
type Memory struct {
	mu     sync.RWMutex
	byUser map[string][]domain.TokenRecord
	byKey  map[string][]domain.TokenRecord
	clock  func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{
		byUser: make(map[string][]domain.TokenRecord),
		byKey:  make(map[string][]domain.TokenRecord),
		clock:  clock,
	}
}

// Track registers an issued token in both buckets.
func (m *Memory) Track(ctx context.Context, record domain.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[record.UserID] = append(m.byUser[record.UserID], record)
	m.byKey[record.KeyID] = append(m.byKey[record.KeyID], record)
	return nil
}

func (m *Memory) OutstandingByUser(ctx context.Context, userID string) ([]domain.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live(m.byUser[userID]), nil
}

func (m *Memory) OutstandingByKey(ctx context.Context, keyID string) ([]domain.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live(m.byKey[keyID]), nil
}

// Prune drops expired records from both buckets and returns the count.
func (m *Memory) Prune(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := pruneBuckets(m.byUser, now)
	pruneBuckets(m.byKey, now)
	return removed, nil
}

func (m *Memory) live(records []domain.TokenRecord) []domain.TokenRecord {
	now := m.clock()
	out := make([]domain.TokenRecord, 0, len(records))
	for _, record := range records {
		if record.ExpiresAt.After(now) {
			out = append(out, record)
		}
	}
	return out
}

func pruneBuckets(buckets map[string][]domain.TokenRecord, now time.Time) int {
	removed := 0
	for key, records := range buckets {
		kept := records[:0]
		for _, record := range records {
			if record.ExpiresAt.After(now) {
				kept = append(kept, record)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(buckets, key)
		} else {
			buckets[key] = kept
		}
	}
	return removed
}

var _ usecase.TokenIndex = (*Memory)(nil)
