package ledger

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"keystone/internal/domain"
)

// Memory is an in-process revocation ledger. Entries are indexed twice:
// a map for O(1) IsRevoked on the verification hot path, and a min-heap on
// ExpiresAt so cleanup pops only entries that are actually due instead of
// scanning the whole set.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.RevocationEntry
	expiry  expiryHeap
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]domain.RevocationEntry),
	}
}

// Revoke inserts the entry. Duplicate calls for the same token ref are
// no-ops; the first revocation wins.
func (m *Memory) Revoke(ctx context.Context, entry domain.RevocationEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.TokenRef]; ok {
		return nil
	}
	m.entries[entry.TokenRef] = entry
	heap.Push(&m.expiry, expiryItem{ref: entry.TokenRef, expiresAt: entry.ExpiresAt})
	return nil
}

func (m *Memory) IsRevoked(ctx context.Context, tokenRef string) (bool, error) {
	m.mu.RLock()
	_, ok := m.entries[tokenRef]
	m.mu.RUnlock()
	return ok, nil
}

const cleanupBatch = 256

// Cleanup removes every entry with ExpiresAt <= now and returns the count.
// It holds the write lock per small batch only, so concurrent IsRevoked and
// Revoke callers are not starved by a large sweep.
func (m *Memory) Cleanup(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		m.mu.Lock()
		batch := 0
		for m.expiry.Len() > 0 && batch < cleanupBatch {
			top := m.expiry[0]
			if top.expiresAt.After(now) {
				break
			}
			heap.Pop(&m.expiry)
			// Only delete if the map still holds the same expiry; a token
			// revoked again after GC would have a fresh heap item.
			if entry, ok := m.entries[top.ref]; ok && !entry.ExpiresAt.After(now) {
				delete(m.entries, top.ref)
				removed++
			}
			batch++
		}
		done := m.expiry.Len() == 0 || m.expiry[0].expiresAt.After(now)
		m.mu.Unlock()
		if done || batch == 0 {
			return removed, nil
		}
	}
}

// Len reports the live entry count, for metrics.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

type expiryItem struct {
	ref       string
	expiresAt time.Time
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
