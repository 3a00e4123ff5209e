package tokenindex

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
)

func record(ref, userID, keyID string, expiresAt time.Time) domain.TokenRecord {
	return domain.TokenRecord{Ref: ref, UserID: userID, KeyID: keyID, ExpiresAt: expiresAt}
}

func TestMemoryIndexesByUserAndKey(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	idx := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	exp := now.Add(time.Hour)
	for _, rec := range []domain.TokenRecord{
		record("ref-1", "alice", "key_prod_001", exp),
		record("ref-2", "alice", "key_prod_002", exp),
		record("ref-3", "bob", "key_prod_001", exp),
	} {
		if err := idx.Track(ctx, rec); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	byUser, err := idx.OutstandingByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("OutstandingByUser: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("alice tokens = %d, want 2", len(byUser))
	}
	byKey, err := idx.OutstandingByKey(ctx, "key_prod_001")
	if err != nil {
		t.Fatalf("OutstandingByKey: %v", err)
	}
	if len(byKey) != 2 {
		t.Fatalf("key_prod_001 tokens = %d, want 2", len(byKey))
	}
}

func TestMemorySkipsExpiredRecords(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	idx := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := idx.Track(ctx, record("ref-live", "alice", "k1", now.Add(time.Minute))); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := idx.Track(ctx, record("ref-dead", "alice", "k1", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Track: %v", err)
	}

	records, err := idx.OutstandingByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("OutstandingByUser: %v", err)
	}
	if len(records) != 1 || records[0].Ref != "ref-live" {
		t.Fatalf("records = %+v", records)
	}
}

func TestMemoryPruneDropsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	idx := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	idx.Track(ctx, record("ref-1", "alice", "k1", now.Add(-time.Second)))
	idx.Track(ctx, record("ref-2", "bob", "k2", now.Add(time.Hour)))

	removed, err := idx.Prune(ctx, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got, _ := idx.OutstandingByUser(ctx, "alice"); len(got) != 0 {
		t.Fatalf("alice still has %d records", len(got))
	}
	if got, _ := idx.OutstandingByUser(ctx, "bob"); len(got) != 1 {
		t.Fatalf("bob records = %d, want 1", len(got))
	}
}
