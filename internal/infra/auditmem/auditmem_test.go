package auditmem

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
)

func appendEvent(t *testing.T, store *Store, eventType domain.AuditEventType, targetID string) domain.AuditEvent {
	t.Helper()
	event, err := store.Append(context.Background(), domain.AuditEvent{
		EventType:  eventType,
		Payload:    map[string]any{"kid": targetID},
		ActorType:  domain.AuditActorSystem,
		TargetType: domain.AuditTargetKey,
		TargetID:   targetID,
		Result:     domain.AuditResultSuccess,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return event
}

func TestAppendSealsChain(t *testing.T) {
	store := NewWithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) })

	first := appendEvent(t, store, domain.AuditEventKeyGenerated, "key_prod_001")
	second := appendEvent(t, store, domain.AuditEventKeyRotation, "key_prod_001")

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seq = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.PrevEventHash != domain.ZeroChainHash() {
		t.Fatalf("first PrevEventHash = %q, want zero hash", first.PrevEventHash)
	}
	if second.PrevEventHash != first.EventHash {
		t.Fatalf("second PrevEventHash = %q, want %q", second.PrevEventHash, first.EventHash)
	}

	recomputed, err := domain.ChainHash(second)
	if err != nil {
		t.Fatalf("ChainHash: %v", err)
	}
	if recomputed != second.EventHash {
		t.Fatal("stored EventHash does not match recomputation")
	}
}

func TestAppendRejectsCancelledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Append(ctx, domain.AuditEvent{
		EventType:  domain.AuditEventKeyGenerated,
		ActorType:  domain.AuditActorSystem,
		TargetType: domain.AuditTargetKey,
		TargetID:   "key_prod_001",
		Result:     domain.AuditResultSuccess,
	}); err == nil {
		t.Fatal("Append succeeded with cancelled context")
	}
}

func TestListFilters(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store := NewWithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	appendEvent(t, store, domain.AuditEventKeyGenerated, "key_prod_001")
	appendEvent(t, store, domain.AuditEventKeyRotation, "key_prod_001")
	appendEvent(t, store, domain.AuditEventKeyRotation, "key_prod_002")

	byType, err := store.List(context.Background(), domain.AuditFilter{EventType: domain.AuditEventKeyRotation})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("by type = %d events, want 2", len(byType))
	}

	byTarget, err := store.List(context.Background(), domain.AuditFilter{TargetID: "key_prod_002"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byTarget) != 1 || byTarget[0].TargetID != "key_prod_002" {
		t.Fatalf("by target = %+v", byTarget)
	}

	windowed, err := store.List(context.Background(), domain.AuditFilter{
		From: base.Add(90 * time.Second),
		To:   base.Add(150 * time.Second),
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(windowed) != 1 || windowed[0].Seq != 2 {
		t.Fatalf("windowed = %+v", windowed)
	}

	limited, err := store.List(context.Background(), domain.AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d events, want 2", len(limited))
	}
}
