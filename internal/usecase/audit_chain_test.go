package usecase

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
)

type auditChainRepoStub struct {
	events []domain.AuditEvent
}

func (r *auditChainRepoStub) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.events = append(r.events, event)
	return event, nil
}

func (r *auditChainRepoStub) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	return r.events, nil
}

func TestVerifyAuditChain_OK(t *testing.T) {
	repo := &auditChainRepoStub{}
	prev := zeroAuditHash()
	for i := 1; i <= 3; i++ {
		event := buildAuditEvent(int64(i), prev, []byte(`{"kid":"key-1"}`))
		repo.events = append(repo.events, event)
		prev = event.EventHash
	}
	if err := VerifyAuditChain(context.Background(), repo); err != nil {
		t.Fatalf("verify audit chain: %v", err)
	}
}

func TestVerifyAuditChain_Mutation(t *testing.T) {
	repo := &auditChainRepoStub{}
	event := buildAuditEvent(1, zeroAuditHash(), []byte(`{"kid":"key-1"}`))
	event.Payload = []byte(`{"kid":"tampered"}`)
	repo.events = append(repo.events, event)
	if err := VerifyAuditChain(context.Background(), repo); err == nil {
		t.Fatal("expected verification to fail on payload mutation")
	}
}

func TestVerifyAuditChain_SeqGap(t *testing.T) {
	repo := &auditChainRepoStub{}
	event := buildAuditEvent(2, zeroAuditHash(), []byte(`{"kid":"key-1"}`))
	repo.events = append(repo.events, event)
	if err := VerifyAuditChain(context.Background(), repo); err == nil {
		t.Fatal("expected verification to fail on seq gap")
	}
}

func TestVerifyAuditChain_Reordered(t *testing.T) {
	repo := &auditChainRepoStub{}
	first := buildAuditEvent(1, zeroAuditHash(), []byte(`{"kid":"key-1"}`))
	second := buildAuditEvent(2, first.EventHash, []byte(`{"kid":"key-2"}`))
	repo.events = []domain.AuditEvent{second, first}
	if err := VerifyAuditChain(context.Background(), repo); err == nil {
		t.Fatal("expected verification to fail on reordered events")
	}
}

func buildAuditEvent(seq int64, prevHash string, payload []byte) domain.AuditEvent {
	event := domain.AuditEvent{
		Seq:           seq,
		EventType:     domain.AuditEventKeyGenerated,
		Payload:       payload,
		PayloadHash:   sha256Hex(payload),
		ActorType:     domain.AuditActorSystem,
		TargetType:    domain.AuditTargetKey,
		TargetID:      "key-1",
		Result:        domain.AuditResultSuccess,
		PrevEventHash: prevHash,
		CreatedAt:     time.Date(2026, 2, 1, 10, int(seq), 0, 0, time.UTC),
	}
	hash, _ := computeChainHash(event)
	event.EventHash = hash
	return event
}
