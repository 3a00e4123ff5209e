package checkpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keystone/internal/domain"
)

type headStub struct {
	head *domain.AuditEvent
	err  error
}

func (s *headStub) Head(ctx context.Context) (*domain.AuditEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.head, nil
}

type publisherStub struct {
	name     string
	receipts []Payload
	status   string
	delay    time.Duration
}

func (p *publisherStub) PublisherName() string { return p.name }

func (p *publisherStub) Publish(ctx context.Context, payload Payload) domain.CheckpointReceipt {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.CheckpointReceipt{Status: domain.CheckpointStatusFailed}
		case <-time.After(p.delay):
		}
	}
	p.receipts = append(p.receipts, payload)
	status := p.status
	if status == "" {
		status = domain.CheckpointStatusPublished
	}
	return domain.CheckpointReceipt{Status: status}
}

func testHead(seq int64) *domain.AuditEvent {
	return &domain.AuditEvent{
		Seq:       seq,
		EventHash: "abc123",
		CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublishHeadFansOut(t *testing.T) {
	first := &publisherStub{name: "witness-a"}
	second := &publisherStub{name: "witness-b"}
	svc := &Service{
		Heads:      &headStub{head: testHead(7)},
		Publishers: []Publisher{first, second},
		Clock:      func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	}

	receipts, err := svc.PublishHead(context.Background())
	if err != nil {
		t.Fatalf("PublishHead: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("receipts = %d, want 2", len(receipts))
	}
	for _, receipt := range receipts {
		if receipt.Status != domain.CheckpointStatusPublished {
			t.Fatalf("status = %s", receipt.Status)
		}
		if receipt.Seq != 7 || receipt.PayloadHash == "" {
			t.Fatalf("receipt = %+v", receipt)
		}
	}
	if len(first.receipts) != 1 || len(second.receipts) != 1 {
		t.Fatalf("publish counts = %d, %d", len(first.receipts), len(second.receipts))
	}
}

func TestPublishHeadSkipsAlreadyPublishedSeq(t *testing.T) {
	pub := &publisherStub{name: "witness"}
	svc := &Service{
		Heads:      &headStub{head: testHead(3)},
		Publishers: []Publisher{pub},
	}

	if _, err := svc.PublishHead(context.Background()); err != nil {
		t.Fatalf("first PublishHead: %v", err)
	}
	receipts, err := svc.PublishHead(context.Background())
	if err != nil {
		t.Fatalf("second PublishHead: %v", err)
	}
	if receipts != nil {
		t.Fatalf("receipts = %+v, want nil", receipts)
	}
	if len(pub.receipts) != 1 {
		t.Fatalf("publish count = %d, want 1", len(pub.receipts))
	}
}

func TestPublishHeadEmptyLogIsNoOp(t *testing.T) {
	svc := &Service{
		Heads:      &headStub{err: domain.ErrNotFound},
		Publishers: []Publisher{&publisherStub{name: "witness"}},
	}
	receipts, err := svc.PublishHead(context.Background())
	if err != nil {
		t.Fatalf("PublishHead: %v", err)
	}
	if receipts != nil {
		t.Fatalf("receipts = %+v, want nil", receipts)
	}
}

func TestWebhookPublishesPayload(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook := &Webhook{
		Name:       "witness",
		URL:        server.URL,
		AuthHeader: "Authorization",
		AuthValue:  "Bearer token",
	}
	payload, err := BuildPayload(testHead(5))
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	receipt := hook.Publish(context.Background(), payload)
	if receipt.Status != domain.CheckpointStatusPublished {
		t.Fatalf("status = %s, code %s", receipt.Status, receipt.ErrorCode)
	}
	if string(gotBody) != string(payload.Body) {
		t.Fatalf("body = %s", gotBody)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestWebhookReportsWitnessFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL}
	payload, err := BuildPayload(testHead(5))
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	receipt := hook.Publish(context.Background(), payload)
	if receipt.Status != domain.CheckpointStatusFailed || receipt.ErrorCode != domain.CheckpointErrorWitness5xx {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestPublishHeadTreatsTimeoutAsFailure(t *testing.T) {
	slow := &publisherStub{name: "slow", delay: 3 * time.Second}
	svc := &Service{
		Heads:      &headStub{head: testHead(1)},
		Publishers: []Publisher{slow},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	receipts, err := svc.PublishHead(ctx)
	if err != nil {
		t.Fatalf("PublishHead: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d", len(receipts))
	}
	if receipts[0].Status != domain.CheckpointStatusFailed || receipts[0].ErrorCode != domain.CheckpointErrorTimeout {
		t.Fatalf("receipt = %+v", receipts[0])
	}
}
