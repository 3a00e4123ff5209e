package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"keystone/internal/domain"

	"go.uber.org/zap"
)

// Publisher submits a checkpoint to one external witness. Implementations
// return a receipt rather than an error; a witness outage must never fail
// the flows that produced the audit events.
type Publisher interface {
	PublisherName() string
	Publish(ctx context.Context, payload Payload) domain.CheckpointReceipt
}

// HeadSource yields the current audit chain head.
type HeadSource interface {
	Head(ctx context.Context) (*domain.AuditEvent, error)
}

const publishTimeout = 2 * time.Second

// Service periodically commits the audit chain head to external witnesses.
type Service struct {
	Heads      HeadSource
	Publishers []Publisher
	Clock      func() time.Time
	Log        *zap.Logger

	lastSeq int64
}

// PublishHead reads the chain head and fans it out to every witness. A head
// already published is skipped; an empty log is a no-op.
func (s *Service) PublishHead(ctx context.Context) ([]domain.CheckpointReceipt, error) {
	head, err := s.Heads.Head(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if head.Seq <= s.lastSeq {
		return nil, nil
	}
	payload, err := BuildPayload(head)
	if err != nil {
		return nil, err
	}

	receipts := make([]domain.CheckpointReceipt, 0, len(s.Publishers))
	for _, publisher := range s.Publishers {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		receipt := publisher.Publish(pubCtx, payload)
		timedOut := errors.Is(pubCtx.Err(), context.DeadlineExceeded)
		cancel()
		if receipt.Publisher == "" {
			receipt.Publisher = publisher.PublisherName()
		}
		receipt.Seq = head.Seq
		receipt.PayloadHash = payload.HashHex
		if timedOut {
			receipt.Status = domain.CheckpointStatusFailed
			if receipt.ErrorCode == "" {
				receipt.ErrorCode = domain.CheckpointErrorTimeout
			}
		}
		if receipt.PublishedAt.IsZero() {
			receipt.PublishedAt = s.now()
		}
		s.log(receipt)
		receipts = append(receipts, receipt)
	}
	s.lastSeq = head.Seq
	return receipts, nil
}

// Run publishes on the interval until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PublishHead(ctx); err != nil && s.Log != nil {
				s.Log.Warn("checkpoint publish failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) log(receipt domain.CheckpointReceipt) {
	if s.Log == nil {
		return
	}
	s.Log.Info("audit checkpoint",
		zap.String("publisher", receipt.Publisher),
		zap.String("status", receipt.Status),
		zap.String("error_code", receipt.ErrorCode),
		zap.Int64("seq", receipt.Seq),
		zap.String("payload_hash", receipt.PayloadHash))
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Payload is the exact byte sequence submitted to a witness plus its hash.
type Payload struct {
	Seq       int64
	EventHash string
	Body      []byte
	HashHex   string
}

func BuildPayload(head *domain.AuditEvent) (Payload, error) {
	if head.EventHash == "" {
		return Payload{}, errors.New("audit head has no event hash")
	}
	body, err := json.Marshal(struct {
		V          string `json:"v"`
		Seq        int64  `json:"seq"`
		EventHash  string `json:"event_hash"`
		RecordedAt string `json:"recorded_at"`
	}{
		V:          "keystone_checkpoint_v1",
		Seq:        head.Seq,
		EventHash:  head.EventHash,
		RecordedAt: head.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Payload{}, err
	}
	sum := sha256.Sum256(body)
	return Payload{
		Seq:       head.Seq,
		EventHash: head.EventHash,
		Body:      body,
		HashHex:   hex.EncodeToString(sum[:]),
	}, nil
}
