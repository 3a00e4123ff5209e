package usecase

import (
	"context"
	"fmt"

	"keystone/internal/domain"
)

// VerifyAuditChain replays the stored audit log and checks the hash chain:
// contiguous sequence numbers, payload integrity, and each event's hash
// linking to its predecessor. Any mutation, gap, or reorder fails.
func VerifyAuditChain(ctx context.Context, repo AuditEventRepository) error {
	events, err := repo.List(ctx, domain.AuditFilter{})
	if err != nil {
		return err
	}
	prevHash := zeroAuditHash()
	var prevSeq int64
	for _, event := range events {
		if event.Seq != prevSeq+1 {
			return fmt.Errorf("audit chain sequence gap: expected %d, got %d", prevSeq+1, event.Seq)
		}
		payloadHash, err := domain.HashPayload(event.Payload)
		if err != nil {
			return err
		}
		if payloadHash != event.PayloadHash {
			return fmt.Errorf("audit event %d payload hash mismatch", event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit event %d does not chain to its predecessor", event.Seq)
		}
		hash, err := computeChainHash(event)
		if err != nil {
			return err
		}
		if hash != event.EventHash {
			return fmt.Errorf("audit event %d hash mismatch", event.Seq)
		}
		prevHash = event.EventHash
		prevSeq = event.Seq
	}
	return nil
}

func computeChainHash(event domain.AuditEvent) (string, error) {
	return domain.ChainHash(event)
}

func zeroAuditHash() string {
	return domain.ZeroChainHash()
}

func sha256Hex(input []byte) string {
	return sha256HexString(input)
}
