package auditmem

import (
	"context"
	"sync"
	"time"

	"keystone/internal/domain"

	"github.com/google/uuid"
)

// Store is the in-memory audit event repository. Events are appended under a
// lock so each one seals onto the chain exactly once; reads take a snapshot.
type Store struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
	clock  func() time.Time
}

func New() *Store {
	return &Store{clock: time.Now}
}

func NewWithClock(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{clock: clock}
}

// Append seals the event onto the chain: it assigns ID, Seq, PayloadHash,
// PrevEventHash, and EventHash. The caller's event must not carry a Seq or
// hashes of its own.
func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditEvent{}, err
	}

	payloadHash, err := domain.HashPayload(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = "audit-" + uuid.NewString()
	event.Seq = int64(len(s.events)) + 1
	event.PayloadHash = payloadHash
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock().UTC()
	}
	if len(s.events) == 0 {
		event.PrevEventHash = domain.ZeroChainHash()
	} else {
		event.PrevEventHash = s.events[len(s.events)-1].EventHash
	}
	eventHash, err := domain.ChainHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = eventHash

	s.events = append(s.events, event)
	return event, nil
}

// Head returns the most recently sealed event.
func (s *Store) Head(ctx context.Context) (*domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, domain.ErrNotFound
	}
	head := s.events[len(s.events)-1]
	return &head, nil
}

func (s *Store) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEvent, 0, len(s.events))
	for _, event := range s.events {
		if !matches(event, filter) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(event domain.AuditEvent, filter domain.AuditFilter) bool {
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	if filter.TargetID != "" && event.TargetID != filter.TargetID {
		return false
	}
	if !filter.From.IsZero() && event.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && event.CreatedAt.After(filter.To) {
		return false
	}
	return true
}
