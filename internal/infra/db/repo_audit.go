package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"keystone/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository is the durable append-only audit log. Each Append runs in
// a transaction that reads the current chain head and seals the new event
// onto it; the unique index on seq rejects concurrent double-appends.
type AuditRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db, clock: time.Now}
}

func NewAuditRepositoryWithClock(db *gorm.DB, clock func() time.Time) *AuditRepository {
	if clock == nil {
		clock = time.Now
	}
	return &AuditRepository{db: db, clock: clock}
}

func (r *AuditRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	payloadHash, err := domain.HashPayload(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	event.ID = "audit-" + uuid.NewString()
	event.PayloadHash = payloadHash
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.clock().UTC()
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head AuditEventModel
		headErr := tx.Order("seq DESC").First(&head).Error
		switch {
		case headErr == nil:
			event.Seq = head.Seq + 1
			event.PrevEventHash = head.EventHash
		case errors.Is(headErr, gorm.ErrRecordNotFound):
			event.Seq = 1
			event.PrevEventHash = domain.ZeroChainHash()
		default:
			return headErr
		}

		eventHash, err := domain.ChainHash(event)
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := AuditEventModel{
			ID:            event.ID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			PayloadJSON:   payloadJSON,
			PayloadHash:   event.PayloadHash,
			ActorType:     string(event.ActorType),
			ActorIDHash:   stringPtrIfNotEmpty(event.ActorIDHash),
			TargetType:    string(event.TargetType),
			TargetID:      stringPtrIfNotEmpty(event.TargetID),
			Result:        string(event.Result),
			ErrorCode:     stringPtrIfNotEmpty(event.ErrorCode),
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt,
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return event, nil
}

// Head returns the most recently sealed event.
func (r *AuditRepository) Head(ctx context.Context) (*domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var model AuditEventModel
	err := r.db.WithContext(ctx).Order("seq DESC").First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	event, err := modelToAuditEvent(model)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Model(&AuditEventModel{}).Order("seq ASC")
	if filter.EventType != "" {
		query = query.Where("event_type = ?", string(filter.EventType))
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at <= ?", filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []AuditEventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		event, err := modelToAuditEvent(model)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if raw, ok := payload.([]byte); ok {
		return json.Marshal(map[string]any{"raw": raw})
	}
	return json.Marshal(payload)
}

func modelToAuditEvent(model AuditEventModel) (domain.AuditEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(model.PayloadJSON, &payload); err != nil {
		return domain.AuditEvent{}, err
	}
	return domain.AuditEvent{
		ID:            model.ID,
		Seq:           model.Seq,
		EventType:     domain.AuditEventType(model.EventType),
		Payload:       payload,
		PayloadHash:   model.PayloadHash,
		ActorType:     domain.AuditActorType(model.ActorType),
		ActorIDHash:   stringFromPtr(model.ActorIDHash),
		TargetType:    domain.AuditTargetType(model.TargetType),
		TargetID:      stringFromPtr(model.TargetID),
		Result:        domain.AuditResult(model.Result),
		ErrorCode:     stringFromPtr(model.ErrorCode),
		PrevEventHash: model.PrevEventHash,
		EventHash:     model.EventHash,
		CreatedAt:     model.CreatedAt,
	}, nil
}
