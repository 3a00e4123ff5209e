package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keystone/internal/domain"
)

// registryStub mimics the status bookkeeping of the real key registry with
// deterministic key ids.
type registryStub struct {
	keys    map[string]*domain.SigningKey
	counter int
	now     func() time.Time

	generateErr error
	promoteErr  error
}

func newRegistryStub(now func() time.Time) *registryStub {
	return &registryStub{keys: map[string]*domain.SigningKey{}, now: now}
}

func (r *registryStub) addPrimary(id string) *domain.SigningKey {
	key := &domain.SigningKey{
		ID:           id,
		Algorithm:    domain.KeyAlgorithmHS256,
		StrengthBits: 256,
		Status:       domain.KeyStatusActivePrimary,
		AccessLevel:  domain.AccessLevelStandard,
		Secret:       []byte("secret-" + id),
		CreatedAt:    r.now(),
	}
	r.keys[id] = key
	return key
}

func (r *registryStub) Generate(ctx context.Context, algorithm domain.KeyAlgorithm, strengthBits int) (*domain.SigningKey, error) {
	if r.generateErr != nil {
		return nil, r.generateErr
	}
	r.counter++
	key := &domain.SigningKey{
		ID:           fmt.Sprintf("key_prod_%03d", r.counter),
		Algorithm:    algorithm,
		StrengthBits: strengthBits,
		Status:       domain.KeyStatusPending,
		AccessLevel:  domain.AccessLevelStandard,
		Secret:       []byte(fmt.Sprintf("secret-%03d", r.counter)),
		CreatedAt:    r.now(),
	}
	r.keys[key.ID] = key
	return key, nil
}

func (r *registryStub) Promote(ctx context.Context, keyID string, immediateRetire bool) error {
	if r.promoteErr != nil {
		return r.promoteErr
	}
	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	for _, other := range r.keys {
		if other.ID == keyID || other.Status != domain.KeyStatusActivePrimary {
			continue
		}
		if immediateRetire {
			other.Status = domain.KeyStatusRetired
		} else {
			other.Status = domain.KeyStatusActiveSecondary
		}
	}
	key.Status = domain.KeyStatusActivePrimary
	return nil
}

func (r *registryStub) Retire(ctx context.Context, keyID string) error {
	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	key.Status = domain.KeyStatusRetired
	return nil
}

func (r *registryStub) Archive(ctx context.Context, keyID string) error {
	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	key.Status = domain.KeyStatusArchived
	key.AccessLevel = domain.AccessLevelAuditOnly
	return nil
}

func (r *registryStub) MarkCompromised(ctx context.Context, keyID string) error {
	key, ok := r.keys[keyID]
	if !ok {
		return domain.ErrKeyNotFound
	}
	key.Status = domain.KeyStatusCompromised
	return nil
}

func (r *registryStub) Get(ctx context.Context, keyID string) (*domain.SigningKey, error) {
	key, ok := r.keys[keyID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return key, nil
}

func (r *registryStub) CurrentValidationKeys(ctx context.Context) (*domain.ValidationKeySet, error) {
	set := &domain.ValidationKeySet{}
	for _, key := range r.keys {
		switch key.Status {
		case domain.KeyStatusActivePrimary:
			set.Primary = key
		case domain.KeyStatusActiveSecondary:
			set.Secondary = key
		}
	}
	return set, nil
}

type ledgerStub struct {
	entries map[string]domain.RevocationEntry
	err     error
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{entries: map[string]domain.RevocationEntry{}}
}

func (l *ledgerStub) Revoke(ctx context.Context, entry domain.RevocationEntry) error {
	if l.err != nil {
		return l.err
	}
	if _, ok := l.entries[entry.TokenRef]; !ok {
		l.entries[entry.TokenRef] = entry
	}
	return nil
}

func (l *ledgerStub) IsRevoked(ctx context.Context, tokenRef string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	_, ok := l.entries[tokenRef]
	return ok, nil
}

func (l *ledgerStub) Cleanup(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for ref, entry := range l.entries {
		if !entry.ExpiresAt.After(now) {
			delete(l.entries, ref)
			removed++
		}
	}
	return removed, nil
}

// signerStub produces tokens of the form "kid|jti|uid" so the verifier and
// rotation flows run without real cryptography.
type signerStub struct {
	selfTestErr error
	verifyErr   error
}

func (s *signerStub) Sign(ctx context.Context, key *domain.SigningKey, claims map[string]any) (string, error) {
	jti, _ := claims["jti"].(string)
	sub, _ := claims["sub"].(string)
	return key.ID + "|" + jti + "|" + sub, nil
}

func (s *signerStub) Verify(ctx context.Context, key *domain.SigningKey, token string) (TokenClaims, error) {
	if s.verifyErr != nil {
		return TokenClaims{}, s.verifyErr
	}
	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 3 || parts[0] != key.ID {
		return TokenClaims{}, fmt.Errorf("bad token %q", token)
	}
	return TokenClaims{TokenID: parts[1], UserID: parts[2]}, nil
}

func (s *signerStub) KeyID(token string) (string, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed token %q", token)
	}
	return parts[0], nil
}

func (s *signerStub) SelfTest(ctx context.Context, key *domain.SigningKey) error {
	return s.selfTestErr
}

type deployerStub struct {
	deploys  []string
	failNext int
	err      error
}

func (d *deployerStub) Deploy(ctx context.Context, key *domain.SigningKey) (*domain.DeploymentRecord, error) {
	d.deploys = append(d.deploys, key.ID)
	if d.failNext > 0 {
		d.failNext--
		if d.err != nil {
			return nil, d.err
		}
		return nil, fmt.Errorf("deploy of %s failed", key.ID)
	}
	return &domain.DeploymentRecord{
		ID:     "dep-" + key.ID,
		KeyID:  key.ID,
		Status: domain.DeploymentStatusSucceeded,
	}, nil
}

type tokenIndexStub struct {
	byUser map[string][]domain.TokenRecord
	byKey  map[string][]domain.TokenRecord
}

func newTokenIndexStub() *tokenIndexStub {
	return &tokenIndexStub{
		byUser: map[string][]domain.TokenRecord{},
		byKey:  map[string][]domain.TokenRecord{},
	}
}

func (s *tokenIndexStub) add(record domain.TokenRecord) {
	s.byUser[record.UserID] = append(s.byUser[record.UserID], record)
	s.byKey[record.KeyID] = append(s.byKey[record.KeyID], record)
}

func (s *tokenIndexStub) OutstandingByUser(ctx context.Context, userID string) ([]domain.TokenRecord, error) {
	return s.byUser[userID], nil
}

func (s *tokenIndexStub) OutstandingByKey(ctx context.Context, keyID string) ([]domain.TokenRecord, error) {
	return s.byKey[keyID], nil
}

// auditRepoStub assigns sequence numbers without the hash chain; failOn
// simulates a persistence failure for a given event type.
type auditRepoStub struct {
	events []domain.AuditEvent
	failOn domain.AuditEventType
}

func (r *auditRepoStub) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.failOn != "" && event.EventType == r.failOn {
		return domain.AuditEvent{}, fmt.Errorf("audit store unavailable")
	}
	event.Seq = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return event, nil
}

func (r *auditRepoStub) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	out := make([]domain.AuditEvent, 0, len(r.events))
	for _, event := range r.events {
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		if !filter.From.IsZero() && event.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && event.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (r *auditRepoStub) countByType(eventType domain.AuditEventType) int {
	n := 0
	for _, event := range r.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type notifierStub struct {
	sent []domain.Notification
}

func (n *notifierStub) Dispatch(ctx context.Context, notification domain.Notification) error {
	n.sent = append(n.sent, notification)
	return nil
}

type sessionsStub struct {
	forced []string
}

func (s *sessionsStub) ForceReauthentication(ctx context.Context, reason string) error {
	s.forced = append(s.forced, reason)
	return nil
}

type suspensionsStub struct {
	saved map[string]domain.Suspension
}

func newSuspensionsStub() *suspensionsStub {
	return &suspensionsStub{saved: map[string]domain.Suspension{}}
}

func (s *suspensionsStub) SaveSuspension(ctx context.Context, suspension domain.Suspension) error {
	s.saved[suspension.UserID] = suspension
	return nil
}

func (s *suspensionsStub) GetSuspension(ctx context.Context, userID string) (*domain.Suspension, error) {
	suspension, ok := s.saved[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &suspension, nil
}

type archiverStub struct {
	archived []string
}

func (a *archiverStub) ArchiveUserData(ctx context.Context, userID string) error {
	a.archived = append(a.archived, userID)
	return nil
}
