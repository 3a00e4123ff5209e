package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"keystone/internal/domain"
)

type stubTier struct {
	MemoryTier

	applyErr        error
	rollbackErr     error
	applyDelay      time.Duration
	reportedVersion string
}

func (t *stubTier) Apply(ctx context.Context, key *domain.SigningKey) error {
	if t.applyDelay > 0 {
		time.Sleep(t.applyDelay)
	}
	if t.applyErr != nil {
		return t.applyErr
	}
	return t.MemoryTier.Apply(ctx, key)
}

func (t *stubTier) Version(ctx context.Context) (string, error) {
	if t.reportedVersion != "" {
		return t.reportedVersion, nil
	}
	return t.MemoryTier.Version(ctx)
}

func (t *stubTier) Rollback(ctx context.Context, keyVersion string) error {
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	return t.MemoryTier.Rollback(ctx, keyVersion)
}

type stubHealth struct {
	mu      sync.Mutex
	checked []domain.TierName
	failOn  domain.TierName
	delay   time.Duration
}

func (h *stubHealth) check(ctx context.Context, tier domain.TierName) error {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	h.checked = append(h.checked, tier)
	h.mu.Unlock()
	if tier == h.failOn {
		return errors.New("synthetic check failed")
	}
	return nil
}

func (h *stubHealth) TestTokenGeneration(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	return h.check(ctx, tier)
}

func (h *stubHealth) TestTokenValidation(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	return h.check(ctx, tier)
}

func (h *stubHealth) CryptographicIntegrity(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	return h.check(ctx, tier)
}

type recorderStub struct {
	mu      sync.Mutex
	records []domain.DeploymentRecord
}

func (r *recorderStub) SaveDeployment(ctx context.Context, record domain.DeploymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func testKey(id string) *domain.SigningKey {
	return &domain.SigningKey{
		ID:           id,
		Algorithm:    domain.KeyAlgorithmHS256,
		StrengthBits: 256,
		Status:       domain.KeyStatusPending,
		Secret:       []byte("0123456789abcdef0123456789abcdef"),
	}
}

func newTestCoordinator(tiers []TierApplier, health HealthChecker, recorder DeploymentRecorder) *Coordinator {
	return &Coordinator{
		Tiers:         tiers,
		Health:        health,
		Records:       recorder,
		Clock:         func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		HealthTimeout: time.Second,
	}
}

func TestDeployAdvancesTiersInOrder(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	api := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierAPI}}
	edge := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierEdge}}
	health := &stubHealth{}
	recorder := &recorderStub{}

	c := newTestCoordinator([]TierApplier{validation, api, edge}, health, recorder)
	record, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if record.Status != domain.DeploymentStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", record.Status)
	}
	for _, tier := range []*stubTier{validation, api, edge} {
		v, _ := tier.Version(context.Background())
		if v != "key_prod_002" {
			t.Fatalf("tier %s version = %q, want key_prod_002", tier.TierName, v)
		}
	}
	// Three checks run per tier; tier k+1 must never be checked before all
	// of tier k's checks finished.
	if len(health.checked) != 9 {
		t.Fatalf("health checks = %d, want 9", len(health.checked))
	}
	order := []domain.TierName{domain.TierValidation, domain.TierAPI, domain.TierEdge}
	for i, tier := range health.checked {
		if want := order[i/3]; tier != want {
			t.Fatalf("check %d ran against %s, want %s", i, tier, want)
		}
	}
	if len(recorder.records) != 1 {
		t.Fatalf("recorded deployments = %d, want 1", len(recorder.records))
	}
}

func TestDeployRollsBackOnMidTierFailure(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	api := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierAPI}, applyErr: errors.New("api fleet rejected key")}
	edge := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierEdge}}
	validation.MemoryTier.version = "key_prod_001"

	c := newTestCoordinator([]TierApplier{validation, api, edge}, &stubHealth{}, nil)
	record, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	if err == nil {
		t.Fatal("Deploy succeeded, want mid-tier failure")
	}
	if record.Status != domain.DeploymentStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
	if got := record.Tier(domain.TierValidation).Status; got != domain.TierStatusRolledBack {
		t.Fatalf("validation tier = %s, want ROLLED_BACK", got)
	}
	if got := record.Tier(domain.TierAPI).Status; got != domain.TierStatusFailed {
		t.Fatalf("api tier = %s, want FAILED", got)
	}
	if got := record.Tier(domain.TierEdge).Status; got != domain.TierStatusSkipped {
		t.Fatalf("edge tier = %s, want SKIPPED", got)
	}
	if v, _ := validation.Version(context.Background()); v != "key_prod_001" {
		t.Fatalf("validation version after rollback = %q, want key_prod_001", v)
	}
}

func TestDeployFailsOnUnhealthyTier(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	api := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierAPI}}
	edge := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierEdge}}
	health := &stubHealth{failOn: domain.TierAPI}

	c := newTestCoordinator([]TierApplier{validation, api, edge}, health, nil)
	record, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	var hcErr *domain.HealthCheckError
	if !errors.As(err, &hcErr) {
		t.Fatalf("error = %v, want HealthCheckError", err)
	}
	if hcErr.Tier != domain.TierAPI {
		t.Fatalf("failed tier = %s, want api", hcErr.Tier)
	}
	if record.Status != domain.DeploymentStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
	if got := record.Tier(domain.TierEdge).Status; got != domain.TierStatusSkipped {
		t.Fatalf("edge tier = %s, want SKIPPED", got)
	}
}

func TestDeployTreatsHealthTimeoutAsFailure(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	health := &stubHealth{delay: 200 * time.Millisecond}

	c := newTestCoordinator([]TierApplier{validation}, health, nil)
	c.HealthTimeout = 20 * time.Millisecond
	_, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	var hcErr *domain.HealthCheckError
	if !errors.As(err, &hcErr) {
		t.Fatalf("error = %v, want HealthCheckError", err)
	}
	if !errors.Is(hcErr.Err, context.DeadlineExceeded) {
		t.Fatalf("cause = %v, want deadline exceeded", hcErr.Err)
	}
}

func TestDeployDetectsCrossTierVersionDrift(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	api := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierAPI}, reportedVersion: "key_prod_001"}

	c := newTestCoordinator([]TierApplier{validation, api}, &stubHealth{}, nil)
	record, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	var consistency *domain.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("error = %v, want ConsistencyError", err)
	}
	if consistency.Versions[domain.TierAPI] != "key_prod_001" {
		t.Fatalf("reported api version = %q, want key_prod_001", consistency.Versions[domain.TierAPI])
	}
	if record.Status != domain.DeploymentStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
}

func TestDeployRollbackFailureIsFatal(t *testing.T) {
	validation := &stubTier{
		MemoryTier:  MemoryTier{TierName: domain.TierValidation},
		rollbackErr: errors.New("fleet unreachable"),
	}
	api := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierAPI}, applyErr: errors.New("apply refused")}

	c := newTestCoordinator([]TierApplier{validation, api}, &stubHealth{}, nil)
	record, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	var rbErr *domain.RollbackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("error = %v, want RollbackError", err)
	}
	if rbErr.Tier != domain.TierValidation {
		t.Fatalf("rollback failed on %s, want validation", rbErr.Tier)
	}
	if record.Status != domain.DeploymentStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
}

func TestDeployLinksRollbackToLastSuccess(t *testing.T) {
	validation := &stubTier{MemoryTier: MemoryTier{TierName: domain.TierValidation}}
	c := newTestCoordinator([]TierApplier{validation}, &stubHealth{}, nil)

	first, err := c.Deploy(context.Background(), testKey("key_prod_002"))
	if err != nil {
		t.Fatalf("first Deploy: %v", err)
	}

	validation.applyErr = errors.New("apply refused")
	second, err := c.Deploy(context.Background(), testKey("key_prod_003"))
	if err == nil {
		t.Fatal("second Deploy succeeded, want failure")
	}
	if second.RollbackOf != first.ID {
		t.Fatalf("RollbackOf = %q, want %q", second.RollbackOf, first.ID)
	}
}
