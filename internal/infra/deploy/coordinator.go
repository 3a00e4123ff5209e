package deploy

import (
	"context"
	"fmt"
	"time"

	"keystone/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TierApplier is one service tier's side of the deployment protocol. The
// coordinator never knows how a tier applies the change; it only issues
// commands and reads replies.
type TierApplier interface {
	Name() domain.TierName
	Apply(ctx context.Context, key *domain.SigningKey) error
	Version(ctx context.Context) (string, error)
	Rollback(ctx context.Context, keyVersion string) error
}

// HealthChecker gates tier-to-tier advancement after each apply.
type HealthChecker interface {
	TestTokenGeneration(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error
	TestTokenValidation(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error
	CryptographicIntegrity(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error
}

// DeploymentRecorder persists the outcome; optional.
type DeploymentRecorder interface {
	SaveDeployment(ctx context.Context, record domain.DeploymentRecord) error
}

const defaultHealthTimeout = 10 * time.Second

// Coordinator rolls a key out across the ordered tiers. Tiers advance
// strictly in order behind a health barrier; any failure halts downstream
// tiers and rolls back the tiers already updated, in reverse order.
type Coordinator struct {
	Tiers         []TierApplier
	Health        HealthChecker
	Records       DeploymentRecorder
	Clock         func() time.Time
	HealthTimeout time.Duration
	Log           *zap.Logger

	lastSuccessfulID string
}

func (c *Coordinator) Deploy(ctx context.Context, key *domain.SigningKey) (*domain.DeploymentRecord, error) {
	record := &domain.DeploymentRecord{
		ID:        "dep-" + uuid.NewString(),
		KeyID:     key.ID,
		Status:    domain.DeploymentStatusInProgress,
		StartedAt: c.now(),
	}
	for _, tier := range c.Tiers {
		record.Tiers = append(record.Tiers, domain.TierResult{
			Name:   tier.Name(),
			Status: domain.TierStatusPending,
		})
	}

	workers := make([]*tierWorker, len(c.Tiers))
	for i, tier := range c.Tiers {
		workers[i] = startTierWorker(tier)
		defer workers[i].stop()
	}

	prevVersions := make([]string, len(c.Tiers))
	applied := 0
	for i, worker := range workers {
		prev, err := worker.version(ctx)
		if err != nil {
			return c.finishFailure(ctx, record, i, workers, prevVersions, applied,
				fmt.Errorf("tier %s: read current version: %w", worker.name, err))
		}
		prevVersions[i] = prev

		if err := worker.apply(ctx, key); err != nil {
			record.Tiers[i].Status = domain.TierStatusFailed
			record.Tiers[i].Error = err.Error()
			return c.finishFailure(ctx, record, i+1, workers, prevVersions, applied,
				fmt.Errorf("tier %s: apply: %w", worker.name, err))
		}
		applied++

		if err := c.checkTier(ctx, worker.name, key); err != nil {
			record.Tiers[i].Status = domain.TierStatusFailed
			record.Tiers[i].Error = err.Error()
			record.Tiers[i].CheckedAt = c.now()
			return c.finishFailure(ctx, record, i+1, workers, prevVersions, applied, err)
		}
		record.Tiers[i].Status = domain.TierStatusHealthy
		record.Tiers[i].KeyVersion = key.ID
		record.Tiers[i].CheckedAt = c.now()
	}

	// All health checks passed; every tier must still report the identical
	// key version before the deployment counts as complete.
	versions := make(map[domain.TierName]string, len(workers))
	mismatch := false
	for _, worker := range workers {
		v, err := worker.version(ctx)
		if err != nil {
			return c.finishFailure(ctx, record, len(workers), workers, prevVersions, applied,
				fmt.Errorf("tier %s: read deployed version: %w", worker.name, err))
		}
		versions[worker.name] = v
		if v != key.ID {
			mismatch = true
		}
	}
	if mismatch {
		return c.finishFailure(ctx, record, len(workers), workers, prevVersions, applied,
			&domain.ConsistencyError{Versions: versions})
	}

	record.Status = domain.DeploymentStatusSucceeded
	record.FinishedAt = c.now()
	c.lastSuccessfulID = record.ID
	c.save(ctx, record)
	c.logger().Info("key deployed to all tiers",
		zap.String("deployment_id", record.ID),
		zap.String("kid", key.ID))
	return record, nil
}

// checkTier fans the three health checks out in parallel, each bounded by
// the configured timeout. A timeout counts as a failed check.
func (c *Coordinator) checkTier(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	timeout := c.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checks := []struct {
		name string
		run  func(context.Context, domain.TierName, *domain.SigningKey) error
	}{
		{"testTokenGeneration", c.Health.TestTokenGeneration},
		{"testTokenValidation", c.Health.TestTokenValidation},
		{"cryptographicIntegrity", c.Health.CryptographicIntegrity},
	}

	g, gctx := errgroup.WithContext(checkCtx)
	for _, check := range checks {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- check.run(gctx, tier, key) }()
			select {
			case err := <-done:
				if err != nil {
					return &domain.HealthCheckError{Tier: tier, Check: check.name, Err: err}
				}
				return nil
			case <-gctx.Done():
				return &domain.HealthCheckError{Tier: tier, Check: check.name, Err: gctx.Err()}
			}
		})
	}
	return g.Wait()
}

// finishFailure marks remaining tiers skipped, rolls back the tiers already
// updated in reverse order, persists the record, and surfaces cause. A
// rollback failure overrides cause: it is fatal and cannot self-heal.
func (c *Coordinator) finishFailure(ctx context.Context, record *domain.DeploymentRecord, reached int, workers []*tierWorker, prevVersions []string, applied int, cause error) (*domain.DeploymentRecord, error) {
	for i := reached; i < len(record.Tiers); i++ {
		record.Tiers[i].Status = domain.TierStatusSkipped
	}
	record.RollbackOf = c.lastSuccessfulID

	rollbackErr := c.rollback(ctx, record, workers, prevVersions, applied)
	record.FinishedAt = c.now()
	if rollbackErr != nil {
		record.Status = domain.DeploymentStatusFailed
		c.save(ctx, record)
		c.logger().Error("deployment rollback failed",
			zap.String("deployment_id", record.ID),
			zap.NamedError("cause", cause),
			zap.Error(rollbackErr))
		return record, rollbackErr
	}
	record.Status = domain.DeploymentStatusFailed
	c.save(ctx, record)
	c.logger().Warn("deployment failed, rolled back",
		zap.String("deployment_id", record.ID),
		zap.Error(cause))
	return record, cause
}

func (c *Coordinator) rollback(ctx context.Context, record *domain.DeploymentRecord, workers []*tierWorker, prevVersions []string, applied int) error {
	for i := applied - 1; i >= 0; i-- {
		if err := workers[i].rollback(ctx, prevVersions[i]); err != nil {
			return &domain.RollbackError{Tier: workers[i].name, Err: err}
		}
		if record.Tiers[i].Status == domain.TierStatusHealthy {
			record.Tiers[i].Status = domain.TierStatusRolledBack
			record.Tiers[i].KeyVersion = prevVersions[i]
		}
	}
	return nil
}

func (c *Coordinator) save(ctx context.Context, record *domain.DeploymentRecord) {
	if c.Records == nil {
		return
	}
	if err := c.Records.SaveDeployment(ctx, *record); err != nil {
		c.logger().Error("persist deployment record",
			zap.String("deployment_id", record.ID), zap.Error(err))
	}
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
