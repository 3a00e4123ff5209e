package domain

import "time"

type TierName string

// Tiers are applied strictly in this order: validation services first, then
// API servers, then edge servers.
const (
	TierValidation TierName = "validation"
	TierAPI        TierName = "api"
	TierEdge       TierName = "edge"
)

func DefaultTierOrder() []TierName {
	return []TierName{TierValidation, TierAPI, TierEdge}
}

type TierStatus string

const (
	TierStatusPending    TierStatus = "PENDING"
	TierStatusHealthy    TierStatus = "HEALTHY"
	TierStatusFailed     TierStatus = "FAILED"
	TierStatusRolledBack TierStatus = "ROLLED_BACK"
	TierStatusSkipped    TierStatus = "SKIPPED"
)

type TierResult struct {
	Name       TierName
	Status     TierStatus
	KeyVersion string
	CheckedAt  time.Time
	Error      string
}

type DeploymentStatus string

const (
	DeploymentStatusInProgress DeploymentStatus = "IN_PROGRESS"
	DeploymentStatusSucceeded  DeploymentStatus = "SUCCEEDED"
	DeploymentStatusFailed     DeploymentStatus = "FAILED"
)

type DeploymentRecord struct {
	ID         string
	KeyID      string
	Status     DeploymentStatus
	Tiers      []TierResult
	RollbackOf string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Tier returns the result for the named tier, or nil if it was never reached.
func (d *DeploymentRecord) Tier(name TierName) *TierResult {
	if d == nil {
		return nil
	}
	for i := range d.Tiers {
		if d.Tiers[i].Name == name {
			return &d.Tiers[i]
		}
	}
	return nil
}
