package domain

import "time"

type RotationMode string

const (
	RotationModeGraceful  RotationMode = "GRACEFUL"
	RotationModeEmergency RotationMode = "EMERGENCY"
)

type RotationPhase string

// Graceful rotation phases, in order.
const (
	PhaseAnnounced     RotationPhase = "ANNOUNCED"
	PhaseKeyGenerated  RotationPhase = "KEY_GENERATED"
	PhaseDeploying     RotationPhase = "DEPLOYING"
	PhaseDualKeyPeriod RotationPhase = "DUAL_KEY_PERIOD"
	PhaseRetiring      RotationPhase = "RETIRING"
	PhaseArchived      RotationPhase = "ARCHIVED"
)

// Emergency rotation phases, in order.
const (
	PhaseCompromiseDetected RotationPhase = "COMPROMISE_DETECTED"
	PhaseKeyRevoked         RotationPhase = "KEY_REVOKED"
	PhaseTokensInvalidated  RotationPhase = "TOKENS_INVALIDATED"
	PhaseNewKeyDeployed     RotationPhase = "NEW_KEY_DEPLOYED"
	PhaseUsersNotified      RotationPhase = "USERS_NOTIFIED"
	PhaseForcedRelogin      RotationPhase = "FORCED_RELOGIN"
)

// PhaseFailed is the terminal state after a phase failed twice. It requires
// manual intervention; the machine never leaves it.
const PhaseFailed RotationPhase = "FAILED"

var gracefulNext = map[RotationPhase]RotationPhase{
	PhaseAnnounced:     PhaseKeyGenerated,
	PhaseKeyGenerated:  PhaseDeploying,
	PhaseDeploying:     PhaseDualKeyPeriod,
	PhaseDualKeyPeriod: PhaseRetiring,
	PhaseRetiring:      PhaseArchived,
}

var emergencyNext = map[RotationPhase]RotationPhase{
	PhaseCompromiseDetected: PhaseKeyRevoked,
	PhaseKeyRevoked:         PhaseTokensInvalidated,
	PhaseTokensInvalidated:  PhaseNewKeyDeployed,
	PhaseNewKeyDeployed:     PhaseUsersNotified,
	PhaseUsersNotified:      PhaseForcedRelogin,
}

func initialPhase(mode RotationMode) RotationPhase {
	if mode == RotationModeEmergency {
		return PhaseCompromiseDetected
	}
	return PhaseAnnounced
}

func terminalPhase(mode RotationMode) RotationPhase {
	if mode == RotationModeEmergency {
		return PhaseForcedRelogin
	}
	return PhaseArchived
}

// Rotation is a single rotation instance. The phase is unexported so it can
// only move through Advance/Fail, which enforce the per-mode transition
// tables; an illegal step is a programming error surfaced as
// ErrIllegalPhaseTransition rather than silent state corruption.
type Rotation struct {
	ID        string
	Mode      RotationMode
	Reason    string
	OldKeyID  string
	NewKeyID  string
	StartedAt time.Time
	EndedAt   time.Time

	phase RotationPhase
}

func NewRotation(id string, mode RotationMode, reason string, startedAt time.Time) *Rotation {
	return &Rotation{
		ID:        id,
		Mode:      mode,
		Reason:    reason,
		StartedAt: startedAt,
		phase:     initialPhase(mode),
	}
}

func (r *Rotation) Phase() RotationPhase {
	return r.phase
}

// Advance moves the rotation to next if the mode's table allows it.
func (r *Rotation) Advance(next RotationPhase) error {
	if r.phase == PhaseFailed {
		return ErrRotationFailedTerminal
	}
	table := gracefulNext
	if r.Mode == RotationModeEmergency {
		table = emergencyNext
	}
	if table[r.phase] != next {
		return ErrIllegalPhaseTransition
	}
	r.phase = next
	return nil
}

// Fail moves the rotation to the FAILED terminal state from any phase.
func (r *Rotation) Fail() {
	r.phase = PhaseFailed
}

// Terminal reports whether the rotation has finished, successfully or not.
func (r *Rotation) Terminal() bool {
	return r.phase == PhaseFailed || r.phase == terminalPhase(r.Mode)
}

// Succeeded reports whether the rotation reached its final phase.
func (r *Rotation) Succeeded() bool {
	return r.phase == terminalPhase(r.Mode)
}
