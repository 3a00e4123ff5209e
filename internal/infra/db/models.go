package db

import "time"

type SigningKeyModel struct {
	ID           string `gorm:"primaryKey"`
	Algorithm    string `gorm:"not null"`
	StrengthBits int    `gorm:"not null"`
	Status       string `gorm:"index;not null"`
	AccessLevel  string `gorm:"not null"`
	Secret       []byte `gorm:"type:bytea;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	ExpiresAt    *time.Time
	RetiredAt    *time.Time
}

func (SigningKeyModel) TableName() string {
	return "signing_keys"
}

type RevocationModel struct {
	TokenRef  string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index"`
	RevokedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	Reason    string    `gorm:"not null"`
}

func (RevocationModel) TableName() string {
	return "revocations"
}

type SuspensionModel struct {
	UserID         string    `gorm:"primaryKey"`
	SuspendedAt    time.Time `gorm:"not null"`
	SuspendedUntil time.Time `gorm:"not null"`
	Reason         string
}

func (SuspensionModel) TableName() string {
	return "account_suspensions"
}

type DeploymentModel struct {
	ID         string `gorm:"primaryKey"`
	KeyID      string `gorm:"column:kid;index;not null"`
	Status     string `gorm:"not null"`
	TiersJSON  []byte `gorm:"type:jsonb;not null"`
	RollbackOf *string
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt *time.Time
}

func (DeploymentModel) TableName() string {
	return "deployments"
}

type AuditEventModel struct {
	ID            string `gorm:"primaryKey"`
	Seq           int64  `gorm:"uniqueIndex;not null"`
	EventType     string `gorm:"column:event_type;index;not null"`
	PayloadJSON   []byte `gorm:"type:jsonb;not null"`
	PayloadHash   string `gorm:"not null"`
	ActorType     string `gorm:"not null"`
	ActorIDHash   *string
	TargetType    string `gorm:"not null"`
	TargetID      *string `gorm:"index"`
	Result        string  `gorm:"not null"`
	ErrorCode     *string
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"column:created_at;index;not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type ArchiveModel struct {
	UserID      string    `gorm:"primaryKey"`
	ArchivedAt  time.Time `gorm:"not null"`
	PayloadJSON []byte    `gorm:"type:jsonb;not null"`
}

func (ArchiveModel) TableName() string {
	return "account_archives"
}
