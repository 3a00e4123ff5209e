package domain

import (
	"encoding/json"
	"time"
)

// Checkpoint is a commitment to the audit chain head at a point in time.
// Publishing it to an external witness makes later truncation or rewrite of
// the log detectable by comparing hashes.
type Checkpoint struct {
	Seq         int64
	EventHash   string
	PayloadHash string
	CreatedAt   time.Time
}

// CheckpointReceipt records one publish attempt against one witness.
type CheckpointReceipt struct {
	Publisher   string
	Status      string
	ErrorCode   string
	Seq         int64
	PayloadHash string

	WitnessURL          string
	WitnessResponseJSON json.RawMessage
	PublishedAt         time.Time
}

const (
	CheckpointStatusPublished = "published"
	CheckpointStatusFailed    = "failed"
	CheckpointStatusSkipped   = "skipped"
)

const (
	CheckpointErrorNetwork     = "NETWORK"
	CheckpointErrorBadConfig   = "BAD_CONFIG"
	CheckpointErrorWitness5xx  = "WITNESS_5XX"
	CheckpointErrorTimeout     = "TIMEOUT"
	CheckpointErrorPersistence = "PERSISTENCE"
)
