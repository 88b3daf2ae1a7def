package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionOutcome classifies how a liveness session ended, used both for the
// persisted record and the fld_session_outcomes_total metric label.
type SessionOutcome string

const (
	OutcomeSuccess SessionOutcome = "success"
	OutcomeFraud   SessionOutcome = "fraud"
	OutcomeTimeout SessionOutcome = "timeout"
	OutcomeError   SessionOutcome = "error"
	OutcomeRunning SessionOutcome = "running"
)

// Session is the persisted record of one startDetection...stopDetection
// run (SPEC_FULL.md §12).
type Session struct {
	ID                uuid.UUID
	TrackID           string
	Outcome           SessionOutcome
	SilentPassedCount int
	ActionPassedCount int
	BestQualityScore  float64
	StartedAt         time.Time
	EndedAt           *time.Time
	FrameSnapshotKey  string // MinIO key for bestFrameImage
	FaceSnapshotKey   string // MinIO key for bestFaceImage
	Embedding         []float32
	CreatedAt         time.Time
}

// SessionEvent is a persisted detector-* event associated with a session,
// used for the event query API.
type SessionEvent struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Type      EventType
	Payload   []byte // JSON-encoded payload
	CreatedAt time.Time
}
