// Package dto contains the wire-format request/response shapes for the
// HTTP API, kept separate from internal/models so the persistence and
// engine types can evolve without breaking API compatibility.
package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// SessionResponse mirrors models.Session for the wire, with image keys
// rewritten into fetchable URLs.
type SessionResponse struct {
	ID                uuid.UUID             `json:"id"`
	TrackID           string                `json:"track_id"`
	Outcome           models.SessionOutcome `json:"outcome"`
	SilentPassedCount int                   `json:"silent_passed_count"`
	ActionPassedCount int                   `json:"action_passed_count"`
	BestQualityScore  float64               `json:"best_quality_score"`
	StartedAt         string                `json:"started_at"`
	EndedAt           string                `json:"ended_at,omitempty"`
	FrameURL          string                `json:"frame_url,omitempty"`
	FaceURL           string                `json:"face_url,omitempty"`
}

func NewSessionResponse(s models.Session) SessionResponse {
	r := SessionResponse{
		ID:                s.ID,
		TrackID:           s.TrackID,
		Outcome:           s.Outcome,
		SilentPassedCount: s.SilentPassedCount,
		ActionPassedCount: s.ActionPassedCount,
		BestQualityScore:  s.BestQualityScore,
		StartedAt:         s.StartedAt.Format(time.RFC3339),
	}
	if s.EndedAt != nil {
		r.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	if s.FrameSnapshotKey != "" {
		r.FrameURL = "/v1/sessions/" + s.ID.String() + "/frame"
	}
	if s.FaceSnapshotKey != "" {
		r.FaceURL = "/v1/sessions/" + s.ID.String() + "/face"
	}
	return r
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// SessionEventResponse mirrors models.SessionEvent for the wire.
type SessionEventResponse struct {
	ID        uuid.UUID        `json:"id"`
	Type      models.EventType `json:"type"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt string           `json:"created_at"`
}

func NewSessionEventResponse(e models.SessionEvent) SessionEventResponse {
	return SessionEventResponse{
		ID:        e.ID,
		Type:      e.Type,
		Payload:   json.RawMessage(e.Payload),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

type SessionEventListResponse struct {
	Events []SessionEventResponse `json:"events"`
}
