package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sssxyd/face-liveness-detector/internal/config"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Sessions ---

// CreateSession inserts a new running session row, returned with its
// server-assigned timestamps.
func (s *PostgresStore) CreateSession(ctx context.Context, trackID string) (*models.Session, error) {
	sess := &models.Session{
		ID:      uuid.New(),
		TrackID: trackID,
		Outcome: models.OutcomeRunning,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, track_id, outcome) VALUES ($1, $2, $3)
		 RETURNING started_at, created_at`,
		sess.ID, sess.TrackID, sess.Outcome,
	).Scan(&sess.StartedAt, &sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// FinishSession records the terminal state of a session from its
// detector-finish payload.
func (s *PostgresStore) FinishSession(ctx context.Context, id uuid.UUID, outcome models.SessionOutcome, finish models.FinishPayload, frameKey, faceKey string, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
		   outcome = $2,
		   silent_passed_count = $3,
		   action_passed_count = $4,
		   best_quality_score = $5,
		   frame_snapshot_key = $6,
		   face_snapshot_key = $7,
		   embedding = $8,
		   ended_at = now()
		 WHERE id = $1`,
		id, outcome, finish.SilentPassedCount, finish.ActionPassedCount,
		finish.BestQualityScore, frameKey, faceKey, vec,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess := &models.Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, track_id, outcome, silent_passed_count, action_passed_count,
		        best_quality_score, started_at, ended_at, frame_snapshot_key,
		        face_snapshot_key, created_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.TrackID, &sess.Outcome, &sess.SilentPassedCount,
		&sess.ActionPassedCount, &sess.BestQualityScore, &sess.StartedAt,
		&sess.EndedAt, &sess.FrameSnapshotKey, &sess.FaceSnapshotKey, &sess.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, track_id, outcome, silent_passed_count, action_passed_count,
		        best_quality_score, started_at, ended_at, frame_snapshot_key,
		        face_snapshot_key, created_at
		 FROM sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.TrackID, &sess.Outcome, &sess.SilentPassedCount,
			&sess.ActionPassedCount, &sess.BestQualityScore, &sess.StartedAt,
			&sess.EndedAt, &sess.FrameSnapshotKey, &sess.FaceSnapshotKey, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// --- Session events ---

// AppendSessionEvent persists one detector-* event for later retrieval
// through the events API or an offline review tool.
func (s *PostgresStore) AppendSessionEvent(ctx context.Context, sessionID uuid.UUID, eventType models.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_events (id, session_id, type, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New(), sessionID, eventType, raw)
	if err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSessionEvents(ctx context.Context, sessionID uuid.UUID) ([]models.SessionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, type, payload, created_at FROM session_events
		 WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	defer rows.Close()

	var events []models.SessionEvent
	for rows.Next() {
		var ev models.SessionEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// --- Embedding consistency cross-check ---

// NearestEmbedding returns the closest historical session embedding within
// threshold, called from the detect handler's finish path to flag when a
// session's best-frame embedding nearly duplicates a prior session's — the
// same capture material resubmitted under a new session id. It is a replay
// signal for monitoring only (SPEC_FULL.md §12); it never feeds the
// pass/fail decision or identifies who the subject is.
func (s *PostgresStore) NearestEmbedding(ctx context.Context, embedding []float32, threshold float64) (*EmbeddingMatch, error) {
	vec := pgvector.NewVector(embedding)
	m := &EmbeddingMatch{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, track_id, 1 - (embedding <=> $1) AS score
		 FROM sessions
		 WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1 LIMIT 1`,
		vec, threshold,
	).Scan(&m.SessionID, &m.TrackID, &m.Score)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("nearest embedding: %w", err)
	}
	return m, nil
}

// EmbeddingMatch is the result of a NearestEmbedding lookup.
type EmbeddingMatch struct {
	SessionID uuid.UUID
	TrackID   string
	Score     float32
}
