package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sssxyd/face-liveness-detector/internal/engine"
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/queue"
	"github.com/sssxyd/face-liveness-detector/internal/sessionmgr"
	"github.com/sssxyd/face-liveness-detector/internal/storage"
)

// DetectHandler drives the client-facing detection WebSocket: the client
// sends binary JPEG frames, the server runs a pooled engine against them
// and streams back detector-* events as JSON text frames (spec.md §6's
// on/off/once surface, reinterpreted as a push feed over the wire).
type DetectHandler struct {
	pool     *sessionmgr.Pool
	registry *sessionmgr.Registry
	ops      imageops.Ops
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewDetectHandler(pool *sessionmgr.Pool, registry *sessionmgr.Registry, ops imageops.Ops, db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *DetectHandler {
	return &DetectHandler{pool: pool, registry: registry, ops: ops, db: db, minio: minio, producer: producer}
}

var eventTypes = []models.EventType{
	models.EventLoaded, models.EventInfo, models.EventAction,
	models.EventFinish, models.EventError, models.EventDebug,
}

// HandleWS upgrades the connection, acquires a pooled engine, and runs one
// detection session until the client disconnects or the engine finishes.
func (h *DetectHandler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("detect ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	e, err := h.pool.Acquire(ctx)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "no engine capacity available"})
		return
	}
	defer h.pool.Release(e)

	trackID := c.Query("track_id")
	sess, err := h.db.CreateSession(ctx, trackID)
	if err != nil {
		slog.Error("create session record", "error", err)
		_ = conn.WriteJSON(gin.H{"error": "failed to start session"})
		return
	}

	h.registry.Register(sess.ID, e)
	defer h.registry.Unregister(sess.ID)

	source := newWSFrameSource(conn, h.ops)
	defer source.Close()

	var lastErrorCode models.InfoCode
	forward := func(ev models.Event) {
		data, marshalErr := json.Marshal(ev)
		if marshalErr != nil {
			slog.Error("marshal detector event", "error", marshalErr)
			return
		}
		if writeErr := conn.WriteMessage(websocket.TextMessage, data); writeErr != nil {
			return
		}
		if h.producer != nil {
			if pubErr := h.producer.PublishEvent(ctx, ev.SessionID, ev); pubErr != nil {
				slog.Warn("publish detector event", "error", pubErr)
			}
		}

		switch ev.Type {
		case models.EventError:
			if ep, ok := ev.Payload.(models.ErrorPayload); ok {
				lastErrorCode = ep.Code
			}
			h.persistEvent(sess.ID, ev)
		case models.EventFinish:
			if fp, ok := ev.Payload.(models.FinishPayload); ok {
				h.finishSession(sess.ID, fp, lastErrorCode, e.BestEmbedding())
			}
		default:
			h.persistEvent(sess.ID, ev)
		}
	}

	for _, t := range eventTypes {
		id := e.On(t, forward)
		defer e.Off(id)
	}

	if err := e.StartDetection(ctx, sess.ID.String(), source); err != nil {
		slog.Warn("detection session ended with error", "session_id", sess.ID, "error", err)
	}
}

func (h *DetectHandler) persistEvent(sessionID uuid.UUID, ev models.Event) {
	if err := h.db.AppendSessionEvent(context.Background(), sessionID, ev.Type, ev.Payload); err != nil {
		slog.Warn("persist session event", "error", err)
	}
}

// embeddingMatchThreshold is the pgvector cosine-similarity cutoff above
// which two sessions' best-frame embeddings are considered the same
// capture resubmitted under a new session id — a replay signal, not an
// identity match (spec.md's Non-goals exclude authentication decisions;
// this only logs for monitoring and never changes outcome/score).
const embeddingMatchThreshold = 0.92

func (h *DetectHandler) finishSession(sessionID uuid.UUID, fp models.FinishPayload, lastErrorCode models.InfoCode, embedding []float32) {
	outcome := models.OutcomeTimeout
	switch {
	case fp.Success:
		outcome = models.OutcomeSuccess
	case lastErrorCode == models.CodeSuspectedFraudsDetected || lastErrorCode == models.CodeFaceNotReal || lastErrorCode == models.CodeFaceNotLive:
		outcome = models.OutcomeFraud
	case lastErrorCode == models.CodeStreamAcquisitionFailed || lastErrorCode == models.CodeDetectorNotInitialized:
		outcome = models.OutcomeError
	}

	ctx := context.Background()
	var frameKey, faceKey string
	if fp.BestFrameImageB64 != "" {
		if data, err := base64.StdEncoding.DecodeString(fp.BestFrameImageB64); err == nil {
			frameKey = "sessions/" + sessionID.String() + "/frame.jpg"
			if err := h.minio.PutObject(ctx, frameKey, data, "image/jpeg"); err != nil {
				slog.Warn("upload best frame snapshot", "error", err)
				frameKey = ""
			}
		}
	}
	if fp.BestFaceImageB64 != "" {
		if data, err := base64.StdEncoding.DecodeString(fp.BestFaceImageB64); err == nil {
			faceKey = "sessions/" + sessionID.String() + "/face.jpg"
			if err := h.minio.PutObject(ctx, faceKey, data, "image/jpeg"); err != nil {
				slog.Warn("upload best face snapshot", "error", err)
				faceKey = ""
			}
		}
	}

	if len(embedding) > 0 {
		if match, err := h.db.NearestEmbedding(ctx, embedding, embeddingMatchThreshold); err != nil {
			slog.Warn("nearest embedding lookup", "session_id", sessionID, "error", err)
		} else if match != nil && match.SessionID != sessionID {
			slog.Info("session embedding matches a prior session's best frame",
				"session_id", sessionID, "matched_session_id", match.SessionID, "track_id", match.TrackID, "score", match.Score)
		}
	}

	if err := h.db.FinishSession(ctx, sessionID, outcome, fp, frameKey, faceKey, embedding); err != nil {
		slog.Error("finish session record", "session_id", sessionID, "error", err)
	}
}

// wsFrameSource adapts binary WebSocket frames into an engine.FrameSource.
// Reads happen on a background goroutine so NextFrame can honor context
// cancellation by closing the connection out from under a blocked read.
type wsFrameSource struct {
	conn      *websocket.Conn
	ops       imageops.Ops
	frames    chan wsDecodedFrame
	errCh     chan error
	startedAt time.Time
}

type wsDecodedFrame struct {
	img *models.Image
	ts  int64
}

func newWSFrameSource(conn *websocket.Conn, ops imageops.Ops) *wsFrameSource {
	s := &wsFrameSource{
		conn:      conn,
		ops:       ops,
		frames:    make(chan wsDecodedFrame, 4),
		errCh:     make(chan error, 1),
		startedAt: time.Now(),
	}
	go s.readLoop()
	return s
}

func (s *wsFrameSource) readLoop() {
	defer close(s.frames)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errCh <- err:
			default:
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		img, decodeErr := s.ops.FromBytes(data)
		if decodeErr != nil {
			slog.Warn("decode ws frame", "error", decodeErr)
			continue
		}
		s.frames <- wsDecodedFrame{img: img, ts: time.Since(s.startedAt).Milliseconds()}
	}
}

func (s *wsFrameSource) NextFrame(ctx context.Context) (*models.Image, int64, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, 0, io.EOF
		}
		return f.img, f.ts, nil
	case <-s.errCh:
		return nil, 0, io.EOF
	case <-ctx.Done():
		_ = s.conn.Close()
		return nil, 0, ctx.Err()
	}
}

func (s *wsFrameSource) Close() {
	_ = s.conn.Close()
}

var _ engine.FrameSource = (*wsFrameSource)(nil)
