package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/storage"
	"github.com/sssxyd/face-liveness-detector/pkg/dto"
)

// SessionRegistry looks up the live engine backing an in-progress session,
// so the API can force-stop it without going through its WebSocket.
type SessionRegistry interface {
	Stop(sessionID uuid.UUID, success bool) bool
}

type SessionHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	registry SessionRegistry
}

func NewSessionHandler(db *storage.PostgresStore, minio *storage.MinIOStore, registry SessionRegistry) *SessionHandler {
	return &SessionHandler{db: db, minio: minio, registry: registry}
}

func (h *SessionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := h.db.ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, dto.NewSessionResponse(s))
	}
	c.JSON(http.StatusOK, dto.SessionListResponse{Sessions: resp})
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := h.db.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(*sess))
}

// Stop force-stops a running session, recording success=false (caller-
// requested abort, not a natural pass/fail outcome).
func (h *SessionHandler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if !h.registry.Stop(id, false) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not active"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (h *SessionHandler) Events(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	events, err := h.db.ListSessionEvents(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SessionEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, dto.NewSessionEventResponse(e))
	}
	c.JSON(http.StatusOK, dto.SessionEventListResponse{Events: resp})
}

// Frame proxies the best captured full-frame snapshot from MinIO.
func (h *SessionHandler) Frame(c *gin.Context) {
	h.snapshot(c, func(s *models.Session) string { return s.FrameSnapshotKey })
}

// Face proxies the best captured cropped-face snapshot from MinIO.
func (h *SessionHandler) Face(c *gin.Context) {
	h.snapshot(c, func(s *models.Session) string { return s.FaceSnapshotKey })
}

func (h *SessionHandler) snapshot(c *gin.Context, key func(*models.Session) string) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := h.db.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	objectKey := key(sess)
	if objectKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for this session"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), objectKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}
