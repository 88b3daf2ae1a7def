package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sssxyd/face-liveness-detector/internal/api/handlers"
	"github.com/sssxyd/face-liveness-detector/internal/api/ws"
	"github.com/sssxyd/face-liveness-detector/internal/auth"
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/queue"
	"github.com/sssxyd/face-liveness-detector/internal/sessionmgr"
	"github.com/sssxyd/face-liveness-detector/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Pool     *sessionmgr.Pool
	Registry *sessionmgr.Registry
	Ops      imageops.Ops
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// Detection WebSocket — client streams frames in, receives detector-*
	// events back over the same connection.
	detectH := ws.NewDetectHandler(cfg.Pool, cfg.Registry, cfg.Ops, cfg.DB, cfg.MinIO, cfg.Producer)
	v1.GET("/detect", detectH.HandleWS)

	// Monitoring feed — subscribe to every persisted detector-* event,
	// optionally filtered to one session_id.
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Sessions
	sessionH := handlers.NewSessionHandler(cfg.DB, cfg.MinIO, cfg.Registry)
	v1.GET("/sessions", sessionH.List)
	v1.GET("/sessions/:id", sessionH.Get)
	v1.POST("/sessions/:id/stop", sessionH.Stop)
	v1.GET("/sessions/:id/events", sessionH.Events)
	v1.GET("/sessions/:id/frame", sessionH.Frame)
	v1.GET("/sessions/:id/face", sessionH.Face)

	return r
}
