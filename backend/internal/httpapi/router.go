package httpapi

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"canvasCollab/backend/internal/collab"
	"canvasCollab/backend/internal/httpapi/handlers"
	"canvasCollab/backend/internal/share"
	"canvasCollab/backend/internal/ws"
)

type Deps struct {
	Manager        *ws.Manager
	Hub            *ws.Hub
	Shares         *share.Service
	Scenes         *collab.Service
	AllowedOrigins []string
	MaxBodyBytes   int64
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(d.AllowedOrigins))

	r.GET("/ws", d.Manager.WebSocketConnect)
	r.GET("/healthz", handlers.Healthz)
	r.GET("/metrics", handlers.Metrics(d.Hub))

	v2 := r.Group("/api/v2")
	handlers.NewShareHandler(d.Shares, d.MaxBodyBytes).Register(v2)
	handlers.NewSceneHandler(d.Scenes).Register(v2)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Creator-Id", "X-Patch-Source"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
