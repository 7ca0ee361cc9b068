package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"canvasCollab/backend/internal/ws"
)

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type StatsSource interface {
	Snapshot() ws.StatsSnapshot
}

// Metrics 纯文本 "<name> <value>"，读取不改变任何计数
func Metrics(src StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
		_ = src.Snapshot().WriteText(c.Writer)
	}
}
