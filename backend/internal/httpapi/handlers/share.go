package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"canvasCollab/backend/internal/share"
)

// ShareHandler 分享快照的服务端接口：只收发密文，密钥永远不经过这里
type ShareHandler struct {
	svc     *share.Service
	maxBody int64
}

func NewShareHandler(svc *share.Service, maxBody int64) *ShareHandler {
	return &ShareHandler{svc: svc, maxBody: maxBody}
}

func (h *ShareHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/share", h.Create)
	rg.GET("/share/:id", h.Get)
	rg.DELETE("/share/:id", h.Revoke)
}

// Create 请求体为密文；?sceneRef=&ttl=<秒>，X-Creator-Id 记录创建者
func (h *ShareHandler) Create(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": share.CodeUpload, "message": "read body failed"})
		return
	}
	if int64(len(body)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": share.CodeUpload, "message": "snapshot too large"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": share.CodeEncode, "message": "empty snapshot"})
		return
	}

	opts := share.CreateOptions{
		SceneRef:  c.Query("sceneRef"),
		CreatedBy: c.GetHeader("X-Creator-Id"),
	}
	if raw := c.Query("ttl"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": share.CodeEncode, "message": "ttl must be a positive number of seconds"})
			return
		}
		opts.TTL = time.Duration(secs) * time.Second
	}

	snap, err := h.svc.StoreCiphertext(c.Request.Context(), body, opts)
	if err != nil {
		writeShareError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *ShareHandler) Get(c *gin.Context) {
	data, _, err := h.svc.FetchCiphertext(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeShareError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *ShareHandler) Revoke(c *gin.Context) {
	if err := h.svc.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		writeShareError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeShareError(c *gin.Context, err error) {
	code := share.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case share.CodeNotFound:
		status = http.StatusNotFound
	case share.CodeRevoked, share.CodeExpired:
		status = http.StatusGone
	case share.CodeUpload, share.CodePersist, share.CodeFetch:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}
