package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"canvasCollab/backend/internal/collab"
	"canvasCollab/backend/internal/scene"
)

type SceneHandler struct {
	svc *collab.Service
}

func NewSceneHandler(svc *collab.Service) *SceneHandler {
	return &SceneHandler{svc: svc}
}

func (h *SceneHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/scenes/:id", h.Get)
	rg.PUT("/scenes/:id", h.Save)
	rg.DELETE("/scenes/:id", h.Delete)
	rg.POST("/scenes/:id/patch", h.Patch)
}

func (h *SceneHandler) Get(c *gin.Context) {
	elements, fp, err := h.svc.Scene(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scene.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "scene not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"elements": elements, "fingerprint": fp})
}

type saveSceneRequest struct {
	Elements []scene.Element `json:"elements"`
}

func (h *SceneHandler) Save(c *gin.Context) {
	var req saveSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	skipped, fp, err := h.svc.SaveScene(c.Request.Context(), c.Param("id"), req.Elements)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": !skipped, "fingerprint": fp})
}

func (h *SceneHandler) Delete(c *gin.Context) {
	err := h.svc.DeleteScene(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scene.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "scene not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Patch 400 校验错误 / 409 需要变基 / 503 应用失败（可原样重试）
func (h *SceneHandler) Patch(c *gin.Context) {
	var patch collab.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": collab.CodeValidationFailed, "issues": []string{err.Error()}})
		return
	}

	res, err := h.svc.ApplyPatch(c.Request.Context(), c.Param("id"), patch, c.GetHeader("X-Patch-Source"))
	var (
		ve *collab.ValidationError
		re *collab.RebaseError
		ae *collab.ApplyError
	)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"code": collab.CodeValidationFailed, "issues": ve.Issues})
	case errors.As(err, &re):
		c.JSON(http.StatusConflict, gin.H{
			"code":               collab.CodeRebaseRequired,
			"conflicts":          re.Conflicts,
			"currentFingerprint": re.CurrentFingerprint,
		})
	case errors.As(err, &ae):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": collab.CodeApplyFailed, "message": ae.Err.Error()})
	case errors.Is(err, scene.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "scene not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
