package ownership

import (
	"net/http"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts application namespace operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, resolver *Resolver) {
	handler := &httpHandler{resolver: resolver}
	group.POST("/apps/:appID/root", handler.ensureRoot)
	group.PUT("/apps/:appID/main-folder", handler.setMainFolder)
}

type httpHandler struct {
	resolver *Resolver
}

type ensureRootRequest struct {
	Name string `json:"name"`
}

type setMainFolderRequest struct {
	FolderID string `json:"folder_id" binding:"required"`
}

func (h *httpHandler) ensureRoot(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	var req ensureRootRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
	}

	root, err := h.resolver.GetOrCreateAppRoot(c.Request.Context(), ownerID, c.Param("appID"), req.Name)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, root)
}

func (h *httpHandler) setMainFolder(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	var req setMainFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}
	folderID, err := uuid.Parse(req.FolderID)
	if err != nil {
		apperr.BadRequest(c, "invalid folder id")
		return
	}

	folder, err := h.resolver.SetMainFolder(c.Request.Context(), ownerID, c.Param("appID"), folderID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, folder)
}
