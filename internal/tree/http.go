package tree

import (
	"net/http"
	"strconv"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts tree operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/apps/:appID/folders", handler.createFolder)
	group.GET("/nodes/:nodeID/children", handler.listChildren)
	group.PATCH("/nodes/:nodeID", handler.rename)
	group.DELETE("/nodes/:nodeID", handler.delete)
	group.POST("/nodes/:nodeID/restore", handler.restore)
	group.GET("/nodes/:nodeID/download", handler.download)
	group.GET("/trash", handler.listTrash)
	group.POST("/trash/purge", handler.purgeTrash)
}

type httpHandler struct {
	service *Service
}

type createFolderRequest struct {
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name" binding:"required"`
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *httpHandler) createFolder(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil && *req.ParentID != "" {
		id, err := uuid.Parse(*req.ParentID)
		if err != nil {
			apperr.BadRequest(c, "invalid parent id")
			return
		}
		parentID = &id
	}

	folder, err := h.service.CreateFolder(c.Request.Context(), ownerID, c.Param("appID"), parentID, req.Name)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, folder)
}

func (h *httpHandler) listChildren(c *gin.Context) {
	ownerID, nodeID, ok := ownerAndNode(c)
	if !ok {
		return
	}

	children, err := h.service.ListChildren(c.Request.Context(), ownerID, nodeID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"children": children})
}

func (h *httpHandler) rename(c *gin.Context) {
	ownerID, nodeID, ok := ownerAndNode(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	n, err := h.service.Rename(c.Request.Context(), ownerID, nodeID, req.Name)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *httpHandler) delete(c *gin.Context) {
	ownerID, nodeID, ok := ownerAndNode(c)
	if !ok {
		return
	}

	permanent, err := strconv.ParseBool(c.DefaultQuery("permanent", "false"))
	if err != nil {
		apperr.BadRequest(c, "permanent must be a boolean")
		return
	}

	if permanent {
		result, err := h.service.DeleteRecursive(c.Request.Context(), ownerID, nodeID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	n, err := h.service.SoftDelete(c.Request.Context(), ownerID, nodeID, 0)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *httpHandler) restore(c *gin.Context) {
	ownerID, nodeID, ok := ownerAndNode(c)
	if !ok {
		return
	}

	n, err := h.service.Restore(c.Request.Context(), ownerID, nodeID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *httpHandler) download(c *gin.Context) {
	ownerID, nodeID, ok := ownerAndNode(c)
	if !ok {
		return
	}

	url, err := h.service.DownloadURL(c.Request.Context(), ownerID, nodeID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *httpHandler) listTrash(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	nodes, err := h.service.ListTrash(c.Request.Context(), ownerID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": nodes})
}

func (h *httpHandler) purgeTrash(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	purged, err := h.service.PurgeExpiredTrash(c.Request.Context(), ownerID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func ownerAndNode(c *gin.Context) (string, uuid.UUID, bool) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return "", uuid.Nil, false
	}
	nodeID, err := uuid.Parse(c.Param("nodeID"))
	if err != nil {
		apperr.BadRequest(c, "invalid node id")
		return "", uuid.Nil, false
	}
	return ownerID, nodeID, true
}
