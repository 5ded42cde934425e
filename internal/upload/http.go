package upload

import (
	"net/http"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts the upload flow under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/apps/:appID/uploads", handler.presign)
	group.GET("/uploads/:sessionID", handler.get)
	group.POST("/uploads/:sessionID/confirm", handler.confirm)
	group.POST("/uploads/:sessionID/fail", handler.fail)
}

type httpHandler struct {
	service *Service
}

type presignRequest struct {
	ParentID  *string `json:"parent_id"`
	FileName  string  `json:"file_name" binding:"required"`
	SizeBytes int64   `json:"size_bytes" binding:"required"`
	MimeType  string  `json:"mime_type"`
}

type confirmRequest struct {
	SizeBytes *int64 `json:"size_bytes"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) presign(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	var req presignRequest
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

	result, err := h.service.Presign(c.Request.Context(), ownerID, PresignRequest{
		AppID:     c.Param("appID"),
		ParentID:  parentID,
		FileName:  req.FileName,
		SizeBytes: req.SizeBytes,
		MimeType:  req.MimeType,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) get(c *gin.Context) {
	ownerID, sessionID, ok := ownerAndSession(c)
	if !ok {
		return
	}

	session, err := h.service.Get(c.Request.Context(), ownerID, sessionID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) confirm(c *gin.Context) {
	ownerID, sessionID, ok := ownerAndSession(c)
	if !ok {
		return
	}

	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
	}

	file, err := h.service.Confirm(c.Request.Context(), ownerID, sessionID, req.SizeBytes)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, file)
}

func (h *httpHandler) fail(c *gin.Context) {
	ownerID, sessionID, ok := ownerAndSession(c)
	if !ok {
		return
	}

	var req failRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
	}

	session, err := h.service.Fail(c.Request.Context(), ownerID, sessionID, req.Reason)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func ownerAndSession(c *gin.Context) (string, uuid.UUID, bool) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return "", uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("sessionID"))
	if err != nil {
		apperr.BadRequest(c, "invalid session id")
		return "", uuid.Nil, false
	}
	return ownerID, sessionID, true
}
