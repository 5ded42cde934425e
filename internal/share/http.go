package share

import (
	"math"
	"net/http"
	"time"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts link management for authenticated owners.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/nodes/:nodeID/shares", handler.create)
	group.GET("/nodes/:nodeID/shares", handler.list)
	group.DELETE("/shares/:token", handler.revoke)
}

// RegisterPublicRoutes mounts the unauthenticated link endpoints.
func RegisterPublicRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/:token", handler.resolve)
	group.GET("/:token/download", handler.download)
}

type httpHandler struct {
	service *Service
}

// maxTTLSeconds is the largest ttl_seconds representable as a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

type createRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

func (h *httpHandler) create(c *gin.Context) {
	ownerID, fileID, ok := ownerAndFile(c)
	if !ok {
		return
	}

	var req createRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err.Error())
			return
		}
	}
	if req.TTLSeconds < 0 {
		apperr.BadRequest(c, "ttl_seconds must not be negative")
		return
	}
	if req.TTLSeconds > maxTTLSeconds {
		apperr.Respond(c, ErrInvalidTTL)
		return
	}

	link, err := h.service.Create(c.Request.Context(), ownerID, fileID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, link)
}

func (h *httpHandler) list(c *gin.Context) {
	ownerID, fileID, ok := ownerAndFile(c)
	if !ok {
		return
	}

	links, err := h.service.ListForFile(c.Request.Context(), ownerID, fileID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": links})
}

func (h *httpHandler) revoke(c *gin.Context) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	link, err := h.service.Revoke(c.Request.Context(), ownerID, c.Param("token"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

type publicFile struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	MimeType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *httpHandler) resolve(c *gin.Context) {
	resolved, err := h.service.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	// public callers see the file's metadata, never owner or tree details
	c.JSON(http.StatusOK, publicFile{
		Name:      resolved.File.Name,
		SizeBytes: resolved.File.SizeBytes(),
		MimeType:  resolved.File.File.MimeType,
		ExpiresAt: resolved.Link.ExpiresAt,
	})
}

func (h *httpHandler) download(c *gin.Context) {
	dl, err := h.service.Download(c.Request.Context(), c.Param("token"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Redirect(http.StatusFound, dl.URL)
}

func ownerAndFile(c *gin.Context) (string, uuid.UUID, bool) {
	ownerID, ok := auth.RequireSubject(c)
	if !ok {
		return "", uuid.Nil, false
	}
	fileID, err := uuid.Parse(c.Param("nodeID"))
	if err != nil {
		apperr.BadRequest(c, "invalid node id")
		return "", uuid.Nil, false
	}
	return ownerID, fileID, true
}
