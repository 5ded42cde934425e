package account

import (
	"net/http"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the caller's quota endpoint.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/account/quota", handler.getQuota)
}

// RegisterAdminRoutes mounts operator endpoints; group must already enforce admin access.
func RegisterAdminRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.PUT("/accounts/:uid/plan", handler.changePlan)
	group.PUT("/accounts/:uid/status", handler.setStatus)
}

type httpHandler struct {
	service *Service
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *httpHandler) getQuota(c *gin.Context) {
	uid, ok := auth.RequireSubject(c)
	if !ok {
		return
	}

	quota, err := h.service.Snapshot(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, quota)
}

func (h *httpHandler) changePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	acct, err := h.service.ChangePlan(c.Request.Context(), c.Param("uid"), req.PlanID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, acct)
}

func (h *httpHandler) setStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BadRequest(c, err.Error())
		return
	}

	acct, err := h.service.SetStatus(c.Request.Context(), c.Param("uid"), Status(req.Status))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, acct)
}
