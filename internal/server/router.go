package server

import (
	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/abduss/appdrive/internal/config"
	"github.com/abduss/appdrive/internal/logger"
	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/ownership"
	"github.com/abduss/appdrive/internal/share"
	"github.com/abduss/appdrive/internal/tree"
	"github.com/abduss/appdrive/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config    config.Config
	Log       *zap.Logger
	DB        Pinger
	Blobs     Pinger
	Verifier  auth.Verifier
	Accounts  *account.Service
	Ownership *ownership.Resolver
	Tree      *tree.Service
	Uploads   *upload.Service
	Shares    *share.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(logger.AccessLog(log))
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	if deps.Shares != nil {
		share.RegisterPublicRoutes(router.Group("/s"), deps.Shares)
	}

	if deps.Verifier == nil {
		return router
	}

	protected := router.Group("/v1")
	protected.Use(auth.Middleware(deps.Verifier))

	if deps.Accounts != nil {
		account.RegisterRoutes(protected, deps.Accounts)

		admin := protected.Group("/admin")
		admin.Use(auth.RequireAdmin())
		account.RegisterAdminRoutes(admin, deps.Accounts)
	}
	if deps.Ownership != nil {
		ownership.RegisterRoutes(protected, deps.Ownership)
	}
	if deps.Tree != nil {
		tree.RegisterRoutes(protected, deps.Tree)
	}
	if deps.Uploads != nil {
		upload.RegisterRoutes(protected, deps.Uploads)
	}
	if deps.Shares != nil {
		share.RegisterRoutes(protected, deps.Shares)
	}

	return router
}
