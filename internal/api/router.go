// Package api exposes the daemon's read-only status surface: session
// inventory, pending approvals and the gateway link snapshot. All
// mutation happens through the messaging transport, never over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// SetupRoutes configures the status API routes.
func SetupRoutes(router *gin.RouterGroup, deps Deps, log *logger.Logger) {
	handler := NewHandler(deps, log)

	router.GET("/sessions", handler.ListSessions)
	router.GET("/approvals", handler.ListApprovals)
	router.GET("/transport", handler.TransportStatus)
}
