package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/approval"
	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/session/lifecycle"
	"github.com/drawbridge/drawbridge/internal/session/models"
	"github.com/drawbridge/drawbridge/internal/transport"
)

// Deps are the services the status API reads from.
type Deps struct {
	Sessions  *lifecycle.Service
	Approvals *approval.Ledger
	Transport *transport.Manager
}

// Handler contains HTTP handlers for the status API.
type Handler struct {
	deps   Deps
	logger *logger.Logger
}

// NewHandler creates a new status API handler.
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: log,
	}
}

// SessionResponse is the wire shape of one session. The internal
// context blob (activity log, recovery stamps) stays private.
type SessionResponse struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path"`
	ThreadID    string    `json:"thread_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionsListResponse wraps the session inventory.
type SessionsListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

// ApprovalsListResponse wraps the pending approval requests.
type ApprovalsListResponse struct {
	Approvals []*approval.Request `json:"approvals"`
	Total     int                 `json:"total"`
}

// ListSessions returns every session in the store, newest first.
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.deps.Sessions.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		appErr := errors.InternalError("failed to list sessions", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := SessionsListResponse{
		Sessions: make([]*SessionResponse, len(sessions)),
		Total:    len(sessions),
	}
	for i, s := range sessions {
		resp.Sessions[i] = sessionToResponse(s)
	}

	c.JSON(http.StatusOK, resp)
}

// ListApprovals returns the approval requests still waiting for a
// decision.
// GET /api/v1/approvals
func (h *Handler) ListApprovals(c *gin.Context) {
	pending := h.deps.Approvals.ListPending()

	c.JSON(http.StatusOK, ApprovalsListResponse{
		Approvals: pending,
		Total:     len(pending),
	})
}

// TransportStatus returns a snapshot of the gateway link: connection
// state, reconnect attempt counter, outbound buffer depth and the rate
// limiter escalation level.
// GET /api/v1/transport
func (h *Handler) TransportStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Transport.Status())
}

func sessionToResponse(s *models.Session) *SessionResponse {
	return &SessionResponse{
		ID:          s.ID,
		ProjectPath: s.ProjectPath,
		ThreadID:    s.ThreadID,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
