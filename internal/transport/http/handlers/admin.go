package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

// IPBlockManager bans and unbans client addresses.
type IPBlockManager interface {
	Block(ctx context.Context, req usecase.BlockIPRequest) (time.Duration, error)
	Unblock(ctx context.Context, ip string) error
}

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	blocks IPBlockManager
	logger *zap.Logger
	now    func() time.Time
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(blocks IPBlockManager, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{blocks: blocks, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// BlockIP handles POST /v1/admin/ip-blocks.
func (h *AdminHandler) BlockIP(c *gin.Context) {
	var req BlockIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	duration, err := h.blocks.Block(c.Request.Context(), usecase.BlockIPRequest{
		IP:       req.IPAddress,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Reason:   req.Reason,
		ActorIP:  middleware.GetRequestContext(c).IP,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, BlockIPResponse{
		IPAddress:       req.IPAddress,
		DurationMinutes: int(duration / time.Minute),
		BlockedUntil:    h.now().Add(duration),
	})
}

// UnblockIP handles DELETE /v1/admin/ip-blocks/:ip.
func (h *AdminHandler) UnblockIP(c *gin.Context) {
	if err := h.blocks.Unblock(c.Request.Context(), c.Param("ip")); err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
