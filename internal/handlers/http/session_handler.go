package http

import (
	"net/http"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"
	"djlive/internal/core/services"
	"djlive/internal/infrastructure/middleware"
	"djlive/internal/infrastructure/signal"

	"github.com/gin-gonic/gin"
)

// SessionHandler is the read-mostly HTTP surface for admin and status
// screens. All mutation of broadcast state flows through the signaling
// channel; the only write here is the moderator force-release.
type SessionHandler struct {
	arbitrator  ports.SessionArbitrator
	relay       *signal.Server
	authService services.AuthService
}

func NewSessionHandler(
	arbitrator ports.SessionArbitrator,
	relay *signal.Server,
	authService services.AuthService,
) *SessionHandler {
	return &SessionHandler{
		arbitrator:  arbitrator,
		relay:       relay,
		authService: authService,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.GET("/session", h.GetSession)
		api.GET("/listeners", h.GetListeners)

		admin := api.Group("")
		admin.Use(middleware.RequireCapability(domain.CapabilityAdmin))
		{
			admin.POST("/session/release", h.ForceRelease)
		}
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.arbitrator.CurrentState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if session == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":  true,
		"session": session,
	})
}

func (h *SessionHandler) GetListeners(c *gin.Context) {
	count, err := h.relay.ListenerCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listener_count": count,
		"parties":        h.relay.ConnectedParties(),
	})
}

// ForceRelease ends the active session on behalf of its holder. Used by
// moderators when a broadcaster is gone but their session lingers.
func (h *SessionHandler) ForceRelease(c *gin.Context) {
	session, err := h.arbitrator.CurrentState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	if err := h.arbitrator.ReleaseRole(c.Request.Context(), session.BroadcasterID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true, "session_id": session.ID})
}
