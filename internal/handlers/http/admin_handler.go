package http

import (
	"context"
	"net/http"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// SessionAdmin is the registry surface the admin API needs.
type SessionAdmin interface {
	ListSessions(ctx context.Context) []domain.SessionInfo
	GetSession(ctx context.Context, sessionID domain.SessionID) (*domain.SessionInfo, error)
	ForceEndSession(ctx context.Context, sessionID domain.SessionID) error
}

// ConnectionCounter reports live signaling connections for health output.
type ConnectionCounter interface {
	ConnectionCount() int
}

// AdminHandler exposes the operator API: session inventory, forced
// session teardown, recording state and a health probe.
type AdminHandler struct {
	sessions  SessionAdmin
	recording ports.RecordingService
	recorder  ports.RecorderClient
	signal    ConnectionCounter
}

func NewAdminHandler(sessions SessionAdmin, recording ports.RecordingService, recorder ports.RecorderClient, signal ConnectionCounter) *AdminHandler {
	return &AdminHandler{
		sessions:  sessions,
		recording: recording,
		recorder:  recorder,
		signal:    signal,
	}
}

// SetupRoutes registers the admin routes. Health stays outside the
// authenticated group so load balancers can probe it.
func (h *AdminHandler) SetupRoutes(router *gin.Engine, authed gin.HandlerFunc) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1", authed)
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.EndSession)
		api.GET("/sessions/:id/recordings", h.GetRecordings)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": h.signal.ConnectionCount(),
		"sessions":    len(h.sessions.ListSessions(c.Request.Context())),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.recorder.Status(ctx); err != nil {
		resp["recorder"] = "unreachable"
	} else {
		resp["recorder"] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.ListSessions(c.Request.Context()),
	})
}

func (h *AdminHandler) GetSession(c *gin.Context) {
	info, err := h.sessions.GetSession(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": info})
}

func (h *AdminHandler) EndSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	if err := h.sessions.ForceEndSession(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": sessionID})
}

func (h *AdminHandler) GetRecordings(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	if _, err := h.sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"recordings": h.recording.Active(sessionID),
	})
}
