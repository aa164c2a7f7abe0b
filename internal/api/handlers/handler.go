package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/service"
	"github.com/openfleet/dispatchmap/pkg/ws"
)

// Handler exposes the session's query surface to the rendering layer.
type Handler struct {
	logger   *zap.Logger
	session  *service.Session
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the HTTP handler set.
func NewHandler(logger *zap.Logger, session *service.Session, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger:  logger,
		session: session,
		wsHub:   wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dev; viewers sit behind the same origin in prod
			},
		},
	}
}

// RegisterRoutes registers the API surface.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/drivers", h.ListDrivers)
		api.GET("/drivers/:id", h.GetDriver)
		api.GET("/clusters", h.GetClusters)
		api.GET("/nearby", h.FindNearby)

		api.GET("/connection", h.GetConnection)
		api.POST("/connection/retry", h.RetryConnection)
		api.POST("/connection/clear-error", h.ClearError)
	}

	// WebSocket for live viewer updates
	r.GET("/ws", h.HandleWebSocket)

	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket joins a viewer to the broadcast hub.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck reports process liveness plus the upstream channel state.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
		"connection": h.session.ConnectionState(),
	})
}
