package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openfleet/dispatchmap/internal/models"
)

// ListDrivers returns the current location/status snapshot.
func (h *Handler) ListDrivers(c *gin.Context) {
	snap := h.session.Snapshot()
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GetDriver returns one driver's record from the snapshot.
func (h *Handler) GetDriver(c *gin.Context) {
	id := c.Param("id")

	snap := h.session.Snapshot()
	rec, ok := snap.Drivers[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "driver not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// GetClusters runs a recompute at the requested zoom and returns the derived
// cluster view.
func (h *Handler) GetClusters(c *gin.Context) {
	zoom, err := strconv.ParseFloat(c.DefaultQuery("zoom", "12"), 64)
	if err != nil || zoom < 0 || zoom > 22 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zoom"})
		return
	}

	clusters := h.session.Recompute(zoom)
	c.JSON(http.StatusOK, gin.H{"data": clusters, "zoom": zoom})
}

// FindNearby answers a bounded nearby-drivers query.
func (h *Handler) FindNearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid center"})
		return
	}
	center := models.LatLng{Lat: lat, Lng: lng}
	if !center.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "center out of range"})
		return
	}

	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "2000"), 64)
	if err != nil || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	drivers := h.session.FindNearby(ctx, center, radius, limit)
	c.JSON(http.StatusOK, gin.H{"data": drivers})
}

// GetConnection reports the channel state, quality and last error.
func (h *Handler) GetConnection(c *gin.Context) {
	var lastErr string
	if err := h.session.LastError(); err != nil {
		lastErr = err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"state":              h.session.ConnectionState(),
		"quality":            h.session.ConnectionQuality(),
		"reconnect_attempts": h.session.ReconnectAttempts(),
		"last_error":         lastErr,
	})
}

// RetryConnection clears the error slot and forces a fresh dial. The retry
// must outlive this request, so it is not tied to the request context.
func (h *Handler) RetryConnection(c *gin.Context) {
	h.session.Retry(context.Background())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ClearError resets the last-error slot without touching the connection.
func (h *Handler) ClearError(c *gin.Context) {
	h.session.ClearError()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
