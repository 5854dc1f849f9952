package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout bounds the store ping and queue count.
	HealthCheckTimeout = 2 * time.Second
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpenTicketCounter reports the size of the reviewer queue.
type OpenTicketCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	store     Pinger
	tickets   OpenTicketCounter
	startTime time.Time
	env       string
	storeName string
}

// NewHealthHandler creates a new HealthHandler instance. storeName is the
// configured store driver, reported by Info.
func NewHealthHandler(store Pinger, tickets OpenTicketCounter, env, storeName string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		tickets:   tickets,
		startTime: time.Now(),
		env:       env,
		storeName: storeName,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Store       string `json:"store"`
	Uptime      string `json:"uptime"`
	OpenTickets *int   `json:"open_tickets,omitempty"`
}

// Health handles GET /health. Liveness only; no dependencies are checked.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// Ready handles GET /health/ready.
// Returns 503 while the store cannot be reached.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		if log := middleware.GetLogger(c); log != nil {
			log.Error("Store health check failed", err, map[string]interface{}{
				"timeout": HealthCheckTimeout.String(),
				"store":   h.storeName,
			})
		}

		c.JSON(http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Store:  "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, ReadyResponse{
		Status: "ready",
		Store:  "connected",
	})
}

// Info handles GET /api/v1/info.
// The open ticket count is omitted when the store cannot answer in time.
func (h *HealthHandler) Info(c *gin.Context) {
	resp := InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Store:       h.storeName,
		Uptime:      formatUptime(time.Since(h.startTime)),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()
	if n, err := h.tickets.CountOpen(ctx); err == nil {
		resp.OpenTickets = &n
	} else if log := middleware.GetLogger(c); log != nil {
		log.Warn("Open ticket count unavailable", map[string]interface{}{"error": err.Error()})
	}

	c.JSON(http.StatusOK, resp)
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
