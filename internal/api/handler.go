package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/models"
	"branch-ops-service/internal/redisclient"
	"branch-ops-service/internal/service"
	"branch-ops-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsService owns the branch metrics snapshots
type MetricsService interface {
	ApplyEvent(ctx context.Context, branchID, event string, data json.RawMessage, at time.Time) (aggregator.Snapshot, error)
	Snapshot(branchID string) (aggregator.Snapshot, bool)
	Snapshots() []aggregator.Snapshot
	ResetDay(branchID string) (aggregator.Snapshot, bool)
	Subscribe(branchID string, buffer int) (<-chan aggregator.Snapshot, func())
}

// Synchronizer applies kitchen sync actions
type Synchronizer interface {
	Synchronize(ctx context.Context, req service.SyncRequest) (*service.SyncResult, error)
}

// ReservationConverter seats reservations
type ReservationConverter interface {
	ConvertReservation(ctx context.Context, req *service.ConvertRequest) (*service.ConversionResult, error)
}

// SnapshotReader reads mirrored snapshots written by another replica
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, branchID string) ([]byte, error)
}

// Handler contains HTTP handlers
type Handler struct {
	metrics      MetricsService
	sync         Synchronizer
	reservations ReservationConverter
	sessions     SessionProvider
	mirror       SnapshotReader
	checks       map[string]func(context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(metrics MetricsService, sync Synchronizer, reservations ReservationConverter, sessions SessionProvider) *Handler {
	return &Handler{
		metrics:      metrics,
		sync:         sync,
		reservations: reservations,
		sessions:     sessions,
		checks:       make(map[string]func(context.Context) error),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

// UseSnapshotMirror serves mirrored snapshots for branches this replica has not seen
func (h *Handler) UseSnapshotMirror(mirror SnapshotReader) {
	h.mirror = mirror
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(sessionMiddleware(h.sessions))
	{
		v1.POST("/webhooks/branch-events", h.ingestBranchEvent)

		v1.POST("/kitchen/sync", h.syncKitchenOrder)
		v1.PUT("/kitchen/sync", h.syncKitchenOrder)

		v1.POST("/reservations/:id/convert", h.convertReservation)

		v1.GET("/branches/metrics", h.listBranchMetrics)
		v1.GET("/branches/:branchId/metrics", h.getBranchMetrics)
		v1.GET("/branches/:branchId/metrics/stream", h.streamBranchMetrics)
		v1.POST("/branches/:branchId/metrics/reset", h.resetBranchMetrics)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ingestBranchEvent folds a webhook event into the branch snapshot
func (h *Handler) ingestBranchEvent(c *gin.Context) {
	var event models.BranchEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if event.Event == "" || event.BranchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: event, branchId"})
		return
	}

	if _, err := h.metrics.ApplyEvent(c.Request.Context(), event.BranchID, event.Event, event.Data, event.OccurredAt()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"event":     event.Event,
		"branchId":  event.BranchID,
		"processed": true,
	})
}

type syncRequest struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	Status         string `json:"status"`
	Action         string `json:"action"`
	TransactionID  string `json:"transactionId"`
	TableID        string `json:"tableId"`
}

// statusActions lets callers send the target kitchen status instead of an action
var statusActions = map[string]service.Action{
	models.KitchenStatusPreparing: service.ActionStartCooking,
	models.KitchenStatusReady:     service.ActionMarkReady,
	models.KitchenStatusServed:    service.ActionServeOrder,
	models.KitchenStatusCancelled: service.ActionCancelOrder,
}

// syncKitchenOrder applies one sync action to a kitchen order and its linked entities
func (h *Handler) syncKitchenOrder(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
			"error":   err.Error(),
		})
		return
	}

	if req.Action == "" {
		if action, ok := statusActions[req.Status]; ok {
			req.Action = string(action)
		}
	}
	if req.KitchenOrderID == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Missing required fields: kitchenOrderId, action",
		})
		return
	}

	result, err := h.sync.Synchronize(c.Request.Context(), service.SyncRequest{
		KitchenOrderID: req.KitchenOrderID,
		TransactionID:  req.TransactionID,
		TableID:        req.TableID,
		Action:         req.Action,
	})
	if err != nil {
		writeError(c, "Failed to synchronize kitchen order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Kitchen order synchronized: %s", result.Action),
		"data": gin.H{
			"action": result.Action,
			"updates": gin.H{
				"kitchen": nullable(result.Updates.Kitchen),
				"pos":     nullable(result.Updates.POS),
				"table":   nullable(result.Updates.Table),
			},
			"kitchenOrderId":   result.KitchenOrderID,
			"posTransactionId": nullable(result.TransactionID),
			"tableId":          nullable(result.TableID),
			"tableNumber":      nullable(result.TableNumber),
		},
	})
}

// convertReservation seats a reservation and opens its order
func (h *Handler) convertReservation(c *gin.Context) {
	var req service.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
			"error":   err.Error(),
		})
		return
	}
	req.ReservationID = c.Param("id")
	if req.CreatedBy == "" {
		if session, ok := SessionFromContext(c); ok {
			req.CreatedBy = session.UserID
		}
	}

	result, err := h.reservations.ConvertReservation(c.Request.Context(), &req)
	if err != nil {
		writeError(c, "Failed to convert reservation", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Reservation converted",
		"data": gin.H{
			"reservationId":    result.ReservationID,
			"tableId":          result.TableID,
			"tableNumber":      result.TableNumber,
			"posTransactionId": nullable(result.TransactionID),
			"kitchenOrderId":   nullable(result.KitchenOrderID),
			"orderNumber":      nullable(result.OrderNumber),
			"totalAmount":      result.TotalAmount,
		},
	})
}

// getBranchMetrics returns the current snapshot of one branch
func (h *Handler) getBranchMetrics(c *gin.Context) {
	branchID := c.Param("branchId")
	if snap, ok := h.metrics.Snapshot(branchID); ok {
		c.JSON(http.StatusOK, snap)
		return
	}

	if h.mirror != nil {
		body, err := h.mirror.GetSnapshot(c.Request.Context(), branchID)
		if err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			util.GetLogger().Warn("Failed to read mirrored snapshot",
				zap.String("branch_id", branchID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "No metrics recorded for branch"})
}

// listBranchMetrics returns every branch snapshot
func (h *Handler) listBranchMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"branches": h.metrics.Snapshots()})
}

// resetBranchMetrics zeroes the day counters of a branch
func (h *Handler) resetBranchMetrics(c *gin.Context) {
	snap, ok := h.metrics.ResetDay(c.Param("branchId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No metrics recorded for branch"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// streamBranchMetrics pushes every snapshot update as a server-sent event
func (h *Handler) streamBranchMetrics(c *gin.Context) {
	branchID := c.Param("branchId")
	updates, cancel := h.metrics.Subscribe(branchID, 16)
	defer cancel()

	if snap, ok := h.metrics.Snapshot(branchID); ok {
		c.SSEvent("snapshot", snap)
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}

// writeError maps the service error kinds onto HTTP status codes
func writeError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"success": false,
		"message": message,
		"error":   err.Error(),
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
