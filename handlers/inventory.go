package handlers

import (
	"net/http"
	"time"

	"tably/config"
	"tably/models"
	"tably/services/inventory"

	"github.com/gin-gonic/gin"
)

// InventoryHandler exposes availability queries and resource management.
type InventoryHandler struct {
	Engine inventory.ReservationEngine
}

func NewInventoryHandler(engine inventory.ReservationEngine) *InventoryHandler {
	return &InventoryHandler{Engine: engine}
}

func (h *InventoryHandler) CheckAvailability(c *gin.Context) {
	var req inventory.CheckAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	result, err := h.Engine.CheckAvailability(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InventoryHandler) RegisterResource(c *gin.Context) {
	var resource models.Resource
	if err := c.ShouldBindJSON(&resource); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	if resource.VenueID == "" || resource.Capacity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venue_id and a positive capacity are required"})
		return
	}

	if err := h.Engine.RegisterResource(c.Request.Context(), &resource); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resource)
}

func (h *InventoryHandler) ListResources(c *gin.Context) {
	venueID := c.Query("venue_id")
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venue_id query parameter is required"})
		return
	}

	resources, err := h.Engine.ListResources(c.Request.Context(), venueID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

func (h *InventoryHandler) GetHold(c *gin.Context) {
	hold, err := h.Engine.GetHold(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}

// CreateHold places a soft reservation on a resource for a time window.
func (h *InventoryHandler) CreateHold(c *gin.Context) {
	var req struct {
		ResourceID string            `json:"resource_id"`
		BookingID  string            `json:"booking_id"`
		Window     models.TimeWindow `json:"window"`
		TTLMinutes int               `json:"ttl_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	if req.ResourceID == "" || req.BookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id and booking_id are required"})
		return
	}

	ttl := config.HoldTTL()
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	hold, err := h.Engine.Hold(c.Request.Context(), req.ResourceID, req.BookingID, req.Window, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hold)
}

// ConfirmHold pins a held reservation behind a confirmed booking.
func (h *InventoryHandler) ConfirmHold(c *gin.Context) {
	id := c.Param("id")
	if err := h.Engine.ConfirmHold(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	hold, err := h.Engine.GetHold(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}

func (h *InventoryHandler) ReleaseHold(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	// Body is optional for release.
	_ = c.ShouldBindJSON(&input)
	if input.Reason == "" {
		input.Reason = "released by caller"
	}

	id := c.Param("id")
	if err := h.Engine.Release(c.Request.Context(), id, input.Reason); err != nil {
		respondError(c, err)
		return
	}
	hold, err := h.Engine.GetHold(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}
