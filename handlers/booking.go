package handlers

import (
	"net/http"

	"tably/middleware"
	"tably/services/booking"

	"github.com/gin-gonic/gin"
)

// BookingHandler exposes the booking lifecycle endpoints.
type BookingHandler struct {
	Coordinator booking.Coordinator
}

func NewBookingHandler(coordinator booking.Coordinator) *BookingHandler {
	return &BookingHandler{Coordinator: coordinator}
}

// CreateBooking runs the booking saga for the calling guest.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req booking.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.GuestID = middleware.GuestID(c)
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	created, err := h.Coordinator.CreateBooking(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	b, err := h.Coordinator.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) GetByReference(c *gin.Context) {
	b, err := h.Coordinator.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	bookings, err := h.Coordinator.ListByGuest(c.Request.Context(), middleware.GuestID(c), 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = c.ShouldBindJSON(&input)
	if input.Reason == "" {
		input.Reason = "cancelled by guest"
	}

	b, err := h.Coordinator.CancelBooking(c.Request.Context(), c.Param("id"), input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) CheckIn(c *gin.Context) {
	b, err := h.Coordinator.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) Complete(c *gin.Context) {
	b, err := h.Coordinator.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) NoShow(c *gin.Context) {
	b, err := h.Coordinator.NoShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
