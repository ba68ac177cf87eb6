package handlers

import (
	"net/http"

	"tably/services/payment"

	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes payment initiation, confirmation and refunds, plus
// the provider webhook.
type PaymentHandler struct {
	Orchestrator payment.Orchestrator
}

func NewPaymentHandler(orchestrator payment.Orchestrator) *PaymentHandler {
	return &PaymentHandler{Orchestrator: orchestrator}
}

func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req payment.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	pay, err := h.Orchestrator.Initiate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pay)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	pay, err := h.Orchestrator.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pay)
}

// PaymentStatus reports the lifecycle status for a payment reference.
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	pay, err := h.Orchestrator.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference":  pay.Reference,
		"booking_id": pay.BookingID,
		"status":     pay.Status,
		"updated_at": pay.UpdatedAt,
	})
}

func (h *PaymentHandler) GetByBooking(c *gin.Context) {
	pay, err := h.Orchestrator.GetByBookingID(c.Request.Context(), c.Param("bookingID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pay)
}

// ConfirmPayment completes a payment parked in processing (e.g. after 3DS).
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	var input struct {
		ProviderConfirmation string `json:"provider_confirmation"`
	}
	// Body is optional; some providers complete without a challenge payload.
	_ = c.ShouldBindJSON(&input)

	pay, err := h.Orchestrator.Confirm(c.Request.Context(), c.Param("id"), input.ProviderConfirmation)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pay)
}

func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	var req payment.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.PaymentID = c.Param("id")
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	ref, err := h.Orchestrator.Refund(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

func (h *PaymentHandler) ListRefunds(c *gin.Context) {
	refunds, err := h.Orchestrator.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// ProviderWebhook receives asynchronous provider notifications. Duplicate
// deliveries are acknowledged without effect.
func (h *PaymentHandler) ProviderWebhook(c *gin.Context) {
	var cb payment.ProviderCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	if cb.PaymentReference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_reference is required"})
		return
	}

	if err := h.Orchestrator.HandleProviderCallback(c.Request.Context(), cb); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
