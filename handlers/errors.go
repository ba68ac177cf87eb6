package handlers

import (
	"errors"
	"net/http"

	bookingRepo "tably/database/repository/booking"
	inventoryRepo "tably/database/repository/inventory"
	paymentRepo "tably/database/repository/payment"
	pricingRepo "tably/database/repository/pricing"
	"tably/events"
	"tably/services/booking"
	"tably/services/idempotency"
	"tably/services/inventory"
	"tably/services/payment"
	"tably/services/pricing"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto the API error taxonomy.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookingRepo.ErrNotFound),
		errors.Is(err, paymentRepo.ErrNotFound),
		errors.Is(err, pricingRepo.ErrDecisionNotFound),
		errors.Is(err, inventoryRepo.ErrResourceNotFound),
		errors.Is(err, inventoryRepo.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, idempotency.ErrConflict):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.Is(err, booking.ErrNoCapacity),
		errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, inventory.ErrConflict),
		errors.Is(err, pricing.ErrQuoteExpired),
		errors.Is(err, pricing.ErrDecisionInvalid),
		errors.Is(err, payment.ErrInvalidState),
		errors.Is(err, payment.ErrCallbackConflict),
		errors.Is(err, paymentRepo.ErrRefundExceedsPayment),
		errors.Is(err, bookingRepo.ErrVersionConflict),
		errors.Is(err, paymentRepo.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, payment.ErrProviderUnavailable),
		errors.Is(err, events.ErrBusUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// idempotencyKey prefers the Idempotency-Key header over a body field.
func idempotencyKey(c *gin.Context, bodyKey string) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return bodyKey
}
