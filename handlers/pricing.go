package handlers

import (
	"net/http"

	"tably/models"
	"tably/services/pricing"

	"github.com/gin-gonic/gin"
)

// PricingHandler exposes price estimates, decisions and rule management.
type PricingHandler struct {
	Engine pricing.DecisionEngine
}

func NewPricingHandler(engine pricing.DecisionEngine) *PricingHandler {
	return &PricingHandler{Engine: engine}
}

// Estimate returns a non-binding price breakdown.
func (h *PricingHandler) Estimate(c *gin.Context) {
	var pctx models.PricingContext
	if err := c.ShouldBindJSON(&pctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	estimate, err := h.Engine.Estimate(c.Request.Context(), pctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// Calculate issues a binding, time-bounded price quote.
func (h *PricingHandler) Calculate(c *gin.Context) {
	var pctx models.PricingContext
	if err := c.ShouldBindJSON(&pctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	decision, err := h.Engine.Calculate(c.Request.Context(), pctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, decision)
}

// AcceptDecision locks a quoted decision to a booking.
func (h *PricingHandler) AcceptDecision(c *gin.Context) {
	var input struct {
		BookingReference string `json:"booking_reference"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	if input.BookingReference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_reference is required"})
		return
	}

	reference := c.Param("reference")
	if err := h.Engine.Accept(c.Request.Context(), reference, input.BookingReference); err != nil {
		respondError(c, err)
		return
	}
	decision, err := h.Engine.GetDecision(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *PricingHandler) GetDecision(c *gin.Context) {
	decision, err := h.Engine.GetDecision(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *PricingHandler) GetAuditTrail(c *gin.Context) {
	trail, err := h.Engine.GetAuditTrail(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": trail})
}

func (h *PricingHandler) CreateRule(c *gin.Context) {
	var rule models.PricingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	if err := h.Engine.CreateRule(c.Request.Context(), &rule); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}
