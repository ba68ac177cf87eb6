package routes

import (
	"time"

	"tably/handlers"
	"tably/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups the handlers the router wires up.
type HandlerBundle struct {
	Booking   *handlers.BookingHandler
	Inventory *handlers.InventoryHandler
	Pricing   *handlers.PricingHandler
	Payment   *handlers.PaymentHandler
}

// RegisterBookingRoutes sets up the booking lifecycle endpoints.
func RegisterBookingRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/bookings")
	{
		api.Use(middleware.GuestIdentityMiddleware())
		api.POST("", hb.Booking.CreateBooking)
		api.GET("", hb.Booking.ListMyBookings)
		api.GET("/:id", hb.Booking.GetBooking)
		api.GET("/reference/:reference", hb.Booking.GetByReference)
		api.POST("/:id/cancel", hb.Booking.CancelBooking)
		api.POST("/:id/checkin", hb.Booking.CheckIn)
		api.POST("/:id/complete", hb.Booking.Complete)
		api.POST("/:id/no-show", hb.Booking.NoShow)
	}
}

// RegisterInventoryRoutes sets up availability and resource endpoints.
func RegisterInventoryRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/inventory")
	{
		api.POST("/availability", hb.Inventory.CheckAvailability)
		api.POST("/resources", hb.Inventory.RegisterResource)
		api.GET("/resources", hb.Inventory.ListResources)
		api.POST("/hold", hb.Inventory.CreateHold)
		api.GET("/holds/:id", hb.Inventory.GetHold)
		api.POST("/holds/:id/confirm", hb.Inventory.ConfirmHold)
		api.POST("/holds/:id/release", hb.Inventory.ReleaseHold)
	}
}

// RegisterPricingRoutes sets up pricing endpoints.
func RegisterPricingRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/pricing")
	{
		api.POST("/estimate", hb.Pricing.Estimate)
		api.POST("/calculate", hb.Pricing.Calculate)
		api.GET("/decisions/:reference", hb.Pricing.GetDecision)
		api.GET("/decisions/:reference/audit", hb.Pricing.GetAuditTrail)
		api.POST("/decisions/:reference/accept", hb.Pricing.AcceptDecision)
		api.POST("/rules", hb.Pricing.CreateRule)
	}
}

// RegisterPaymentRoutes sets up payment endpoints and the provider webhook.
func RegisterPaymentRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/payments")
	{
		api.Use(middleware.GuestIdentityMiddleware())
		api.POST("", hb.Payment.InitiatePayment)
		api.GET("/:id", hb.Payment.GetPayment)
		api.GET("/booking/:bookingID", hb.Payment.GetByBooking)
		api.GET("/reference/:reference/status", hb.Payment.PaymentStatus)
		api.POST("/:id/confirm", hb.Payment.ConfirmPayment)
		api.POST("/:id/refund", hb.Payment.RefundPayment)
		api.GET("/:id/refunds", hb.Payment.ListRefunds)
	}

	// Webhooks carry provider identity, not guest identity.
	r.POST("/webhooks/payment", hb.Payment.ProviderWebhook)
}

// RegisterHealthRoute registers the health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/healthz", handlers.HealthHandler)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Idempotency-Key", "X-Guest-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r)
	RegisterBookingRoutes(r, hb)
	RegisterInventoryRoutes(r, hb)
	RegisterPricingRoutes(r, hb)
	RegisterPaymentRoutes(r, hb)
}
