package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tably/config"
	"tably/cron"
	"tably/database"
	bookingRepoPkg "tably/database/repository/booking"
	idempotencyRepoPkg "tably/database/repository/idempotency"
	inventoryRepoPkg "tably/database/repository/inventory"
	paymentRepoPkg "tably/database/repository/payment"
	pricingRepoPkg "tably/database/repository/pricing"
	"tably/events"
	"tably/handlers"
	"tably/middleware"
	"tably/routes"
	"tably/services/booking"
	"tably/services/consumers"
	"tably/services/idempotency"
	ai "tably/services/intelligence"
	"tably/services/inventory"
	"tably/services/payment"
	"tably/services/pricing"
	"tably/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitCache()
	utils.InitEventsClient()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())
	stripe.Key = config.AppConfig.StripeKey

	// Event bus.
	bus := events.NewRedisBus(utils.GetEventsClient(), "tably-core", "tably-core")

	// Repositories.
	bookingRepo := bookingRepoPkg.NewMongoBookingRepo()
	inventoryRepo := inventoryRepoPkg.NewMongoInventoryRepo()
	pricingRepo := pricingRepoPkg.NewMongoPricingRepo()
	paymentRepo := paymentRepoPkg.NewMongoPaymentRepo()
	idemRepo := idempotencyRepoPkg.NewMongoIdempotencyRepo()

	// Services.
	registry := &idempotency.DefaultRegistry{Repo: idemRepo}

	reservationEngine := &inventory.DefaultReservationEngine{
		Repo: inventoryRepo,
		Bus:  bus,
	}

	var oracle pricing.MultiplierOracle
	if key := config.AppConfig.GeminiAPIKey; key != "" {
		geminiOracle, err := ai.NewGeminiOracle(key)
		if err != nil {
			logger.Warn("pricing oracle unavailable, rule pricing only", zap.Error(err))
		} else {
			oracle = geminiOracle
		}
	}
	decisionEngine := &pricing.DefaultDecisionEngine{
		Repo:          pricingRepo,
		Oracle:        oracle,
		Bus:           bus,
		QuoteTTL:      config.QuoteTTL(),
		OracleTimeout: config.UpstreamTimeout(),
	}

	var provider payment.Provider
	if config.AppConfig.StripeKey != "" {
		provider = payment.NewStripeProvider()
	} else {
		logger.Warn("no stripe key configured, using simulated payment provider")
		provider = &payment.SimulatedProvider{}
	}
	paymentOrchestrator := &payment.DefaultOrchestrator{
		Repo:        paymentRepo,
		Provider:    provider,
		Idem:        registry,
		Bus:         bus,
		MaxAttempts: config.AppConfig.PaymentRetryAttempts,
	}

	bookingCoordinator := &booking.DefaultCoordinator{
		Repo:              bookingRepo,
		Inventory:         reservationEngine,
		Pricing:           decisionEngine,
		Payments:          paymentOrchestrator,
		Idem:              registry,
		Bus:               bus,
		HoldTTL:           config.HoldTTL(),
		ConfirmationTTL:   config.ConfirmationTTL(),
		HoldRetryAttempts: config.AppConfig.HoldRetryAttempts,
	}

	// Event subscriptions.
	bookingCoordinator.RegisterEventHandlers(bus)
	housekeeping := &consumers.HousekeepingConsumer{DB: database.MongoClient.Database("tably")}
	housekeeping.Register(bus)
	loyalty := &consumers.LoyaltyConsumer{Redis: utils.GetCacheClient()}
	loyalty.Register(bus)
	analytics := &consumers.AnalyticsConsumer{Redis: utils.GetCacheClient()}
	analytics.Register(bus)

	busCtx, stopBus := context.WithCancel(context.Background())
	go bus.Run(busCtx)

	// Background sweeps.
	sweepSrv, sweepScheduler := cron.InitSweepWorker(cron.Sweepers{
		Inventory: reservationEngine,
		Bookings:  bookingCoordinator,
		Pricing:   decisionEngine,
	})

	// Handlers and routes.
	handlerBundle := &routes.HandlerBundle{
		Booking:   handlers.NewBookingHandler(bookingCoordinator),
		Inventory: handlers.NewInventoryHandler(reservationEngine),
		Pricing:   handlers.NewPricingHandler(decisionEngine),
		Payment:   handlers.NewPaymentHandler(paymentOrchestrator),
	}
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	sweepScheduler.Shutdown()
	sweepSrv.Shutdown()
	stopBus()

	logger.Sugar().Info("main: server stopped gracefully")
}
