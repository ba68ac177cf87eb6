package cron

import (
	"context"
	"fmt"
	"time"

	"tably/config"
	"tably/services/booking"
	"tably/services/inventory"
	"tably/services/pricing"
	"tably/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Sweep task types.
const (
	TypeSweepHolds    = "sweep:holds"
	TypeSweepBookings = "sweep:bookings"
	TypeSweepQuotes   = "sweep:quotes"
)

// Sweepers groups the engines the background sweeps drive.
type Sweepers struct {
	Inventory inventory.ReservationEngine
	Bookings  booking.Coordinator
	Pricing   pricing.DecisionEngine
}

func redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
}

// InitSweepWorker runs the asynq worker and scheduler in the background.
// Expiry is deadline-driven: each sweep releases holds, expires bookings
// and invalidates quotes whose TTLs have passed.
func InitSweepWorker(sweepers Sweepers) (*asynq.Server, *asynq.Scheduler) {
	logger := utils.GetLogger()

	srv := asynq.NewServer(redisOpts(), asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSweepHolds, func(ctx context.Context, _ *asynq.Task) error {
		swept, err := sweepers.Inventory.ExpireStaleHolds(ctx)
		logSweep(logger, "holds", swept, err)
		return err
	})
	mux.HandleFunc(TypeSweepBookings, func(ctx context.Context, _ *asynq.Task) error {
		swept, err := sweepers.Bookings.ExpirePendingBookings(ctx)
		logSweep(logger, "bookings", swept, err)
		return err
	})
	mux.HandleFunc(TypeSweepQuotes, func(ctx context.Context, _ *asynq.Task) error {
		swept, err := sweepers.Pricing.ExpireQuotes(ctx)
		logSweep(logger, "quotes", swept, err)
		return err
	})

	go func() {
		if err := srv.Run(mux); err != nil {
			logger.Fatal("sweep worker failed to start", zap.Error(err))
		}
	}()

	interval := config.AppConfig.SweepIntervalSeconds
	if interval <= 0 {
		interval = 30
	}
	spec := fmt.Sprintf("@every %ds", interval)

	scheduler := asynq.NewScheduler(redisOpts(), &asynq.SchedulerOpts{})
	for _, taskType := range []string{TypeSweepHolds, TypeSweepBookings, TypeSweepQuotes} {
		if _, err := scheduler.Register(spec, asynq.NewTask(taskType, nil)); err != nil {
			logger.Fatal("failed to register sweep schedule",
				zap.String("task", taskType), zap.Error(err))
		}
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Fatal("sweep scheduler failed to start", zap.Error(err))
		}
	}()

	logger.Info("sweep worker started", zap.Duration("interval", time.Duration(interval)*time.Second))
	return srv, scheduler
}

func logSweep(logger *zap.Logger, kind string, swept int, err error) {
	if err != nil {
		logger.Warn("sweep failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if swept > 0 {
		logger.Info("sweep released stale records", zap.String("kind", kind), zap.Int("count", swept))
	}
}
