package consumers

import (
	"context"
	"fmt"
	"time"

	"tably/events"
	"tably/models"
	"tably/utils"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// HousekeepingConsumer opens a turnaround task whenever a stay ends so the
// resource can be readied for the next guest.
type HousekeepingConsumer struct {
	DB *mongo.Database
}

// Register wires the consumer's subscriptions.
func (h *HousekeepingConsumer) Register(bus events.Bus) {
	bus.Subscribe(events.TopicBooking, events.BookingCompleted, h.handleBookingClosed)
	bus.Subscribe(events.TopicBooking, events.BookingCancelled, h.handleBookingClosed)
}

func (h *HousekeepingConsumer) handleBookingClosed(ctx context.Context, env events.Envelope) error {
	var booking models.Booking
	if err := env.DecodePayload(&booking); err != nil {
		return fmt.Errorf("undecodable booking event: %w", err)
	}

	// Upsert keyed on booking id keeps redeliveries from opening twice.
	filter := bson.M{"booking_id": booking.ID}
	update := bson.M{"$setOnInsert": bson.M{
		"booking_id": booking.ID,
		"venue_id":   booking.VenueID,
		"trigger":    env.EventType,
		"status":     "open",
		"due_at":     booking.EndTime,
		"created_at": time.Now(),
	}}
	_, err := h.DB.Collection("housekeeping_tasks").UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to open housekeeping task: %w", err)
	}
	return nil
}

// LoyaltyConsumer credits guests one point per whole currency unit spent on
// a confirmed booking.
type LoyaltyConsumer struct {
	Redis *redis.Client
}

func (l *LoyaltyConsumer) Register(bus events.Bus) {
	bus.Subscribe(events.TopicBooking, events.BookingConfirmed, l.handleBookingConfirmed)
}

func (l *LoyaltyConsumer) handleBookingConfirmed(ctx context.Context, env events.Envelope) error {
	var booking models.Booking
	if err := env.DecodePayload(&booking); err != nil {
		return fmt.Errorf("undecodable booking event: %w", err)
	}

	creditedKey := "loyalty:credited:" + booking.ID
	n, err := l.Redis.Exists(ctx, creditedKey).Result()
	if err != nil {
		return fmt.Errorf("loyalty dedup check failed: %w", err)
	}
	if n > 0 {
		return nil
	}

	points := int64(0)
	if total, perr := decimal.NewFromString(booking.TotalPrice); perr == nil {
		points = total.IntPart()
	}
	if points > 0 {
		if err := l.Redis.IncrBy(ctx, "loyalty:points:"+booking.GuestID, points).Err(); err != nil {
			return fmt.Errorf("failed to credit loyalty points: %w", err)
		}
	}

	// Mark only after the credit landed. Marking first would swallow the
	// points for good when the increment fails and the delivery retries.
	if err := l.Redis.Set(ctx, creditedKey, 1, 90*24*time.Hour).Err(); err != nil {
		utils.GetLogger().Warn("failed to mark loyalty credit",
			zap.String("booking_id", booking.ID), zap.Error(err))
	}
	utils.GetLogger().Debug("loyalty points credited",
		zap.String("guest_id", booking.GuestID), zap.Int64("points", points))
	return nil
}

// Points returns the current balance for a guest.
func (l *LoyaltyConsumer) Points(ctx context.Context, guestID string) (int64, error) {
	points, err := l.Redis.Get(ctx, "loyalty:points:"+guestID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return points, err
}

// AnalyticsConsumer keeps per-day, per-venue event counters in Redis hashes.
type AnalyticsConsumer struct {
	Redis *redis.Client
}

func (a *AnalyticsConsumer) Register(bus events.Bus) {
	for _, eventType := range []string{
		events.BookingCreated, events.BookingConfirmed, events.BookingCancelled,
		events.BookingExpired, events.BookingCompleted,
	} {
		bus.Subscribe(events.TopicBooking, eventType, a.handleBookingEvent)
	}
}

func (a *AnalyticsConsumer) handleBookingEvent(ctx context.Context, env events.Envelope) error {
	var booking models.Booking
	if err := env.DecodePayload(&booking); err != nil {
		return fmt.Errorf("undecodable booking event: %w", err)
	}

	day := env.Timestamp.UTC().Format("2006-01-02")
	pipe := a.Redis.Pipeline()
	pipe.HIncrBy(ctx, "analytics:bookings:"+day, env.EventType, 1)
	if booking.VenueID != "" {
		pipe.HIncrBy(ctx, "analytics:venue:"+booking.VenueID+":"+day, env.EventType, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record analytics counters: %w", err)
	}
	return nil
}

// DailyCounts returns the event counters recorded for a calendar day.
func (a *AnalyticsConsumer) DailyCounts(ctx context.Context, day string) (map[string]string, error) {
	return a.Redis.HGetAll(ctx, "analytics:bookings:"+day).Result()
}
