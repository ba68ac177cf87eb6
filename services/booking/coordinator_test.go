package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	bookingRepo "tably/database/repository/booking"
	paymentRepoPkg "tably/database/repository/payment"
	"tably/events"
	"tably/models"
	"tably/services/idempotency"
	"tably/services/inventory"
	"tably/services/payment"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBookingRepo struct {
	bookings map[string]*models.Booking
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{bookings: make(map[string]*models.Booking)}
}

func (r *fakeBookingRepo) Create(_ context.Context, booking *models.Booking) error {
	copied := *booking
	r.bookings[booking.ID] = &copied
	return nil
}

func (r *fakeBookingRepo) GetByID(_ context.Context, id string) (*models.Booking, error) {
	b, ok := r.bookings[id]
	if !ok {
		return nil, bookingRepo.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *fakeBookingRepo) GetByReference(_ context.Context, reference string) (*models.Booking, error) {
	for _, b := range r.bookings {
		if b.Reference == reference {
			copied := *b
			return &copied, nil
		}
	}
	return nil, bookingRepo.ErrNotFound
}

func (r *fakeBookingRepo) ListByGuest(_ context.Context, guestID string, _ int64) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range r.bookings {
		if b.GuestID == guestID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) TransitionStatus(_ context.Context, id string, from, to models.BookingStatus, expectedVersion int64, extra map[string]any) error {
	b, ok := r.bookings[id]
	if !ok {
		return bookingRepo.ErrNotFound
	}
	if b.Status != from || b.Version != expectedVersion {
		return bookingRepo.ErrVersionConflict
	}
	b.Status = to
	b.Version++
	for key, value := range extra {
		switch key {
		case "cancel_reason":
			b.CancelReason, _ = value.(string)
		case "payment_ref":
			b.PaymentRef, _ = value.(string)
		case "cancelled_at":
			if at, ok := value.(time.Time); ok {
				b.CancelledAt = &at
			}
		case "confirmed_at":
			if at, ok := value.(time.Time); ok {
				b.ConfirmedAt = &at
			}
		}
	}
	return nil
}

func (r *fakeBookingRepo) FindExpiredPending(_ context.Context, now time.Time, _ int64) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range r.bookings {
		if b.Status == models.BookingPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// stubInventory implements inventory.ReservationEngine with scriptable
// capacity and hold-race behaviour.
type stubInventory struct {
	available     bool
	conflictsLeft int
	holds         map[string]*models.InventoryHold
	released      map[string]string
	confirmed     map[string]bool
	holdCalls     int
}

func newStubInventory() *stubInventory {
	return &stubInventory{
		available: true,
		holds:     make(map[string]*models.InventoryHold),
		released:  make(map[string]string),
		confirmed: make(map[string]bool),
	}
}

func (s *stubInventory) CheckAvailability(context.Context, inventory.CheckAvailabilityRequest) (*models.AvailabilityResult, error) {
	if !s.available {
		return &models.AvailabilityResult{Available: false, Reason: "fully booked"}, nil
	}
	return &models.AvailabilityResult{
		Available:  true,
		Candidates: []models.Resource{{ID: "table-1", VenueID: "venue-1", Capacity: 6}},
	}, nil
}

func (s *stubInventory) Hold(_ context.Context, resourceID, bookingID string, window models.TimeWindow, ttl time.Duration) (*models.InventoryHold, error) {
	s.holdCalls++
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return nil, inventory.ErrConflict
	}
	hold := &models.InventoryHold{
		ID: uuid.New().String(), ResourceID: resourceID, BookingID: bookingID,
		Window: window, Status: models.HoldHeld,
		AcquiredAt: time.Now(), ExpiresAt: time.Now().Add(ttl),
	}
	s.holds[hold.ID] = hold
	return hold, nil
}

func (s *stubInventory) ConfirmHold(_ context.Context, holdID string) error {
	s.confirmed[holdID] = true
	return nil
}

func (s *stubInventory) Release(_ context.Context, holdID, reason string) error {
	s.released[holdID] = reason
	return nil
}

func (s *stubInventory) GetHold(_ context.Context, holdID string) (*models.InventoryHold, error) {
	return s.holds[holdID], nil
}

func (s *stubInventory) ExpireStaleHolds(context.Context) (int, error) { return 0, nil }

func (s *stubInventory) RegisterResource(context.Context, *models.Resource) error { return nil }

func (s *stubInventory) ListResources(context.Context, string) ([]models.Resource, error) {
	return nil, nil
}

// stubPricing implements pricing.DecisionEngine around one canned quote.
type stubPricing struct {
	calcErr   error
	acceptErr error
	accepted  map[string]string
	rejected  map[string]bool
	quotes    int
}

func newStubPricing() *stubPricing {
	return &stubPricing{accepted: make(map[string]string), rejected: make(map[string]bool)}
}

func (s *stubPricing) Calculate(_ context.Context, pctx models.PricingContext) (*models.PriceDecision, error) {
	if s.calcErr != nil {
		return nil, s.calcErr
	}
	s.quotes++
	now := time.Now()
	return &models.PriceDecision{
		Reference: uuid.New().String(), Version: 1, VenueID: pctx.VenueID, Context: pctx,
		BasePrice: "90", Tax: "9", Total: "99", Currency: "USD",
		Source: models.PriceSourceBase, Status: models.DecisionQuoted,
		ValidFrom: now, ValidUntil: now.Add(10 * time.Minute), CreatedAt: now,
	}, nil
}

func (s *stubPricing) Estimate(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error) {
	return s.Calculate(ctx, pctx)
}

func (s *stubPricing) Accept(_ context.Context, decisionRef, bookingRef string) error {
	if s.acceptErr != nil {
		return s.acceptErr
	}
	s.accepted[decisionRef] = bookingRef
	return nil
}

func (s *stubPricing) Reject(_ context.Context, decisionRef string) error {
	s.rejected[decisionRef] = true
	return nil
}

func (s *stubPricing) GetDecision(context.Context, string) (*models.PriceDecision, error) {
	return nil, nil
}

func (s *stubPricing) GetAuditTrail(context.Context, string) ([]models.PricingAuditEntry, error) {
	return nil, nil
}

func (s *stubPricing) CreateRule(context.Context, *models.PricingRule) error { return nil }

func (s *stubPricing) ExpireQuotes(context.Context) (int, error) { return 0, nil }

// stubPayments implements payment.Orchestrator for compensation checks.
type stubPayments struct {
	byBooking map[string]*models.Payment
	refunds   []payment.RefundRequest
}

func newStubPayments() *stubPayments {
	return &stubPayments{byBooking: make(map[string]*models.Payment)}
}

func (s *stubPayments) Initiate(context.Context, payment.InitiateRequest) (*models.Payment, error) {
	return nil, nil
}

func (s *stubPayments) Confirm(context.Context, string, string) (*models.Payment, error) {
	return nil, nil
}

func (s *stubPayments) HandleProviderCallback(context.Context, payment.ProviderCallback) error {
	return nil
}

func (s *stubPayments) Refund(_ context.Context, req payment.RefundRequest) (*models.Refund, error) {
	s.refunds = append(s.refunds, req)
	return &models.Refund{ID: uuid.New().String(), PaymentID: req.PaymentID, Status: models.RefundCompleted}, nil
}

func (s *stubPayments) GetByID(context.Context, string) (*models.Payment, error) {
	return nil, paymentRepoPkg.ErrNotFound
}

func (s *stubPayments) GetByReference(context.Context, string) (*models.Payment, error) {
	return nil, paymentRepoPkg.ErrNotFound
}

func (s *stubPayments) GetByBookingID(_ context.Context, bookingID string) (*models.Payment, error) {
	p, ok := s.byBooking[bookingID]
	if !ok {
		return nil, paymentRepoPkg.ErrNotFound
	}
	return p, nil
}

func (s *stubPayments) ListRefunds(context.Context, string) ([]models.Refund, error) {
	return nil, nil
}

type fakeRegistry struct {
	records map[string][2]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: make(map[string][2]string)}
}

func (r *fakeRegistry) Check(_ context.Context, key, operation, requestHash string) (string, bool, error) {
	rec, ok := r.records[key+"|"+operation]
	if !ok {
		return "", false, nil
	}
	if rec[1] != requestHash {
		return "", false, idempotency.ErrConflict
	}
	return rec[0], true, nil
}

func (r *fakeRegistry) Record(_ context.Context, key, operation, resultID, requestHash string) (string, error) {
	id := key + "|" + operation
	if rec, ok := r.records[id]; ok {
		return rec[0], nil
	}
	r.records[id] = [2]string{resultID, requestHash}
	return resultID, nil
}

type testHarness struct {
	coordinator *DefaultCoordinator
	repo        *fakeBookingRepo
	inventory   *stubInventory
	pricing     *stubPricing
	payments    *stubPayments
	bus         *events.MemoryBus
}

func newHarness() *testHarness {
	repo := newFakeBookingRepo()
	inv := newStubInventory()
	pr := newStubPricing()
	pay := newStubPayments()
	bus := events.NewMemoryBus("booking-test")
	coordinator := &DefaultCoordinator{
		Repo:      repo,
		Inventory: inv,
		Pricing:   pr,
		Payments:  pay,
		Idem:      newFakeRegistry(),
		Bus:       bus,
	}
	return &testHarness{coordinator: coordinator, repo: repo, inventory: inv, pricing: pr, payments: pay, bus: bus}
}

func createReq(key string) CreateBookingRequest {
	return CreateBookingRequest{
		VenueID:        "venue-1",
		VenueType:      models.VenueTypeRestaurant,
		GuestID:        "guest-1",
		PartySize:      2,
		BookingTime:    time.Date(2026, 9, 10, 19, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
	}
}

func TestCreateBookingHappyPath(t *testing.T) {
	h := newHarness()

	booking, err := h.coordinator.CreateBooking(context.Background(), createReq("k1"))
	require.NoError(t, err)

	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Equal(t, int64(1), booking.Version)
	assert.NotEmpty(t, booking.Reference)
	assert.NotEmpty(t, booking.InventoryHoldID)
	assert.NotEmpty(t, booking.PriceDecisionRef)
	assert.Equal(t, "99", booking.TotalPrice)
	require.NotNil(t, booking.ExpiresAt)
	assert.True(t, booking.ExpiresAt.After(time.Now()))

	// Default restaurant duration is two hours.
	assert.Equal(t, 2*time.Hour, booking.EndTime.Sub(booking.BookingTime))

	assert.Len(t, h.bus.ByType(events.BookingCreated), 1)
	assert.Equal(t, 1, h.inventory.holdCalls)
}

func TestCreateBookingValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	req := createReq("k1")
	req.PartySize = 0
	_, err := h.coordinator.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = createReq("k1")
	req.VenueType = "arena"
	_, err = h.coordinator.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = createReq("")
	_, err = h.coordinator.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateBookingNoCapacity(t *testing.T) {
	h := newHarness()
	h.inventory.available = false

	_, err := h.coordinator.CreateBooking(context.Background(), createReq("k1"))
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Empty(t, h.repo.bookings)
}

func TestCreateBookingRetriesLostHoldRace(t *testing.T) {
	h := newHarness()
	h.inventory.conflictsLeft = 2

	booking, err := h.coordinator.CreateBooking(context.Background(), createReq("k1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Equal(t, 3, h.inventory.holdCalls)
}

func TestCreateBookingExhaustedHoldRetries(t *testing.T) {
	h := newHarness()
	h.inventory.conflictsLeft = 10

	_, err := h.coordinator.CreateBooking(context.Background(), createReq("k1"))
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestCreateBookingPricingFailureReleasesHold(t *testing.T) {
	h := newHarness()
	h.pricing.calcErr = errors.New("pricing store down")

	_, err := h.coordinator.CreateBooking(context.Background(), createReq("k1"))
	require.Error(t, err)

	assert.Empty(t, h.repo.bookings, "no booking may be persisted when pricing fails")
	assert.Empty(t, h.bus.ByType(events.BookingCreated))

	require.Len(t, h.inventory.released, 1)
	for _, reason := range h.inventory.released {
		assert.Equal(t, "pricing failed", reason)
	}
}

func TestCreateBookingReplay(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)

	second, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.repo.bookings, 1)
	assert.Equal(t, 1, h.inventory.holdCalls, "replay must not acquire a second hold")
	assert.Equal(t, 1, h.pricing.quotes, "replay must not price twice")
}

func publishPaymentCompleted(t *testing.T, h *testHarness, booking *models.Booking) {
	t.Helper()
	h.coordinator.RegisterEventHandlers(h.bus)
	err := h.bus.Publish(context.Background(), events.TopicPayment, events.PaymentCompleted, payment.Event{
		PaymentID: "pay-1",
		BookingID: booking.ID,
		Reference: "PM-TEST",
		Amount:    booking.TotalPrice,
		Currency:  booking.Currency,
		Status:    string(models.PaymentCompleted),
	}, "pay-1|completed")
	require.NoError(t, err)
}

func TestPaymentCompletedConfirmsBooking(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)

	publishPaymentCompleted(t, h, booking)

	stored, err := h.coordinator.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, stored.Status)
	assert.Equal(t, "PM-TEST", stored.PaymentRef)
	assert.NotNil(t, stored.ConfirmedAt)

	assert.Equal(t, booking.Reference, h.pricing.accepted[booking.PriceDecisionRef])
	assert.True(t, h.inventory.confirmed[booking.InventoryHoldID])
	assert.Len(t, h.bus.ByType(events.BookingConfirmed), 1)
}

func TestPaymentCompletedAfterExpiryRefunds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)

	// Force the booking past its deadline and sweep it.
	past := time.Now().Add(-time.Minute)
	h.repo.bookings[booking.ID].ExpiresAt = &past
	swept, err := h.coordinator.ExpirePendingBookings(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	publishPaymentCompleted(t, h, booking)

	stored, err := h.coordinator.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingExpired, stored.Status)

	require.Len(t, h.payments.refunds, 1)
	assert.Equal(t, "pay-1", h.payments.refunds[0].PaymentID)
}

func TestCancelPendingBookingCompensates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)

	cancelled, err := h.coordinator.CancelBooking(ctx, booking.ID, "change of plans")
	require.NoError(t, err)

	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, "change of plans", cancelled.CancelReason)
	assert.Equal(t, "booking cancelled", h.inventory.released[booking.InventoryHoldID])
	assert.True(t, h.pricing.rejected[booking.PriceDecisionRef])
	assert.Len(t, h.bus.ByType(events.BookingCancelled), 1)
}

func TestCancelConfirmedBookingRefunds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)
	publishPaymentCompleted(t, h, booking)

	h.payments.byBooking[booking.ID] = &models.Payment{
		ID: "pay-1", BookingID: booking.ID, Amount: "99", Status: models.PaymentCompleted,
	}

	cancelled, err := h.coordinator.CancelBooking(ctx, booking.ID, "venue closed")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)

	require.Len(t, h.payments.refunds, 1)
	assert.Equal(t, "pay-1", h.payments.refunds[0].PaymentID)
	assert.Equal(t, "venue closed", h.payments.refunds[0].Reason)
}

func TestCancelCompletedBookingRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)
	publishPaymentCompleted(t, h, booking)

	_, err = h.coordinator.CheckIn(ctx, booking.ID)
	require.NoError(t, err)
	_, err = h.coordinator.Complete(ctx, booking.ID)
	require.NoError(t, err)

	_, err = h.coordinator.CancelBooking(ctx, booking.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycleCheckInCompleteReleasesHold(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)
	publishPaymentCompleted(t, h, booking)

	checkedIn, err := h.coordinator.CheckIn(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCheckedIn, checkedIn.Status)

	completed, err := h.coordinator.Complete(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, completed.Status)
	assert.Equal(t, "booking completed", h.inventory.released[booking.InventoryHoldID])
	assert.Len(t, h.bus.ByType(events.BookingCompleted), 1)
}

func TestNoShowFromConfirmed(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	booking, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)
	publishPaymentCompleted(t, h, booking)

	marked, err := h.coordinator.NoShow(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingNoShow, marked.Status)
	assert.Equal(t, "guest no-show", h.inventory.released[booking.InventoryHoldID])

	// no_show is terminal.
	_, err = h.coordinator.CheckIn(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpirePendingBookingsSweep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	stale, err := h.coordinator.CreateBooking(ctx, createReq("k1"))
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	h.repo.bookings[stale.ID].ExpiresAt = &past

	fresh, err := h.coordinator.CreateBooking(ctx, createReq("k2"))
	require.NoError(t, err)

	swept, err := h.coordinator.ExpirePendingBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	staleStored, _ := h.coordinator.GetBooking(ctx, stale.ID)
	freshStored, _ := h.coordinator.GetBooking(ctx, fresh.ID)
	assert.Equal(t, models.BookingExpired, staleStored.Status)
	assert.Equal(t, models.BookingPending, freshStored.Status)

	assert.Equal(t, "booking expired", h.inventory.released[stale.InventoryHoldID])
	assert.True(t, h.pricing.rejected[stale.PriceDecisionRef])
	assert.Len(t, h.bus.ByType(events.BookingExpired), 1)
}
