package inventory

import (
	"context"
	"testing"
	"time"

	inventoryRepo "tably/database/repository/inventory"
	"tably/events"
	"tably/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInventoryRepo struct {
	resources map[string]*models.Resource
	holds     map[string]*models.InventoryHold
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{
		resources: make(map[string]*models.Resource),
		holds:     make(map[string]*models.InventoryHold),
	}
}

func (r *fakeInventoryRepo) CreateResource(_ context.Context, resource *models.Resource) error {
	copied := *resource
	r.resources[resource.ID] = &copied
	return nil
}

func (r *fakeInventoryRepo) GetResource(_ context.Context, id string) (*models.Resource, error) {
	res, ok := r.resources[id]
	if !ok {
		return nil, inventoryRepo.ErrResourceNotFound
	}
	copied := *res
	return &copied, nil
}

func (r *fakeInventoryRepo) ListResources(_ context.Context, venueID string) ([]models.Resource, error) {
	var out []models.Resource
	for _, res := range r.resources {
		if res.VenueID == venueID && res.Active {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (r *fakeInventoryRepo) BlockedResourceIDs(_ context.Context, venueID string, window models.TimeWindow) (map[string]bool, error) {
	blocked := make(map[string]bool)
	for _, hold := range r.holds {
		if !hold.Active() {
			continue
		}
		res, ok := r.resources[hold.ResourceID]
		if !ok || res.VenueID != venueID {
			continue
		}
		if hold.Window.Overlaps(window) {
			blocked[hold.ResourceID] = true
		}
	}
	return blocked, nil
}

func (r *fakeInventoryRepo) AcquireHold(_ context.Context, hold *models.InventoryHold) error {
	for _, existing := range r.holds {
		if existing.ResourceID == hold.ResourceID && existing.Active() && existing.Window.Overlaps(hold.Window) {
			return inventoryRepo.ErrHoldConflict
		}
	}
	copied := *hold
	r.holds[hold.ID] = &copied
	return nil
}

func (r *fakeInventoryRepo) GetHold(_ context.Context, id string) (*models.InventoryHold, error) {
	hold, ok := r.holds[id]
	if !ok {
		return nil, inventoryRepo.ErrHoldNotFound
	}
	copied := *hold
	return &copied, nil
}

func (r *fakeInventoryRepo) TransitionHold(_ context.Context, id string, from []models.HoldStatus, to models.HoldStatus, reason string) (bool, error) {
	hold, ok := r.holds[id]
	if !ok {
		return false, inventoryRepo.ErrHoldNotFound
	}
	if hold.Status == to {
		return false, nil
	}
	for _, f := range from {
		if hold.Status == f {
			hold.Status = to
			hold.ReleaseReason = reason
			return true, nil
		}
	}
	return false, inventoryRepo.ErrHoldNotFound
}

func (r *fakeInventoryRepo) FindExpiredHolds(_ context.Context, now time.Time, _ int64) ([]models.InventoryHold, error) {
	var out []models.InventoryHold
	for _, hold := range r.holds {
		if hold.Status == models.HoldHeld && hold.ExpiresAt.Before(now) {
			out = append(out, *hold)
		}
	}
	return out, nil
}

func testWindow(startHour, endHour int) models.TimeWindow {
	day := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	return models.TimeWindow{
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}
}

func newTestEngine() (*DefaultReservationEngine, *fakeInventoryRepo, *events.MemoryBus) {
	repo := newFakeInventoryRepo()
	bus := events.NewMemoryBus("inventory-test")
	return &DefaultReservationEngine{Repo: repo, Bus: bus}, repo, bus
}

func addResource(repo *fakeInventoryRepo, id string, capacity int) {
	repo.resources[id] = &models.Resource{
		ID: id, VenueID: "venue-1", VenueType: models.VenueTypeRestaurant,
		Name: id, Capacity: capacity, Active: true,
	}
}

func TestCheckAvailabilityFiltersBlockedAndCapacity(t *testing.T) {
	engine, repo, _ := newTestEngine()
	addResource(repo, "table-1", 2)
	addResource(repo, "table-2", 6)
	ctx := context.Background()

	// table-2 already held for an overlapping window.
	_, err := engine.Hold(ctx, "table-2", "b1", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)

	// Party of 4 only fits table-2, which is blocked.
	result, err := engine.CheckAvailability(ctx, CheckAvailabilityRequest{
		VenueID: "venue-1", Window: testWindow(20, 22), PartySize: 4,
	})
	require.NoError(t, err)
	assert.False(t, result.Available)

	// Party of 2 fits table-1.
	result, err = engine.CheckAvailability(ctx, CheckAvailabilityRequest{
		VenueID: "venue-1", Window: testWindow(20, 22), PartySize: 2,
	})
	require.NoError(t, err)
	require.True(t, result.Available)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "table-1", result.Candidates[0].ID)

	// An adjacent window does not block.
	result, err = engine.CheckAvailability(ctx, CheckAvailabilityRequest{
		VenueID: "venue-1", Window: testWindow(21, 23), PartySize: 4,
	})
	require.NoError(t, err)
	assert.True(t, result.Available)
}

func TestCheckAvailabilityRejectsInvalidWindow(t *testing.T) {
	engine, _, _ := newTestEngine()
	_, err := engine.CheckAvailability(context.Background(), CheckAvailabilityRequest{
		VenueID: "venue-1", Window: testWindow(21, 19),
	})
	assert.Error(t, err)
}

func TestHoldConflictOnOverlap(t *testing.T) {
	engine, repo, bus := newTestEngine()
	addResource(repo, "table-1", 4)
	ctx := context.Background()

	hold, err := engine.Hold(ctx, "table-1", "b1", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.HoldHeld, hold.Status)
	assert.Len(t, bus.ByType(events.InventoryHoldCreated), 1)

	_, err = engine.Hold(ctx, "table-1", "b2", testWindow(20, 22), 15*time.Minute)
	assert.ErrorIs(t, err, ErrConflict)

	// Adjacent window succeeds.
	_, err = engine.Hold(ctx, "table-1", "b3", testWindow(21, 23), 15*time.Minute)
	assert.NoError(t, err)
}

func TestConfirmAndReleaseAreIdempotent(t *testing.T) {
	engine, repo, bus := newTestEngine()
	addResource(repo, "table-1", 4)
	ctx := context.Background()

	hold, err := engine.Hold(ctx, "table-1", "b1", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)

	require.NoError(t, engine.ConfirmHold(ctx, hold.ID))
	require.NoError(t, engine.ConfirmHold(ctx, hold.ID))
	assert.Len(t, bus.ByType(events.InventoryHoldConfirmed), 1)

	require.NoError(t, engine.Release(ctx, hold.ID, "cancelled"))
	require.NoError(t, engine.Release(ctx, hold.ID, "cancelled"))
	assert.Len(t, bus.ByType(events.InventoryHoldReleased), 1)

	stored, err := engine.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, stored.Status)
	assert.Equal(t, "cancelled", stored.ReleaseReason)
}

func TestReleasedWindowFreesCapacity(t *testing.T) {
	engine, repo, _ := newTestEngine()
	addResource(repo, "table-1", 4)
	ctx := context.Background()

	hold, err := engine.Hold(ctx, "table-1", "b1", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, hold.ID, "cancelled"))

	_, err = engine.Hold(ctx, "table-1", "b2", testWindow(19, 21), 15*time.Minute)
	assert.NoError(t, err)
}

func TestExpireStaleHolds(t *testing.T) {
	engine, repo, bus := newTestEngine()
	addResource(repo, "table-1", 4)
	addResource(repo, "table-2", 4)
	ctx := context.Background()

	stale, err := engine.Hold(ctx, "table-1", "b1", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)
	repo.holds[stale.ID].ExpiresAt = time.Now().Add(-time.Minute)

	fresh, err := engine.Hold(ctx, "table-2", "b2", testWindow(19, 21), 15*time.Minute)
	require.NoError(t, err)

	swept, err := engine.ExpireStaleHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	staleStored, _ := engine.GetHold(ctx, stale.ID)
	freshStored, _ := engine.GetHold(ctx, fresh.ID)
	assert.Equal(t, models.HoldReleased, staleStored.Status)
	assert.Equal(t, "expired", staleStored.ReleaseReason)
	assert.Equal(t, models.HoldHeld, freshStored.Status)
	assert.Len(t, bus.ByType(events.InventoryHoldExpired), 1)
}
