package idempotency

import (
	"context"
	"testing"

	idempotencyRepo "tably/database/repository/idempotency"
	"tably/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdemRepo struct {
	records map[string]*models.IdempotencyRecord
}

func newFakeIdemRepo() *fakeIdemRepo {
	return &fakeIdemRepo{records: make(map[string]*models.IdempotencyRecord)}
}

func (r *fakeIdemRepo) Get(_ context.Context, key, operation string) (*models.IdempotencyRecord, error) {
	record, ok := r.records[key+"|"+operation]
	if !ok {
		return nil, idempotencyRepo.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *fakeIdemRepo) Put(_ context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	id := record.Key + "|" + record.Operation
	if existing, ok := r.records[id]; ok {
		// First writer wins, like the unique index in Mongo.
		copied := *existing
		return &copied, nil
	}
	copied := *record
	r.records[id] = &copied
	return record, nil
}

func TestCheckUnknownKey(t *testing.T) {
	registry := &DefaultRegistry{Repo: newFakeIdemRepo()}
	_, found, err := registry.Check(context.Background(), "k1", "booking.create", "h1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordThenCheckReturnsResult(t *testing.T) {
	registry := &DefaultRegistry{Repo: newFakeIdemRepo()}
	ctx := context.Background()

	resultID, err := registry.Record(ctx, "k1", "booking.create", "booking-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "booking-1", resultID)

	got, found, err := registry.Check(ctx, "k1", "booking.create", "h1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "booking-1", got)
}

func TestSameKeyDifferentOperationIsIndependent(t *testing.T) {
	registry := &DefaultRegistry{Repo: newFakeIdemRepo()}
	ctx := context.Background()

	_, err := registry.Record(ctx, "k1", "booking.create", "booking-1", "h1")
	require.NoError(t, err)

	_, found, err := registry.Check(ctx, "k1", "payment.initiate", "h1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDivergentPayloadConflicts(t *testing.T) {
	registry := &DefaultRegistry{Repo: newFakeIdemRepo()}
	ctx := context.Background()

	_, err := registry.Record(ctx, "k1", "booking.create", "booking-1", "h1")
	require.NoError(t, err)

	_, _, err = registry.Check(ctx, "k1", "booking.create", "different-hash")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRecordLoserGetsWinnerResult(t *testing.T) {
	registry := &DefaultRegistry{Repo: newFakeIdemRepo()}
	ctx := context.Background()

	winner, err := registry.Record(ctx, "k1", "booking.create", "booking-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "booking-1", winner)

	// Same payload raced in twice: the loser is answered with the winner's id.
	got, err := registry.Record(ctx, "k1", "booking.create", "booking-2", "h1")
	require.NoError(t, err)
	assert.Equal(t, "booking-1", got)

	// A loser with a divergent payload is a conflict, not a replay.
	_, err = registry.Record(ctx, "k1", "booking.create", "booking-3", "h2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestHashRequestIsStable(t *testing.T) {
	type req struct {
		A string
		B int
	}
	h1 := HashRequest(req{A: "x", B: 1})
	h2 := HashRequest(req{A: "x", B: 1})
	h3 := HashRequest(req{A: "x", B: 2})
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
