package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	idempotencyRepo "tably/database/repository/idempotency"
	"tably/models"
)

// DefaultTTL is how long a recorded result answers replays.
const DefaultTTL = 24 * time.Hour

// ErrConflict signals a reused key with a divergent request payload.
var ErrConflict = errors.New("idempotency key reused with different payload")

// Registry answers "has this operation already run?" per service.
type Registry interface {
	// Check returns the prior result id for (key, operation), or found=false.
	// A stored hash that differs from requestHash fails with ErrConflict.
	Check(ctx context.Context, key, operation, requestHash string) (string, bool, error)
	// Record stores the result of the first successful call. If a concurrent
	// writer won, the winner's result id is returned.
	Record(ctx context.Context, key, operation, resultID, requestHash string) (string, error)
}

// DefaultRegistry implements Registry over the idempotency repository.
type DefaultRegistry struct {
	Repo idempotencyRepo.IdempotencyRepository
	TTL  time.Duration
}

func (r *DefaultRegistry) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}

func (r *DefaultRegistry) Check(ctx context.Context, key, operation, requestHash string) (string, bool, error) {
	record, err := r.Repo.Get(ctx, key, operation)
	if err != nil {
		if errors.Is(err, idempotencyRepo.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("idempotency check failed: %w", err)
	}
	if record.RequestHash != requestHash {
		return "", false, ErrConflict
	}
	return record.ResultID, true, nil
}

func (r *DefaultRegistry) Record(ctx context.Context, key, operation, resultID, requestHash string) (string, error) {
	now := time.Now()
	record := &models.IdempotencyRecord{
		Key:         key,
		Operation:   operation,
		ResultID:    resultID,
		RequestHash: requestHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl()),
	}
	stored, err := r.Repo.Put(ctx, record)
	if err != nil {
		return "", fmt.Errorf("idempotency record failed: %w", err)
	}
	if stored.RequestHash != requestHash {
		return "", ErrConflict
	}
	return stored.ResultID, nil
}

// HashRequest produces a stable hash of a request payload for divergence
// detection on key reuse.
func HashRequest(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
