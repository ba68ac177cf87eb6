package idempotencyRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tably/database"
	"tably/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound signals the key/operation pair has no prior record.
var ErrNotFound = errors.New("idempotency record not found")

// IdempotencyRepository stores first-writer-wins records keyed by
// (key, operation). The unique index serializes concurrent first writes;
// the loser reads back the winner's row.
type IdempotencyRepository interface {
	Get(ctx context.Context, key, operation string) (*models.IdempotencyRecord, error)
	// Put inserts the record. When another writer won the race, Put returns
	// the winner's record instead of the given one.
	Put(ctx context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error)
}

// MongoIdempotencyRepo implements IdempotencyRepository using MongoDB.
type MongoIdempotencyRepo struct {
	coll *mongo.Collection
}

// NewMongoIdempotencyRepo constructs a new instance of MongoIdempotencyRepo.
func NewMongoIdempotencyRepo() IdempotencyRepository {
	db := database.MongoClient.Database("tably")
	repo := &MongoIdempotencyRepo{coll: db.Collection("idempotency")}
	if err := repo.ensureIndexes(); err != nil {
		panic(fmt.Sprintf("idempotency repo index creation failed: %v", err))
	}
	return repo
}

func (r *MongoIdempotencyRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}, {Key: "operation", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// TTL index, documents vanish once expires_at passes.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoIdempotencyRepo) Get(ctx context.Context, key, operation string) (*models.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var record models.IdempotencyRecord
	filter := bson.M{"key": key, "operation": operation}
	if err := r.coll.FindOne(ctx, filter).Decode(&record); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching idempotency record: %w", err)
	}
	return &record, nil
}

func (r *MongoIdempotencyRepo) Put(ctx context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.Get(ctx, record.Key, record.Operation)
		}
		return nil, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return record, nil
}
