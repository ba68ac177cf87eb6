package inventoryRepo

import (
	"context"
	"fmt"
	"time"

	"tably/database"
	"tably/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoInventoryRepo implements InventoryRepository using MongoDB.
type MongoInventoryRepo struct {
	resourceColl *mongo.Collection
	holdColl     *mongo.Collection
}

// NewMongoInventoryRepo constructs a new instance of MongoInventoryRepo.
func NewMongoInventoryRepo() InventoryRepository {
	db := database.MongoClient.Database("tably")
	repo := &MongoInventoryRepo{
		resourceColl: db.Collection("resources"),
		holdColl:     db.Collection("holds"),
	}
	if err := repo.ensureIndexes(); err != nil {
		panic(fmt.Sprintf("inventory repo index creation failed: %v", err))
	}
	return repo
}

func (r *MongoInventoryRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resourceIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "venue_id", Value: 1}}},
	}
	if _, err := r.resourceColl.Indexes().CreateMany(ctx, resourceIndexes); err != nil {
		return fmt.Errorf("failed to create resource indexes: %w", err)
	}

	holdIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "status", Value: 1}, {Key: "window.start", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	}
	if _, err := r.holdColl.Indexes().CreateMany(ctx, holdIndexes); err != nil {
		return fmt.Errorf("failed to create hold indexes: %w", err)
	}
	return nil
}

func (r *MongoInventoryRepo) CreateResource(ctx context.Context, resource *models.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.resourceColl.InsertOne(ctx, resource); err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

func (r *MongoInventoryRepo) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resource models.Resource
	if err := r.resourceColl.FindOne(ctx, bson.M{"id": id}).Decode(&resource); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("error fetching resource %s: %w", id, err)
	}
	return &resource, nil
}

func (r *MongoInventoryRepo) ListResources(ctx context.Context, venueID string) ([]models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.resourceColl.Find(ctx, bson.M{"venue_id": venueID, "active": true})
	if err != nil {
		return nil, fmt.Errorf("error listing resources: %w", err)
	}
	defer cursor.Close(ctx)

	var resources []models.Resource
	if err := cursor.All(ctx, &resources); err != nil {
		return nil, fmt.Errorf("error decoding resources: %w", err)
	}
	return resources, nil
}

// overlapFilter matches held/confirmed holds whose half-open window
// intersects the given one: hold.start < window.end && window.start < hold.end.
func overlapFilter(window models.TimeWindow) bson.M {
	return bson.M{
		"status":       bson.M{"$in": []models.HoldStatus{models.HoldHeld, models.HoldConfirmed}},
		"window.start": bson.M{"$lt": window.End},
		"window.end":   bson.M{"$gt": window.Start},
	}
}

func (r *MongoInventoryRepo) BlockedResourceIDs(ctx context.Context, venueID string, window models.TimeWindow) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resources, err := r.ListResources(ctx, venueID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resources))
	for _, res := range resources {
		ids = append(ids, res.ID)
	}

	filter := overlapFilter(window)
	filter["resource_id"] = bson.M{"$in": ids}

	values, err := r.holdColl.Distinct(ctx, "resource_id", filter)
	if err != nil {
		return nil, fmt.Errorf("error querying overlapping holds: %w", err)
	}

	blocked := make(map[string]bool, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			blocked[id] = true
		}
	}
	return blocked, nil
}

func (r *MongoInventoryRepo) AcquireHold(ctx context.Context, hold *models.InventoryHold) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sess, err := r.holdColl.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnFn := func(sc mongo.SessionContext) error {
		// Bumping the resource hold sequence forces a write conflict between
		// concurrent transactions on the same resource, so exactly one of two
		// racing acquisitions commits.
		res, err := r.resourceColl.UpdateOne(sc,
			bson.M{"id": hold.ResourceID, "active": true},
			bson.M{"$inc": bson.M{"hold_seq": 1}},
		)
		if err != nil {
			return fmt.Errorf("failed to lock resource %s: %w", hold.ResourceID, err)
		}
		if res.MatchedCount == 0 {
			return ErrResourceNotFound
		}

		filter := overlapFilter(hold.Window)
		filter["resource_id"] = hold.ResourceID
		count, err := r.holdColl.CountDocuments(sc, filter)
		if err != nil {
			return fmt.Errorf("overlap check failed: %w", err)
		}
		if count > 0 {
			return ErrHoldConflict
		}

		if _, err := r.holdColl.InsertOne(sc, hold); err != nil {
			return fmt.Errorf("failed to insert hold: %w", err)
		}
		return nil
	}

	if err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := txnFn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	}); err != nil {
		if err == ErrHoldConflict || err == ErrResourceNotFound {
			return err
		}
		return fmt.Errorf("hold transaction failed: %w", err)
	}
	return nil
}

func (r *MongoInventoryRepo) GetHold(ctx context.Context, id string) (*models.InventoryHold, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var hold models.InventoryHold
	if err := r.holdColl.FindOne(ctx, bson.M{"id": id}).Decode(&hold); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("error fetching hold %s: %w", id, err)
	}
	return &hold, nil
}

func (r *MongoInventoryRepo) TransitionHold(ctx context.Context, id string, from []models.HoldStatus, to models.HoldStatus, reason string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": to}
	if reason != "" {
		set["release_reason"] = reason
	}

	res, err := r.holdColl.UpdateOne(ctx,
		bson.M{"id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition hold %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		// Idempotent when the hold already carries the target status.
		hold, err := r.GetHold(ctx, id)
		if err != nil {
			return false, err
		}
		if hold.Status == to {
			return false, nil
		}
		return false, fmt.Errorf("hold %s is %s, cannot move to %s", id, hold.Status, to)
	}
	return true, nil
}

func (r *MongoInventoryRepo) FindExpiredHolds(ctx context.Context, now time.Time, limit int64) ([]models.InventoryHold, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"status":     models.HoldHeld,
		"expires_at": bson.M{"$lt": now},
	}
	cursor, err := r.holdColl.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error fetching expired holds: %w", err)
	}
	defer cursor.Close(ctx)

	var holds []models.InventoryHold
	if err := cursor.All(ctx, &holds); err != nil {
		return nil, fmt.Errorf("error decoding expired holds: %w", err)
	}
	return holds, nil
}
