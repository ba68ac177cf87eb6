package pricingRepo

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

// MongoPricingRepo implements PricingRepository using MongoDB.
type MongoPricingRepo struct {
	decisionColl *mongo.Collection
	ruleColl     *mongo.Collection
	auditColl    *mongo.Collection
}

// NewMongoPricingRepo constructs a new instance of MongoPricingRepo.
func NewMongoPricingRepo() PricingRepository {
	db := database.MongoClient.Database("tably")
	repo := &MongoPricingRepo{
		decisionColl: db.Collection("price_decisions"),
		ruleColl:     db.Collection("pricing_rules"),
		auditColl:    db.Collection("pricing_audit"),
	}
	if err := repo.ensureIndexes(); err != nil {
		panic(fmt.Sprintf("pricing repo index creation failed: %v", err))
	}
	return repo
}

func (r *MongoPricingRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decisionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "valid_until", Value: 1}}},
	}
	if _, err := r.decisionColl.Indexes().CreateMany(ctx, decisionIndexes); err != nil {
		return fmt.Errorf("failed to create decision indexes: %w", err)
	}

	ruleIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "venue_type", Value: 1}, {Key: "active", Value: 1}}},
	}
	if _, err := r.ruleColl.Indexes().CreateMany(ctx, ruleIndexes); err != nil {
		return fmt.Errorf("failed to create rule indexes: %w", err)
	}

	auditIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "decision_ref", Value: 1}, {Key: "at", Value: 1}}},
	}
	if _, err := r.auditColl.Indexes().CreateMany(ctx, auditIndexes); err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (r *MongoPricingRepo) InsertDecision(ctx context.Context, decision *models.PriceDecision) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.decisionColl.InsertOne(ctx, decision); err != nil {
		return fmt.Errorf("failed to insert price decision: %w", err)
	}
	return nil
}

func (r *MongoPricingRepo) GetDecision(ctx context.Context, reference string) (*models.PriceDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var decision models.PriceDecision
	if err := r.decisionColl.FindOne(ctx, bson.M{"reference": reference}).Decode(&decision); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("error fetching decision %s: %w", reference, err)
	}
	return &decision, nil
}

func (r *MongoPricingRepo) TransitionDecision(ctx context.Context, reference string, from, to models.DecisionStatus, bookingRef string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": to}
	if bookingRef != "" {
		set["booking_reference"] = bookingRef
	}

	res, err := r.decisionColl.UpdateOne(ctx,
		bson.M{"reference": reference, "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to transition decision %s: %w", reference, err)
	}
	if res.MatchedCount == 0 {
		return ErrDecisionState
	}
	return nil
}

func (r *MongoPricingRepo) FindExpiredQuoted(ctx context.Context, now time.Time, limit int64) ([]models.PriceDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"status":      models.DecisionQuoted,
		"valid_until": bson.M{"$lt": now},
	}
	cursor, err := r.decisionColl.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error fetching expired quotes: %w", err)
	}
	defer cursor.Close(ctx)

	var decisions []models.PriceDecision
	if err := cursor.All(ctx, &decisions); err != nil {
		return nil, fmt.Errorf("error decoding expired quotes: %w", err)
	}
	return decisions, nil
}

func (r *MongoPricingRepo) ListActiveRules(ctx context.Context, venueType string) ([]models.PricingRule, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"venue_type": bson.M{"$in": []string{venueType, ""}}, "active": true}
	cursor, err := r.ruleColl.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "priority", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing rules: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []models.PricingRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("error decoding rules: %w", err)
	}
	return rules, nil
}

func (r *MongoPricingRepo) InsertRule(ctx context.Context, rule *models.PricingRule) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.ruleColl.InsertOne(ctx, rule); err != nil {
		return fmt.Errorf("failed to insert pricing rule: %w", err)
	}
	return nil
}

func (r *MongoPricingRepo) AppendAudit(ctx context.Context, entry *models.PricingAuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.auditColl.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *MongoPricingRepo) ListAudit(ctx context.Context, reference string) ([]models.PricingAuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.auditColl.Find(ctx, bson.M{"decision_ref": reference},
		options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.PricingAuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("error decoding audit entries: %w", err)
	}
	return entries, nil
}
