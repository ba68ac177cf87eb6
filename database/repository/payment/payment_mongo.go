package paymentRepo

import (
	"context"
	"fmt"
	"time"

	"tably/database"
	"tably/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPaymentRepo implements PaymentRepository using MongoDB.
type MongoPaymentRepo struct {
	paymentColl *mongo.Collection
	refundColl  *mongo.Collection
}

// NewMongoPaymentRepo constructs a new instance of MongoPaymentRepo.
func NewMongoPaymentRepo() PaymentRepository {
	db := database.MongoClient.Database("tably")
	repo := &MongoPaymentRepo{
		paymentColl: db.Collection("payments"),
		refundColl:  db.Collection("refunds"),
	}
	if err := repo.ensureIndexes(); err != nil {
		panic(fmt.Sprintf("payment repo index creation failed: %v", err))
	}
	return repo
}

func (r *MongoPaymentRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	paymentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "booking_id", Value: 1}}},
	}
	if _, err := r.paymentColl.Indexes().CreateMany(ctx, paymentIndexes); err != nil {
		return fmt.Errorf("failed to create payment indexes: %w", err)
	}

	refundIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "payment_id", Value: 1}}},
	}
	if _, err := r.refundColl.Indexes().CreateMany(ctx, refundIndexes); err != nil {
		return fmt.Errorf("failed to create refund indexes: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.paymentColl.InsertOne(ctx, payment); err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepo) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoPaymentRepo) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"reference": reference})
}

func (r *MongoPaymentRepo) GetByBookingID(ctx context.Context, bookingID string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"booking_id": bookingID})
}

func (r *MongoPaymentRepo) findOne(ctx context.Context, filter bson.M) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var payment models.Payment
	if err := r.paymentColl.FindOne(ctx, filter).Decode(&payment); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching payment: %w", err)
	}
	return &payment, nil
}

func (r *MongoPaymentRepo) TransitionStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, expectedVersion int64, extra map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		set[k] = v
	}

	filter := bson.M{"id": id, "status": bson.M{"$in": from}, "version": expectedVersion}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}

	res, err := r.paymentColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to transition payment %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *MongoPaymentRepo) InsertRefundGuarded(ctx context.Context, payment *models.Payment, refund *models.Refund) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	paymentAmount, err := decimal.NewFromString(payment.Amount)
	if err != nil {
		return fmt.Errorf("invalid payment amount %q: %w", payment.Amount, err)
	}
	refundAmount, err := decimal.NewFromString(refund.Amount)
	if err != nil {
		return fmt.Errorf("invalid refund amount %q: %w", refund.Amount, err)
	}

	sess, err := r.refundColl.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnFn := func(sc mongo.SessionContext) error {
		cursor, err := r.refundColl.Find(sc, bson.M{
			"payment_id": refund.PaymentID,
			"status":     bson.M{"$in": []models.RefundStatus{models.RefundPending, models.RefundCompleted}},
		})
		if err != nil {
			return fmt.Errorf("refund sum query failed: %w", err)
		}
		var existing []models.Refund
		if err := cursor.All(sc, &existing); err != nil {
			return fmt.Errorf("refund sum decode failed: %w", err)
		}

		total := refundAmount
		for _, re := range existing {
			amt, err := decimal.NewFromString(re.Amount)
			if err != nil {
				return fmt.Errorf("invalid stored refund amount %q: %w", re.Amount, err)
			}
			total = total.Add(amt)
		}
		if total.GreaterThan(paymentAmount) {
			return ErrRefundExceedsPayment
		}

		if _, err := r.refundColl.InsertOne(sc, refund); err != nil {
			return fmt.Errorf("failed to insert refund: %w", err)
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
		if err == ErrRefundExceedsPayment {
			return err
		}
		return fmt.Errorf("refund transaction failed: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepo) UpdateRefund(ctx context.Context, id string, status models.RefundStatus, providerRefundID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": status, "updated_at": time.Now()}
	if providerRefundID != "" {
		set["provider_refund_id"] = providerRefundID
	}
	res, err := r.refundColl.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update refund %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("refund %s not found", id)
	}
	return nil
}

func (r *MongoPaymentRepo) ListRefunds(ctx context.Context, paymentID string) ([]models.Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.refundColl.Find(ctx, bson.M{"payment_id": paymentID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var refunds []models.Refund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, fmt.Errorf("error decoding refunds: %w", err)
	}
	return refunds, nil
}
