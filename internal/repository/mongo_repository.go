package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/table-reservation/internal/model"
)

// MongoReservationRepo stores reservations as documents keyed by their id.
type MongoReservationRepo struct {
	coll *mongo.Collection
}

func NewMongoReservationRepo(coll *mongo.Collection) *MongoReservationRepo {
	return &MongoReservationRepo{coll: coll}
}

// EnsureIndexes creates the compound index used by slot lookups and sums.
func (r *MongoReservationRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "date", Value: 1}, {Key: "slot", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

func (r *MongoReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	_, err := r.coll.InsertOne(ctx, res)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (r *MongoReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

var reservationOrder = bson.D{{Key: "date", Value: 1}, {Key: "slot", Value: 1}, {Key: "created_at", Value: 1}}

func (r *MongoReservationRepo) List(ctx context.Context, f ListFilter) ([]model.Reservation, error) {
	filter := bson.M{}
	if f.Date != "" {
		filter["date"] = f.Date
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return r.find(ctx, filter)
}

func (r *MongoReservationRepo) ConfirmedBySlot(ctx context.Context, date, slot string) ([]model.Reservation, error) {
	return r.find(ctx, bson.M{"date": date, "slot": slot, "status": model.StatusConfirmed})
}

func (r *MongoReservationRepo) find(ctx context.Context, filter bson.M) ([]model.Reservation, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(reservationOrder))
	if err != nil {
		return nil, err
	}
	out := make([]model.Reservation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SumConfirmed groups confirmed reservations of date by slot on the server.
func (r *MongoReservationRepo) SumConfirmed(ctx context.Context, date string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"date": date, "status": model.StatusConfirmed}}},
		{{Key: "$group", Value: bson.M{"_id": "$slot", "total": bson.M{"$sum": "$party_size"}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Slot  string `bson:"_id"`
		Total int    `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	sums := make(map[string]int, len(rows))
	for _, row := range rows {
		sums[row.Slot] = row.Total
	}
	return sums, nil
}

// MarkCancelled flips a confirmed document to cancelled in one
// find-and-modify, so concurrent cancels cannot both succeed.
func (r *MongoReservationRepo) MarkCancelled(ctx context.Context, id string, at time.Time) (*model.Reservation, error) {
	filter := bson.M{"_id": id, "status": model.StatusConfirmed}
	update := bson.M{"$set": bson.M{"status": model.StatusCancelled, "updated_at": at.UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var res model.Reservation
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	if err == nil {
		return &res, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyCancelled
}
