package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type slotDoc struct {
	ID        string `bson:"_id"`
	Date      string `bson:"date"`
	Slot      string `bson:"slot"`
	Committed int    `bson:"committed"`
}

// Mongo keeps one document per slot.  Admission is a conditional $inc that
// only matches while the increment fits; a missing document is created with
// an insert, and losing that race to another writer is retried.
type Mongo struct {
	coll        *mongo.Collection
	capacity    CapacityFunc
	maxAttempts int
	timeout     time.Duration
}

// NewMongo returns a ledger over coll.  maxAttempts bounds the optimistic
// loop in TryReserve; timeout bounds every call.
func NewMongo(coll *mongo.Collection, capacity CapacityFunc, maxAttempts int, timeout time.Duration) *Mongo {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Mongo{coll: coll, capacity: capacity, maxAttempts: maxAttempts, timeout: timeout}
}

func (l *Mongo) Committed(ctx context.Context, date, slot string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.committed(ctx, date, slot)
}

func (l *Mongo) committed(ctx context.Context, date, slot string) (int, error) {
	var doc slotDoc
	err := l.coll.FindOne(ctx, bson.M{"_id": Key(date, slot)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, l.wrap("find", err)
	}
	return doc.Committed, nil
}

func (l *Mongo) Remaining(ctx context.Context, date, slot string) (int, error) {
	committed, err := l.Committed(ctx, date, slot)
	if err != nil {
		return 0, err
	}
	return remaining(l.capacity(date), committed), nil
}

func (l *Mongo) TryReserve(ctx context.Context, date, slot string, partySize int) (bool, error) {
	if partySize <= 0 {
		return false, ErrInvalidAmount
	}
	capacity := l.capacity(date)
	if partySize > capacity {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := Key(date, slot)
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		filter := bson.M{"_id": key, "committed": bson.M{"$lte": capacity - partySize}}
		res, err := l.coll.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"committed": partySize}})
		if err != nil {
			return false, l.wrap("admit", err)
		}
		if res.MatchedCount == 1 {
			return true, nil
		}

		current, err := l.committed(ctx, date, slot)
		if err != nil {
			return false, err
		}
		found := current > 0
		if !found {
			if found, err = l.exists(ctx, key); err != nil {
				return false, err
			}
		}
		if found {
			if current+partySize > capacity {
				return false, nil
			}
			// The total moved between our update and read; try again.
			continue
		}

		_, err = l.coll.InsertOne(ctx, slotDoc{ID: key, Date: date, Slot: slot, Committed: partySize})
		if err == nil {
			return true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return false, l.wrap("insert", err)
		}
		// Another writer created the document first; retry against it.
	}
	return false, fmt.Errorf("%w: %d attempts on %s", ErrCheckTimeout, l.maxAttempts, key)
}

func (l *Mongo) exists(ctx context.Context, key string) (bool, error) {
	n, err := l.coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, l.wrap("count", err)
	}
	return n > 0, nil
}

func (l *Mongo) Release(ctx context.Context, date, slot string, partySize int) error {
	if partySize <= 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	filter := bson.M{"_id": Key(date, slot), "committed": bson.M{"$gte": partySize}}
	res, err := l.coll.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"committed": -partySize}})
	if err != nil {
		return l.wrap("release", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: release %d from %s", ErrInvariantViolation, partySize, Key(date, slot))
	}
	return nil
}

func (l *Mongo) Set(ctx context.Context, date, slot string, committed int) error {
	if committed < 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	update := bson.M{"$set": bson.M{"date": date, "slot": slot, "committed": committed}}
	_, err := l.coll.UpdateOne(ctx, bson.M{"_id": Key(date, slot)}, update, options.Update().SetUpsert(true))
	if err != nil {
		return l.wrap("set", err)
	}
	return nil
}

// CompareAndSet updates the slot document only while its committed field
// still equals expected.  With expected zero a missing document is created;
// losing that insert to another writer counts as a lost comparison.
func (l *Mongo) CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error) {
	if committed < 0 || expected < 0 {
		return false, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := Key(date, slot)
	res, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": key, "committed": expected},
		bson.M{"$set": bson.M{"committed": committed}})
	if err != nil {
		return false, l.wrap("compare-and-set", err)
	}
	if res.MatchedCount == 1 || expected != 0 {
		return res.MatchedCount == 1, nil
	}

	_, err = l.coll.InsertOne(ctx, slotDoc{ID: key, Date: date, Slot: slot, Committed: committed})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, l.wrap("insert", err)
	}
	return true, nil
}

func (l *Mongo) wrap(op string, err error) error {
	if isTimeout(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: mongo %s: %v", ErrCheckTimeout, op, err)
	}
	return fmt.Errorf("ledger: mongo %s: %w", op, err)
}
