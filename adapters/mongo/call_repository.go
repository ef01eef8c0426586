package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

// CallRepository stores completed call records, one document per call.
type CallRepository struct {
	collection *mongo.Collection
}

// NewCallRepository creates a new MongoDB call record repository
func NewCallRepository(db *mongo.Database) repositories.CallRecordRepository {
	return &CallRepository{
		collection: db.Collection("calls"),
	}
}

// Save upserts by call SID. Status webhooks can arrive more than once for
// the same call; the latest record wins.
func (r *CallRepository) Save(ctx context.Context, record *entities.CallRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.CallSID == "" {
		return errors.New("record call SID cannot be empty")
	}

	filter := bson.M{"call_sid": record.CallSID}
	update := bson.M{"$set": record}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// GetByCallSID implements repositories.CallRecordRepository
func (r *CallRepository) GetByCallSID(ctx context.Context, callSID string) (*entities.CallRecord, error) {
	if callSID == "" {
		return nil, errors.New("call SID cannot be empty")
	}

	var record entities.CallRecord
	err := r.collection.FindOne(ctx, bson.M{"call_sid": callSID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // No record found, return nil without error
		}
		return nil, fmt.Errorf("failed to get call record %s: %w", callSID, err)
	}
	return &record, nil
}

// ListRecent returns the newest records first.
func (r *CallRepository) ListRecent(ctx context.Context, limit int) ([]*entities.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.M{"start_time": -1}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*entities.CallRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode call records: %w", err)
	}
	return records, nil
}
