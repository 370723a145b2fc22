package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const defaultCollection = "documents"

// MongoStore persists document records in MongoDB.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore connects to MongoDB and prepares the documents collection,
// including the unique (tenantId, documentId) index that backs the
// duplicate-key and find-or-create guarantees.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collection == "" {
		collection = defaultCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenantId", Value: 1},
			{Key: "documentId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating document index: %w", err)
	}

	logger.Info("connected to document store",
		zap.String("database", database),
		zap.String("collection", collection))

	return &MongoStore{client: client, coll: coll, logger: logger}, nil
}

func keyFilter(key Key) bson.M {
	return bson.M{"tenantId": key.TenantID, "documentId": key.DocumentID}
}

// FindOne returns the record for key, or ErrNotFound.
func (s *MongoStore) FindOne(ctx context.Context, key Key) (*Record, error) {
	var record Record
	err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, key.TenantID, key.DocumentID)
	}
	if err != nil {
		return nil, fmt.Errorf("finding document record: %w", err)
	}
	return &record, nil
}

// FindOrCreate atomically returns the existing record or inserts
// defaultRecord via an upsert with $setOnInsert. The key fields come from
// the filter, so they are excluded from the insert document.
func (s *MongoStore) FindOrCreate(ctx context.Context, key Key, defaultRecord *Record) (bool, *Record, error) {
	setOnInsert := bson.M{
		"sequenceNumber":        defaultRecord.SequenceNumber,
		"minimumSequenceNumber": defaultRecord.MinimumSequenceNumber,
		"parent":                defaultRecord.Parent,
		"forks":                 defaultRecord.Forks,
		"createTime":            defaultRecord.CreateTime,
	}
	if defaultRecord.LogOffset != 0 {
		setOnInsert["logOffset"] = defaultRecord.LogOffset
	}
	if defaultRecord.Clients != nil {
		setOnInsert["clients"] = defaultRecord.Clients
	}
	if defaultRecord.BranchMap != nil {
		setOnInsert["branchMap"] = defaultRecord.BranchMap
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var before Record
	err := s.coll.FindOneAndUpdate(ctx, keyFilter(key), bson.M{"$setOnInsert": setOnInsert}, opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// No prior record: the upsert inserted defaultRecord.
		return false, defaultRecord.Clone(), nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("find-or-create document record: %w", err)
	}
	return true, &before, nil
}

// InsertOne creates a new record, mapping index violations to
// ErrDuplicateKey.
func (s *MongoStore) InsertOne(ctx context.Context, record *Record) error {
	_, err := s.coll.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, record.TenantID, record.DocumentID)
	}
	if err != nil {
		return fmt.Errorf("inserting document record: %w", err)
	}
	return nil
}

// Update applies sets via $set and appends via $push in a single atomic
// update. $push appends server-side, so concurrent fork registrations on
// the same parent never overwrite each other.
func (s *MongoStore) Update(ctx context.Context, key Key, sets map[string]any, appends map[string]any) error {
	update := bson.M{}
	if len(sets) > 0 {
		set := bson.M{}
		for field, value := range sets {
			set[field] = value
		}
		update["$set"] = set
	}
	if len(appends) > 0 {
		push := bson.M{}
		for field, value := range appends {
			push[field] = value
		}
		update["$push"] = push
	}
	if len(update) == 0 {
		return nil
	}

	result, err := s.coll.UpdateOne(ctx, keyFilter(key), update)
	if err != nil {
		return fmt.Errorf("updating document record: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, key.TenantID, key.DocumentID)
	}
	return nil
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
