package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"bookshelf-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore implements DocumentStore using one MongoDB collection per kind.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ DocumentStore = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and returns a store on database.
func NewMongoStore(uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database), logger: logger}
	s.createIndexes(ctx)

	logger.Info("connected to MongoDB", zap.String("database", database))
	return s, nil
}

// createIndexes adds lookup indexes for reference and filter fields.
// Failures are logged; queries still work without them.
func (s *MongoStore) createIndexes(ctx context.Context) {
	indexes := map[string][]string{
		model.KindBook:      {model.FieldAuthorID, model.FieldPublisherID, model.FieldGenre},
		model.KindPublisher: {model.FieldEstablishedYear},
	}
	for kind, fields := range indexes {
		models := make([]mongo.IndexModel, len(fields))
		for i, field := range fields {
			models[i] = mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}
		}
		if _, err := s.collection(kind).Indexes().CreateMany(ctx, models); err != nil {
			s.logger.Warn("failed to create indexes",
				zap.String("collection", model.Collection(kind)), zap.Error(err))
		}
	}
}

func (s *MongoStore) collection(kind string) *mongo.Collection {
	return s.db.Collection(model.Collection(kind))
}

// Find returns matching documents ordered by _id.
func (s *MongoStore) Find(ctx context.Context, kind string, filter Filter) ([]model.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: model.IDField, Value: 1}})
	cursor, err := s.collection(kind).Find(ctx, toBSON(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", model.Collection(kind), err)
	}
	defer cursor.Close(ctx)

	var docs []model.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
		docs = append(docs, normalize(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", model.Collection(kind), err)
	}
	return docs, nil
}

// FindByID returns one document or ErrNotFound.
func (s *MongoStore) FindByID(ctx context.Context, kind, id string) (model.Document, error) {
	var raw bson.M
	err := s.collection(kind).FindOne(ctx, bson.M{model.IDField: id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return normalize(raw), nil
}

// Insert stores doc. Generated ids are ObjectID hex strings so that _id order
// follows insertion order.
func (s *MongoStore) Insert(ctx context.Context, kind string, doc model.Document) (string, error) {
	stored := bson.M{}
	for k, v := range doc {
		stored[k] = v
	}
	id := doc.ID()
	if id == "" {
		id = primitive.NewObjectID().Hex()
	}
	stored[model.IDField] = id

	if _, err := s.collection(kind).InsertOne(ctx, stored); err != nil {
		return "", fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return id, nil
}

// Update translates patch into $set, $addToSet and $pull.
func (s *MongoStore) Update(ctx context.Context, kind, id string, patch Patch) (bool, error) {
	filter := bson.M{model.IDField: id}

	if patch.IsEmpty() {
		n, err := s.collection(kind).CountDocuments(ctx, filter)
		if err != nil {
			return false, fmt.Errorf("failed to find %s %s: %w", kind, id, err)
		}
		return n > 0, nil
	}

	update := bson.M{}
	if len(patch.Set) > 0 {
		update["$set"] = bson.M(patch.Set)
	}
	if len(patch.Push) > 0 {
		push := bson.M{}
		for field, value := range patch.Push {
			push[field] = value
		}
		update["$addToSet"] = push
	}
	if len(patch.Pull) > 0 {
		pull := bson.M{}
		for field, value := range patch.Pull {
			pull[field] = value
		}
		update["$pull"] = pull
	}

	result, err := s.collection(kind).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	return result.MatchedCount > 0, nil
}

// Delete removes one document.
func (s *MongoStore) Delete(ctx context.Context, kind, id string) (bool, error) {
	result, err := s.collection(kind).DeleteOne(ctx, bson.M{model.IDField: id})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	return result.DeletedCount > 0, nil
}

// Stats returns per-collection document counts.
func (s *MongoStore) Stats(ctx context.Context, kinds []string) (map[string]any, error) {
	stats := map[string]any{"backend": "mongodb", "status": "connected", "database": s.db.Name()}

	for _, kind := range kinds {
		count, err := s.collection(kind).CountDocuments(ctx, bson.M{})
		if err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", model.Collection(kind), err)
		}
		stats[model.Collection(kind)] = count
	}
	return stats, nil
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// toBSON converts a Filter into a MongoDB query document.
func toBSON(filter Filter) bson.M {
	if len(filter) == 0 {
		return bson.M{}
	}

	clauses := make(bson.A, 0, len(filter))
	for _, c := range filter {
		switch c.Op {
		case OpEq:
			clauses = append(clauses, bson.M{c.Field: c.Value})
		case OpBetween:
			clauses = append(clauses, bson.M{c.Field: bson.M{"$gt": c.Value, "$lt": c.Max}})
		case OpContains:
			term, _ := c.Value.(string)
			clauses = append(clauses, bson.M{c.Field: primitive.Regex{
				Pattern: regexp.QuoteMeta(term),
				Options: "i",
			}})
		}
	}
	return bson.M{"$and": clauses}
}

// normalize converts driver-specific BSON values into plain JSON-compatible ones.
func normalize(raw bson.M) model.Document {
	doc := make(model.Document, len(raw))
	for k, v := range raw {
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(normalize(t))
	case bson.D:
		return map[string]any(normalize(t.Map()))
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case int32:
		return int64(t)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}
