package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// MongoStore keeps one document per match in a single collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
	now    func() time.Time
}

// Ensure MongoStore implements MatchStore interface
var _ storage.MatchStore = (*MongoStore)(nil)

// NewMongoStore connects to uri and binds database/collection. The driver
// connects lazily; call Ping or EnsureIndexes to verify reachability.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Health and lifecycle methods

func (m *MongoStore) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Error("Failed to close Mongo connection", "error", err)
		return err
	}
	m.logger.Info("Mongo connection closed")
	return nil
}

// EnsureIndexes creates the unique key index and the recency index.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: match.FieldMatch, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: match.FieldTime, Value: -1}, {Key: match.FieldMatch, Value: -1}},
		},
	})
	if err != nil {
		return &storage.StoreError{Op: "ensure indexes", Err: err}
	}
	return nil
}

// Match operations

func (m *MongoStore) UpsertMerge(ctx context.Context, key string, fields match.Record) error {
	if err := storage.Validate(key, fields); err != nil {
		return err
	}

	filter := bson.D{{Key: match.FieldMatch, Value: key}}
	update := buildUpdate(fields, m.now())
	_, err := m.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		m.logger.Error("Failed to upsert match", "match", key, "error", err)
		return &storage.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (m *MongoStore) Read(ctx context.Context, key string) (match.Record, error) {
	return m.findOne(ctx, "read", bson.D{{Key: match.FieldMatch, Value: key}})
}

func (m *MongoStore) FindNextUnprocessed(ctx context.Context, field string) (match.Record, error) {
	return m.findOne(ctx, "find", unprocessedFilter(field))
}

func (m *MongoStore) ListRecentSummarized(ctx context.Context, limit int) ([]match.Record, error) {
	opts := options.Find().
		SetSort(recentSort()).
		SetProjection(bson.D{{Key: "_id", Value: 0}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	filter := bson.D{{Key: match.FieldSummary, Value: bson.D{{Key: "$exists", Value: true}}}}
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, &storage.StoreError{Op: "list", Err: err}
	}
	defer cursor.Close(ctx)

	records := make([]match.Record, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, &storage.StoreError{Op: "list", Err: err}
		}
		records = append(records, normalizeDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, &storage.StoreError{Op: "list", Err: err}
	}
	return records, nil
}

func (m *MongoStore) findOne(ctx context.Context, op string, filter bson.D) (match.Record, error) {
	opts := options.FindOne().
		SetSort(recentSort()).
		SetProjection(bson.D{{Key: "_id", Value: 0}})

	var doc bson.M
	err := m.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.StoreError{Op: op, Err: err}
	}
	return normalizeDocument(doc), nil
}

func recentSort() bson.D {
	return bson.D{{Key: match.FieldTime, Value: -1}, {Key: match.FieldMatch, Value: -1}}
}

// unprocessedFilter selects records with a key, a timeline array holding at
// least one event and no result under field. Null, scalar and object
// timelines never match.
func unprocessedFilter(field string) bson.D {
	return bson.D{
		{Key: match.FieldMatch, Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}},
		{Key: match.FieldTimeline, Value: bson.D{{Key: "$type", Value: "array"}}},
		{Key: match.FieldTimeline + ".0", Value: bson.D{{Key: "$exists", Value: true}}},
		{Key: field, Value: bson.D{{Key: "$exists", Value: false}}},
	}
}

// buildUpdate turns a partial record into $set/$unset/$setOnInsert operators.
// Empty operators are omitted; the server rejects them.
func buildUpdate(fields match.Record, now time.Time) bson.D {
	set := bson.D{}
	unset := bson.D{}
	for k, v := range fields {
		if k == match.FieldMatch {
			continue
		}
		if v == nil {
			unset = append(unset, bson.E{Key: k, Value: ""})
			continue
		}
		if k == match.FieldTime {
			v = match.TimeValue(v)
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	if _, hasTime := fields[match.FieldTime]; !hasTime {
		update = append(update, bson.E{Key: "$setOnInsert", Value: bson.D{{Key: match.FieldTime, Value: now.UnixMilli()}}})
	}
	return update
}

// normalizeDocument converts driver types into plain JSON-friendly values.
func normalizeDocument(doc bson.M) match.Record {
	record := make(match.Record, len(doc))
	for k, v := range doc {
		record[k] = normalizeValue(v)
	}
	return record
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	case int32:
		return int64(t)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return int64(t)
	case primitive.Decimal128:
		return t.String()
	default:
		return v
	}
}
