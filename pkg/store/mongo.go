package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/copperline/chatvault/pkg/model"
)

// MongoStore implements EntityStore and MessageLog on MongoDB.
// Upserts rely on findOneAndUpdate with $setOnInsert so created_at is
// written exactly once regardless of concurrent callers.
type MongoStore struct {
	client   *mongo.Client
	actors   *mongo.Collection
	sources  *mongo.Collection
	messages *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		actors:   db.Collection("actors"),
		sources:  db.Collection("sources"),
		messages: db.Collection("messages"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.actors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "actor_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("actor index: %w", err)
	}

	_, err = s.sources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "kind", Value: 1}, {Key: "source_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("source index: %w", err)
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_kind", Value: 1}, {Key: "source_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "target_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) UpsertActor(ctx context.Context, platform, id string, fields model.ActorFields) (model.Actor, error) {
	if platform == "" || id == "" {
		return model.Actor{}, fmt.Errorf("upsert actor: platform and id required")
	}

	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	if fields.Name != "" {
		set["name"] = fields.Name
	}
	if fields.Phone != "" {
		set["phone"] = fields.Phone
	}
	if fields.Handle != "" {
		set["handle"] = fields.Handle
	}
	if fields.IsSelf {
		set["is_self"] = true
	}

	filter := bson.M{"platform": platform, "actor_id": id}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"platform": platform, "actor_id": id, "created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var a model.Actor
	if err := s.actors.FindOneAndUpdate(ctx, filter, update, opts).Decode(&a); err != nil {
		return model.Actor{}, fmt.Errorf("upsert actor %s/%s: %w", platform, id, err)
	}
	return a, nil
}

func (s *MongoStore) UpsertSource(ctx context.Context, platform string, kind model.SourceKind, id string, fields model.SourceFields) (model.Source, error) {
	if platform == "" || id == "" {
		return model.Source{}, fmt.Errorf("upsert source: platform and id required")
	}

	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	if fields.Title != "" {
		set["title"] = fields.Title
	}

	filter := bson.M{"platform": platform, "kind": kind, "source_id": id}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"platform": platform, "kind": kind, "source_id": id, "created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var src model.Source
	if err := s.sources.FindOneAndUpdate(ctx, filter, update, opts).Decode(&src); err != nil {
		return model.Source{}, fmt.Errorf("upsert source %s/%s/%s: %w", platform, kind, id, err)
	}
	return src, nil
}

func (s *MongoStore) FindActor(ctx context.Context, platform, id string) (model.Actor, error) {
	var a model.Actor
	err := s.actors.FindOne(ctx, bson.M{"platform": platform, "actor_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Actor{}, ErrNotFound
	}
	if err != nil {
		return model.Actor{}, fmt.Errorf("find actor %s/%s: %w", platform, id, err)
	}
	return a, nil
}

func (s *MongoStore) ListActors(ctx context.Context, platform string) ([]model.Actor, error) {
	filter := bson.M{}
	if platform != "" {
		filter["platform"] = platform
	}
	cur, err := s.actors.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "platform", Value: 1}, {Key: "actor_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	var out []model.Actor
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListSources(ctx context.Context, kind model.SourceKind) ([]model.Source, error) {
	filter := bson.M{}
	if kind != "" {
		filter["kind"] = kind
	}
	cur, err := s.sources.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "platform", Value: 1}, {Key: "source_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var out []model.Source
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Append(ctx context.Context, msg model.Message) (string, error) {
	// ObjectID hex is time-prefixed, so sorting on _id preserves
	// insertion order for equal created_at values.
	msg.ID = primitive.NewObjectID().Hex()
	msg.StoredAt = time.Now().UTC()

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return msg.ID, nil
}

func (s *MongoStore) BySource(ctx context.Context, kind model.SourceKind, sourceID string, limit int) ([]model.Message, error) {
	return s.findMessages(ctx, bson.M{"source_kind": kind, "source_id": sourceID}, limit)
}

func (s *MongoStore) ByActor(ctx context.Context, actorID string, limit int) ([]model.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": actorID},
		bson.M{"target_id": actorID},
	}}
	return s.findMessages(ctx, filter, limit)
}

// findMessages returns messages ascending by created_at (ties broken
// by _id). A positive limit keeps the newest entries, matching the
// in-memory store.
func (s *MongoStore) findMessages(ctx context.Context, filter bson.M, limit int) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
