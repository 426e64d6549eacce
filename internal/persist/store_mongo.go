package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// Server error codes that mean the collection is missing or rejects the
// document shape.
const (
	codeNamespaceNotFound         = 26
	codeDocumentValidationFailure = 121
)

type MongoConfig struct {
	URI               string
	Database          string
	Collection        string
	RequireCollection bool
	ConnectTimeout    time.Duration
}

// chunkDocument is the stored form of a transcript chunk.
type chunkDocument struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	CorrelationID   string             `bson:"correlation_id"`
	SessionID       string             `bson:"session_id"`
	Text            string             `bson:"text"`
	Speaker         int                `bson:"speaker"`
	TimestampOffset float64            `bson:"timestamp_offset"`
	Confidence      float64            `bson:"confidence"`
	CreatedAt       time.Time          `bson:"created_at"`
	PersistedAt     time.Time          `bson:"persisted_at"`
}

// MongoStore persists chunks to one MongoDB collection, upserting by
// correlation id so retried batches never duplicate.
type MongoStore struct {
	client     *mongo.Client
	db         *mongo.Database
	coll       *mongo.Collection
	cfg        MongoConfig
	log        zerolog.Logger
	mu         sync.Mutex
	collExists bool
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client: client,
		db:     db,
		coll:   db.Collection(cfg.Collection),
		cfg:    cfg,
		log:    logging.WithComponent("persist.mongo"),
	}
	s.log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("connected")
	return s, nil
}

// EnsureIndexes creates the unique correlation id index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("correlation_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp_offset", Value: 1}},
			Options: options.Index().SetName("session_offset"),
		},
	})
	if err != nil {
		return classifyMongoError(s.cfg.Collection, err)
	}
	return nil
}

func (s *MongoStore) checkCollection(ctx context.Context) error {
	if !s.cfg.RequireCollection {
		return nil
	}
	s.mu.Lock()
	exists := s.collExists
	s.mu.Unlock()
	if exists {
		return nil
	}

	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: s.cfg.Collection}})
	if err != nil {
		return classifyMongoError(s.cfg.Collection, err)
	}
	if len(names) == 0 {
		return &SchemaUnavailableError{
			Destination: s.cfg.Database + "." + s.cfg.Collection,
			Err:         errors.New("collection does not exist"),
		}
	}
	s.mu.Lock()
	s.collExists = true
	s.mu.Unlock()
	return nil
}

func (s *MongoStore) InsertMany(ctx context.Context, chunks []transcript.Chunk) (map[string]string, error) {
	if len(chunks) == 0 {
		return map[string]string{}, nil
	}
	if err := s.checkCollection(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		doc := chunkDocument{
			CorrelationID:   c.CorrelationID,
			SessionID:       c.SessionID,
			Text:            c.Text,
			Speaker:         c.Speaker,
			TimestampOffset: c.TimestampOffset,
			Confidence:      c.Confidence,
			CreatedAt:       c.CreatedAt.UTC(),
			PersistedAt:     now,
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "correlation_id", Value: c.CorrelationID}}).
			SetUpdate(bson.D{{Key: "$setOnInsert", Value: doc}}).
			SetUpsert(true))
		ids = append(ids, c.CorrelationID)
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return nil, classifyMongoError(s.cfg.Collection, err)
	}
	s.log.Debug().
		Int64("upserted", res.UpsertedCount).
		Int64("matched", res.MatchedCount).
		Msg("bulk write")

	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "correlation_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}, {Key: "correlation_id", Value: 1}}),
	)
	if err != nil {
		return nil, classifyMongoError(s.cfg.Collection, err)
	}
	defer cur.Close(ctx)

	out := make(map[string]string, len(chunks))
	for cur.Next(ctx) {
		var doc struct {
			ID            primitive.ObjectID `bson:"_id"`
			CorrelationID string             `bson:"correlation_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return out, &TransientWriteError{Err: fmt.Errorf("decode id: %w", err)}
		}
		out[doc.CorrelationID] = doc.ID.Hex()
	}
	if err := cur.Err(); err != nil {
		return out, classifyMongoError(s.cfg.Collection, err)
	}
	return out, nil
}

// ListSession returns the stored chunks of a session ordered by offset.
func (s *MongoStore) ListSession(ctx context.Context, sessionID string) ([]transcript.Chunk, error) {
	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		options.Find().SetSort(bson.D{{Key: "timestamp_offset", Value: 1}}),
	)
	if err != nil {
		return nil, classifyMongoError(s.cfg.Collection, err)
	}
	var docs []chunkDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongoError(s.cfg.Collection, err)
	}
	out := make([]transcript.Chunk, len(docs))
	for i, d := range docs {
		out[i] = transcript.Chunk{
			ID:              d.ID.Hex(),
			CorrelationID:   d.CorrelationID,
			SessionID:       d.SessionID,
			Text:            d.Text,
			Speaker:         d.Speaker,
			TimestampOffset: d.TimestampOffset,
			Confidence:      d.Confidence,
			CreatedAt:       d.CreatedAt,
		}
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classifyMongoError maps driver errors onto the persistence taxonomy.
func classifyMongoError(collection string, err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeNamespaceNotFound) || se.HasErrorCode(codeDocumentValidationFailure)) {
		return &SchemaUnavailableError{Destination: collection, Err: err}
	}
	return &TransientWriteError{Err: err}
}
