package evolution

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoArchiver stores pruned audit entries in a MongoDB collection. The
// document shape mirrors EvolutionLogEntry plus an archived_at timestamp, so
// the full trail remains queryable after retention kicks in.
type MongoArchiver struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// archivedEntry is the document written per pruned log entry.
type archivedEntry struct {
	TopicID     string    `bson:"topic_id"`
	FromVersion *int      `bson:"from_version,omitempty"`
	ToVersion   int       `bson:"to_version"`
	Reason      string    `bson:"reason"`
	Changes     string    `bson:"changes"`
	CreatedAt   time.Time `bson:"created_at"`
	ArchivedAt  time.Time `bson:"archived_at"`
}

// NewMongoArchiver connects to MongoDB and returns an archiver writing to
// database/collection.
func NewMongoArchiver(ctx context.Context, uri, database, collection string, logger *zap.Logger) (*MongoArchiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	return &MongoArchiver{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With(zap.String("component", "audit_archive")),
	}, nil
}

// ArchiveEntries writes the entries in one batch insert.
func (m *MongoArchiver) ArchiveEntries(ctx context.Context, entries []EvolutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	docs := make([]any, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		docs = append(docs, archivedEntry{
			TopicID:     e.TopicID,
			FromVersion: e.FromVersion,
			ToVersion:   e.ToVersion,
			Reason:      e.Reason,
			Changes:     string(e.Changes),
			CreatedAt:   e.CreatedAt,
			ArchivedAt:  now,
		})
	}

	if _, err := m.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to archive audit entries: %w", err)
	}
	m.logger.Info("audit entries archived", zap.Int("count", len(docs)))
	return nil
}

// Close disconnects the underlying client.
func (m *MongoArchiver) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

var _ Archiver = (*MongoArchiver)(nil)
