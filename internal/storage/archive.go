package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akoreshkov/modaflow/internal/config"
)

// MongoArchive writes run snapshots to a MongoDB collection.
type MongoArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoArchive connects to MongoDB and verifies the connection.
func NewMongoArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*MongoArchive, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoArchive{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger.With("component", "archive"),
	}, nil
}

func (a *MongoArchive) SaveSnapshot(ctx context.Context, snap RunSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := a.collection.InsertOne(ctx, snap); err != nil {
		return fmt.Errorf("mongodb insert: %w", err)
	}

	a.mu.Lock()
	a.count++
	total := a.count
	a.mu.Unlock()

	a.logger.Debug("snapshot archived",
		"run_id", snap.RunID, "listings", len(snap.Listings), "total", total)
	return nil
}

func (a *MongoArchive) Close(ctx context.Context) error {
	a.logger.Info("archive closing", "total_snapshots", a.count)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}
