package migrations

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureDistributionLogIndexes creates the indexes the MongoDB log store relies on.
// The unique idempotency_key index is what makes log appends safe to retry.
func EnsureDistributionLogIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetName("uniq_distribution_logs_idempotency_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_distribution_logs_workspace_created"),
		},
		{
			Keys:    bson.D{{Key: "lead_id", Value: 1}},
			Options: options.Index().SetName("idx_distribution_logs_lead"),
		},
	}

	if _, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}
	return nil
}
