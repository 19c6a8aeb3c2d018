package distribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"leadflow/pkg/metrics"
)

type logDocument struct {
	ID             string    `bson:"_id"`
	WorkspaceID    string    `bson:"workspace_id"`
	LeadID         string    `bson:"lead_id"`
	RuleID         string    `bson:"rule_id"`
	AssignedUserID string    `bson:"assigned_user_id"`
	Source         string    `bson:"source"`
	PipelineID     string    `bson:"pipeline_id"`
	Mode           string    `bson:"distribution_mode"`
	Reason         string    `bson:"reason"`
	IdempotencyKey string    `bson:"idempotency_key"`
	CreatedAt      time.Time `bson:"created_at"`
}

// MongoLogRepository is a LogStore for deployments that keep the audit trail
// in MongoDB. It relies on the unique idempotency_key index.
type MongoLogRepository struct {
	collection *mongo.Collection
}

func NewMongoLogRepository(db *mongo.Database, collection string) *MongoLogRepository {
	return &MongoLogRepository{collection: db.Collection(collection)}
}

func (r *MongoLogRepository) AppendLog(ctx context.Context, entry Log) error {
	start := time.Now()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, toLogDocument(entry))
	if mongo.IsDuplicateKeyError(err) {
		err = nil
	}
	metrics.ObserveQuery("mongodb", "append_log", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert distribution log: %w", err)
	}
	return nil
}

func (r *MongoLogRepository) ListLogs(ctx context.Context, workspaceID string, limit int) ([]Log, error) {
	start := time.Now()

	filter := bson.M{"workspace_id": workspaceID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		metrics.ObserveQuery("mongodb", "list_logs", time.Since(start), err)
		return nil, fmt.Errorf("failed to find distribution logs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []logDocument
	err = cursor.All(ctx, &docs)
	metrics.ObserveQuery("mongodb", "list_logs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to decode distribution logs: %w", err)
	}

	logs := make([]Log, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, d.toLog())
	}
	return logs, nil
}

func toLogDocument(l Log) logDocument {
	return logDocument{
		ID:             l.ID,
		WorkspaceID:    l.WorkspaceID,
		LeadID:         l.LeadID,
		RuleID:         l.RuleID,
		AssignedUserID: l.AssignedUserID,
		Source:         l.Source,
		PipelineID:     l.PipelineID,
		Mode:           string(l.Mode),
		Reason:         l.Reason,
		IdempotencyKey: l.IdempotencyKey,
		CreatedAt:      l.CreatedAt,
	}
}

func (d logDocument) toLog() Log {
	return Log{
		ID:             d.ID,
		WorkspaceID:    d.WorkspaceID,
		LeadID:         d.LeadID,
		RuleID:         d.RuleID,
		AssignedUserID: d.AssignedUserID,
		Source:         d.Source,
		PipelineID:     d.PipelineID,
		Mode:           Mode(d.Mode),
		Reason:         d.Reason,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt,
	}
}
