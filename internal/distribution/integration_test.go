//go:build integration

package distribution_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"leadflow/internal/distribution"
	"leadflow/internal/logger"
	"leadflow/pkg/migrations"
)

const containerStartupTimeout = 60 * time.Second

func init() {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
}

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("test_db"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	version, err := migrations.UpPostgres(db)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)
	return db
}

func setupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:6")
	require.NoError(t, err, "failed to start mongo container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	return client.Database("test_db")
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func insertRule(t *testing.T, db *sql.DB, ws, name, mode string, sources []string, priority int) string {
	t.Helper()
	var id string
	err := db.QueryRow(`
		INSERT INTO distribution_rules (workspace_id, name, distribution_mode, apply_to_sources, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ws, name, mode, pq.Array(sources), priority).Scan(&id)
	require.NoError(t, err)
	return id
}

func insertMember(t *testing.T, db *sql.DB, ruleID, userID string, maxOpen *int) string {
	t.Helper()
	var id string
	err := db.QueryRow(`
		INSERT INTO distribution_members (rule_id, user_id, max_open_leads)
		VALUES ($1, $2, $3)
		RETURNING id
	`, ruleID, userID, maxOpen).Scan(&id)
	require.NoError(t, err)
	// created_at orders the roster.
	time.Sleep(10 * time.Millisecond)
	return id
}

func insertLead(t *testing.T, db *sql.DB, ws, source, status string, assignee *string) string {
	t.Helper()
	var id string
	err := db.QueryRow(`
		INSERT INTO leads (workspace_id, source, status, assigned_to)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, ws, source, status, assignee).Scan(&id)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	return id
}

func newService(t *testing.T, repo *distribution.PostgresRepository, guard distribution.CounterGuard) *distribution.Service {
	t.Helper()
	svc, err := distribution.NewService(distribution.Stores{
		Rules:    repo,
		Members:  repo,
		Leads:    repo,
		Logs:     repo,
		Counters: repo,
		Cursors:  repo,
		Guard:    guard,
	}, distribution.Options{StoreTimeout: 5 * time.Second, CursorMaxRetries: 3}, logger.NopLogger())
	require.NoError(t, err)
	return svc
}

func TestPostgres_RoundRobinEndToEnd(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := distribution.NewPostgresRepository(db, []string{"won", "lost"})

	ruleID := insertRule(t, db, "ws-1", "Facebook", "round_robin", []string{"facebook"}, 10)
	alice := insertMember(t, db, ruleID, "alice", nil)
	insertMember(t, db, ruleID, "bob", nil)

	svc := newService(t, repo, setupRedisGuard(t))

	var assigned []string
	for i := 0; i < 4; i++ {
		leadID := insertLead(t, db, "ws-1", "Facebook Ads", "new", nil)
		result, err := svc.Distribute(ctx, distribution.Request{LeadID: leadID, WorkspaceID: "ws-1", Source: "Facebook Ads"})
		require.NoError(t, err)
		require.True(t, result.Success, result.Reason)
		assigned = append(assigned, result.AssignedTo)
	}
	assert.Equal(t, []string{"alice", "bob", "alice", "bob"}, assigned)

	cursor, err := repo.LoadCursor(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)

	var today, hour int
	require.NoError(t, db.QueryRow(
		`SELECT leads_assigned_today, leads_assigned_hour FROM distribution_members WHERE id = $1`, alice,
	).Scan(&today, &hour))
	assert.Equal(t, 2, today)
	assert.Equal(t, 2, hour)

	logs, err := repo.ListLogs(ctx, "ws-1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 4)

	open, err := repo.CountOpenLeadsForUser(ctx, "ws-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, open)

	n, err := repo.ResetHourlyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	result, err := svc.Distribute(ctx, distribution.Request{LeadID: "x", WorkspaceID: "ws-1", Source: "google"})
	require.NoError(t, err)
	assert.Equal(t, distribution.OutcomeNoMatchingRule, result.Outcome)
}

func setupRedisGuard(t *testing.T) distribution.CounterGuard {
	return distribution.NewRedisRepository(setupRedis(t), time.Hour, time.Minute)
}

func TestPostgres_CursorCompareAndSwap(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := distribution.NewPostgresRepository(db, nil)
	ruleID := insertRule(t, db, "ws-1", "RR", "round_robin", nil, 0)

	cursor, err := repo.LoadCursor(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, -1, cursor)

	require.NoError(t, repo.CompareAndSwapCursor(ctx, ruleID, -1, 0))
	assert.ErrorIs(t, repo.CompareAndSwapCursor(ctx, ruleID, -1, 0), distribution.ErrCursorConflict)
}

func TestPostgres_Leads(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := distribution.NewPostgresRepository(db, []string{"won", "lost"})

	carol := "carol"
	insertLead(t, db, "ws-1", "web", "won", &carol)
	insertLead(t, db, "ws-1", "web", "contacted", &carol)
	insertLead(t, db, "ws-1", "web", "lost", nil)
	first := insertLead(t, db, "ws-1", "web", "new", nil)
	second := insertLead(t, db, "ws-1", "web", "new", nil)
	insertLead(t, db, "ws-2", "web", "new", nil)

	open, err := repo.CountOpenLeadsForUser(ctx, "ws-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	leads, err := repo.ListUnassignedLeads(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, first, leads[0].ID)
	assert.Equal(t, second, leads[1].ID)

	require.NoError(t, repo.SetAssignee(ctx, first, "dave"))
	assert.ErrorIs(t, repo.SetAssignee(ctx, "00000000-0000-0000-0000-000000000000", "dave"), distribution.ErrLeadNotFound)
}

func TestPostgres_AppendLogIsIdempotent(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := distribution.NewPostgresRepository(db, nil)

	entry := distribution.Log{
		WorkspaceID:    "ws-1",
		LeadID:         "lead-1",
		RuleID:         "rule-1",
		AssignedUserID: "alice",
		Mode:           distribution.ModeFixed,
		Reason:         "Fixed — user alice",
		IdempotencyKey: distribution.IdempotencyKey("lead-1", "rule-1", time.Now()),
	}
	require.NoError(t, repo.AppendLog(ctx, entry))
	require.NoError(t, repo.AppendLog(ctx, entry))

	logs, err := repo.ListLogs(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Fixed — user alice", logs[0].Reason)
}

func TestMongoLogRepository(t *testing.T) {
	db := setupMongo(t)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureDistributionLogIndexes(ctx, db, "distribution_logs"))
	repo := distribution.NewMongoLogRepository(db, "distribution_logs")

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		entry := distribution.Log{
			WorkspaceID:    "ws-1",
			LeadID:         fmt.Sprintf("lead-%d", i),
			RuleID:         "rule-1",
			AssignedUserID: "alice",
			Mode:           distribution.ModeRoundRobin,
			Reason:         "Round robin — index 0",
			IdempotencyKey: fmt.Sprintf("lead-%d:rule-1:0", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.AppendLog(ctx, entry))
		require.NoError(t, repo.AppendLog(ctx, entry), "duplicates are ignored")
	}

	logs, err := repo.ListLogs(ctx, "ws-1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "lead-2", logs[0].LeadID)
	assert.Equal(t, "lead-1", logs[1].LeadID)
	assert.Equal(t, distribution.ModeRoundRobin, logs[0].Mode)
}
