//go:build integration

package distribution_test

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"leadflow/internal/broker"
	"leadflow/internal/config"
	"leadflow/internal/distribution"
	"leadflow/internal/logger"
	"leadflow/pkg/models"
)

const (
	leadCreatedTopic  = "leads.created"
	leadAssignedTopic = "leads.assigned"
)

func setupKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("leadflow-test"),
	)
	require.NoError(t, err, "failed to start kafka container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers
}

func createTopics(t *testing.T, brokerAddr string, topics ...string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	require.NoError(t, ctrl.CreateTopics(configs...))
}

func TestKafka_LeadCreatedIsAssignedAndAnnounced(t *testing.T) {
	db := setupPostgres(t)
	brokers := setupKafka(t)
	createTopics(t, brokers[0], leadCreatedTopic, leadAssignedTopic)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	log := logger.NopLogger()

	kafkaCfg := config.KafkaConfig{Brokers: brokers, GroupID: "distribution-test"}

	producer := broker.NewKafkaProducer(kafkaCfg, log)
	t.Cleanup(func() { _ = producer.Close() })

	repo := distribution.NewPostgresRepository(db, []string{"won", "lost"})
	ruleID := insertRule(t, db, "ws-kafka", "Facebook", "round_robin", []string{"facebook"}, 10)
	insertMember(t, db, ruleID, "alice", nil)
	insertMember(t, db, ruleID, "bob", nil)
	leadID := insertLead(t, db, "ws-kafka", "Facebook Ads", "new", nil)

	svc, err := distribution.NewService(distribution.Stores{
		Rules:     repo,
		Members:   repo,
		Leads:     repo,
		Logs:      repo,
		Counters:  repo,
		Cursors:   repo,
		Publisher: distribution.NewAssignmentPublisher(producer, leadAssignedTopic),
	}, distribution.Options{StoreTimeout: 5 * time.Second, CursorMaxRetries: 3}, log)
	require.NoError(t, err)

	consumer := broker.NewKafkaConsumer(kafkaCfg, log)
	t.Cleanup(func() { _ = consumer.Close() })

	handler := distribution.NewLeadEventHandler(svc, log)
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consumer.Consume(ctx, leadCreatedTopic, handler.HandleLeadCreated)
	}()

	envelope, err := models.NewMessageEnvelopeBuilder(models.EventTypeLeadCreated).
		WithSource("lead-store").
		WithWorkspaceID("ws-kafka").
		WithPayload(models.LeadCreated{LeadID: leadID, WorkspaceID: "ws-kafka", Source: "Facebook Ads"}).
		Build()
	require.NoError(t, err)
	require.NoError(t, producer.Publish(ctx, leadCreatedTopic, *envelope))

	require.Eventually(t, func() bool {
		var assignee *string
		if err := db.QueryRow(`SELECT assigned_to FROM leads WHERE id = $1`, leadID).Scan(&assignee); err != nil {
			return false
		}
		return assignee != nil && *assignee == "alice"
	}, time.Minute, 500*time.Millisecond)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       leadAssignedTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	var announced models.MessageEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &announced))
	assert.Equal(t, models.EventTypeLeadAssigned, announced.Type)
	assert.Equal(t, "ws-kafka", announced.Metadata.WorkspaceID)
	assert.Equal(t, []byte("ws-kafka"), msg.Key)

	var payload models.LeadAssigned
	require.NoError(t, announced.DecodePayload(&payload))
	assert.Equal(t, leadID, payload.LeadID)
	assert.Equal(t, "alice", payload.AssignedTo)
	assert.Equal(t, ruleID, payload.RuleID)
	assert.Equal(t, "round_robin", payload.Mode)

	cancel()
	select {
	case err := <-consumeErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(30 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}
