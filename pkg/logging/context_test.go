package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithLead(ctx, "ws-1", "lead-9")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"workspace_id", "ws-1",
		"lead_id", "lead-9",
	}, GetLogFields(ctx))
	assert.Equal(t, "ws-1", GetWorkspaceID(ctx))
	assert.Equal(t, "lead-9", GetLeadID(ctx))
}

func TestPlainStringKeysDoNotCollide(t *testing.T) {
	//nolint:staticcheck
	ctx := context.WithValue(context.Background(), "trace_id", "foreign")
	assert.Equal(t, "", GetTraceID(ctx))
}
