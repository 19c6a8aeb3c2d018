package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEnvelopeBuilder(t *testing.T) {
	env, err := NewMessageEnvelopeBuilder(EventTypeLeadAssigned).
		WithSource("distribution-service").
		WithWorkspaceID("ws-1").
		WithPayload(LeadAssigned{LeadID: "lead-1", WorkspaceID: "ws-1", AssignedTo: "user-2"}).
		Build()
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "ws-1", env.Metadata.WorkspaceID)

	var got LeadAssigned
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, "user-2", got.AssignedTo)
}

func TestMessageEnvelopeBuilder_MissingSource(t *testing.T) {
	_, err := NewMessageEnvelopeBuilder(EventTypeLeadCreated).
		WithPayload(LeadCreated{LeadID: "lead-1"}).
		Build()

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source", verr.Field)
}

func TestValidateLeadCreated(t *testing.T) {
	assert.NoError(t, ValidateLeadCreated(&LeadCreated{LeadID: "l", WorkspaceID: "w"}))

	err := ValidateLeadCreated(&LeadCreated{LeadID: "l"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "workspace_id", verr.Field)
}
