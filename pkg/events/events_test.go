package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	require.NoError(t, p.Publish(context.Background(), NewEvent(SubjectUserCreated, 1, map[string]interface{}{"id": 1})))
	require.NoError(t, p.Publish(context.Background(), NewEvent(SubjectTeamCreated, 1, nil)))

	assert.Equal(t, []string{SubjectUserCreated, SubjectTeamCreated}, p.Subjects())
	assert.Equal(t, int64(1), p.Events()[0].ActorID)
	assert.False(t, p.Events()[0].OccurredAt.IsZero())
}

func TestNewPublisherWithoutURL(t *testing.T) {
	p := NewPublisher("")
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), NewEvent(SubjectTaskCreated, 0, nil)))
}
