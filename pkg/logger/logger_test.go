package logger

import (
	"context"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func countKey(entry observer.LoggedEntry, key string) int {
	n := 0
	for _, field := range entry.Context {
		if field.Key == key {
			n++
		}
	}
	return n
}

func TestNamedReplacesComponent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewWithCore("server", core)

	log.Named("identity").Info("named")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, countKey(entries[0], "component"))
	assert.Equal(t, "identity", entries[0].ContextMap()["component"])
}

func TestNamedKeepsRequestAndUser(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")

	NewWithCore("server", core).WithContext(ctx).WithUser(42).Named("tasks").Audit("task deleted", "task_id", 7)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, 1, countKey(entries[0], "component"))
	assert.Equal(t, "tasks", fields["component"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, int64(42), fields["user_id"])
	assert.Equal(t, true, fields["audit"])
	assert.Equal(t, int64(7), fields["task_id"])
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() {
		log.Named("x").WithUser(1).Error("ignored", "k", "v")
	})
}
