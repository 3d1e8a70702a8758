package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDatabaseReusesInstance(t *testing.T) {
	t.Cleanup(ResetPool)
	config := DatabaseConfig{UseLocalDB: true, DataDir: t.TempDir()}

	first, err := GetDatabase(config)
	require.NoError(t, err)
	second, err := GetDatabase(config)
	require.NoError(t, err)
	assert.Same(t, first, second)

	stats := GetConnectionStats()
	assert.Equal(t, "connected", stats["status"])
	assert.Equal(t, "json", stats["backend"])

	other, err := GetDatabase(DatabaseConfig{UseLocalDB: true, DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestNewDatabaseDefaultsToFiles(t *testing.T) {
	store, err := NewDatabase(DatabaseConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := store.(*LocalDatabase)
	assert.True(t, ok)
}
