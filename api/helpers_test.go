package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/models"

	"github.com/stretchr/testify/require"
)

func corruptTable(t *testing.T, store *database.LocalDatabase, table string) {
	t.Helper()
	path := filepath.Join(store.DataDir(), table+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
}

// setUser writes fields straight to a user record
func setUser(t *testing.T, store *database.LocalDatabase, userID int64, fields models.Record) {
	t.Helper()
	n, err := store.Update(context.Background(), models.TableUsers, database.Conditions{"id": userID}, fields)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
