package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"safeping/internal/config"
	"safeping/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformBackup(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "queue.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Enqueue(ctx, models.CollectionEmergencies, &models.QueuedSubmission{
		Data:      json.RawMessage(`{"type":"sos"}`),
		AuthToken: "tok",
	}))

	backupDir := filepath.Join(dir, "backups")
	logger := zerolog.Nop()
	svc := NewBackupService(dbPath, config.BackupConfig{
		Enabled:     true,
		StoragePath: backupDir,
	}, &logger)

	require.NoError(t, svc.PerformBackup())

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "queue_"))

	// The backup is a usable store containing the queued emergency.
	restored, err := Open(filepath.Join(backupDir, entries[0].Name()))
	require.NoError(t, err)
	defer restored.Close()

	items, err := restored.ListAll(ctx, models.CollectionEmergencies)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCleanupOldBackupsMissingDir(t *testing.T) {
	logger := zerolog.Nop()
	svc := NewBackupService("queue.db", config.BackupConfig{
		RetentionDays: 7,
		StoragePath:   filepath.Join(t.TempDir(), "missing"),
	}, &logger)

	// Cleanup on a directory that does not exist only logs.
	svc.CleanupOldBackups()
}
