package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries(row int) []models.LogEntry {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.LogEntry{
		{Row: row, ActivityID: "A1", URL: "https://a.com/1.jpg", File: "A1_m_1.jpg", Status: models.StatusSuccess, Time: now},
		{Row: row, ActivityID: "A1", URL: "https://a.com/2.jpg", Status: models.StatusDownloadFailed, Error: "duplicate_image", Time: now},
	}
}

func TestCSVLogSinkAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "outcomes.csv")
	sink, err := NewCSVLogSink(path)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Append(context.Background(), sampleEntries(1)))
	require.NoError(t, sink.Append(context.Background(), sampleEntries(2)))
	require.NoError(t, sink.Append(context.Background(), nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "Row,ActivityId,URL,File,Status,Error,Time"))

	entries, err := ReadCSVLog(path)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, 2, entries[3].Row)
	assert.Equal(t, models.StatusDownloadFailed, entries[3].Status)
	assert.Equal(t, "duplicate_image", entries[3].Error)
	assert.Equal(t, "A1_m_1.jpg", entries[0].File)
	assert.True(t, entries[0].Time.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSQLiteStoreLogAndProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	ctx := context.Background()

	p, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, store.Append(ctx, sampleEntries(3)))
	require.NoError(t, store.Append(ctx, sampleEntries(4)))

	progress := models.NewProgress(3)
	progress.Advance(3)
	require.NoError(t, store.Save(ctx, progress))
	progress.Advance(4)
	require.NoError(t, store.Save(ctx, progress))
	require.NoError(t, store.Close())

	// 重新打开后数据仍在
	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 5, loaded.NextRow)
	assert.Equal(t, 2, loaded.Processed)
	assert.Equal(t, progress.RunID, loaded.RunID)

	all, err := store.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	row4, err := store.Entries(ctx, 4)
	require.NoError(t, err)
	require.Len(t, row4, 2)
	assert.Equal(t, "https://a.com/1.jpg", row4[0].URL)
	assert.Equal(t, models.StatusSuccess, row4[0].Status)
}

func TestFileProgressStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "progress.json")
	store := NewFileProgressStore(path)
	ctx := context.Background()

	p, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	progress := models.NewProgress(1)
	progress.Advance(9)
	require.NoError(t, store.Save(ctx, progress))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 10, loaded.NextRow)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrPersistence)
}
