package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/inputemu-core/internal/infrastructure/database"
	_ "github.com/nerrad567/inputemu-core/migrations"
)

func setupRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(context.Background()))
	return NewSQLiteRepository(db.DB)
}

func index(v uint32) *uint32 { return &v }

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	e := &Entry{Action: ActionWindow, Details: map[string]any{"window": 9}}
	require.NoError(t, repo.Create(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, SourceControlChannel, e.Source)
	assert.False(t, e.CreatedAt.IsZero())

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	got := res.Entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Nil(t, got.DeviceIndex)
	// JSON numbers come back as float64.
	assert.Equal(t, map[string]any{"window": float64(9)}, got.Details)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestList_FiltersAndOrders(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionDeviceMode, DeviceIndex: index(1), CreatedAt: base},
		{Action: ActionMotionReference, DeviceIndex: index(2), CreatedAt: base.Add(time.Second)},
		{Action: ActionDeviceMode, DeviceIndex: index(2), CreatedAt: base.Add(2 * time.Second)},
		{Action: ActionResetZero, CreatedAt: base.Add(3 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, ActionResetZero, all.Entries[0].Action)
	assert.Equal(t, defaultListLimit, all.Limit)

	modes, err := repo.List(ctx, Filter{Action: ActionDeviceMode})
	require.NoError(t, err)
	assert.Equal(t, 2, modes.Total)

	dev2, err := repo.List(ctx, Filter{DeviceIndex: index(2)})
	require.NoError(t, err)
	require.Len(t, dev2.Entries, 2)
	assert.Equal(t, ActionDeviceMode, dev2.Entries[0].Action)
	assert.Equal(t, ActionMotionReference, dev2.Entries[1].Action)

	page, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, entries[2].ID, page.Entries[0].ID)
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepository(t)
	res, err := repo.List(context.Background(), Filter{Limit: 5000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.Empty(t, res.Entries)
	assert.NotNil(t, res.Entries)
}
