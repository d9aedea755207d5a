package motion

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

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "motion.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(openTestDB(t).DB)

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DefaultSettings(), got)

	want := Settings{Mode: ModeKalman, Window: 12, ProcessNoise: 0.02, ObservationNoise: 0.3}
	require.NoError(t, store.Save(ctx, want))

	got, ok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	// Saving again overwrites the single row.
	want.Window = 5
	require.NoError(t, store.Save(ctx, want))
	got, _, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Window)
}

func TestSQLiteStoreRejectsInvalid(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t).DB)
	err := store.Save(context.Background(), Settings{Mode: ModeKalman, Window: 0, ProcessNoise: 1, ObservationNoise: 1})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

type recordedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
	ts          time.Time
}

type fakePointWriter struct {
	points []recordedPoint
}

func (f *fakePointWriter) WritePointWithTime(m string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	f.points = append(f.points, recordedPoint{m, tags, fields, ts})
}

func TestInfluxTelemetry(t *testing.T) {
	w := &fakePointWriter{}
	tel := NewInfluxTelemetry(w)

	ts := time.Unix(1_700_000_000, 0)
	d := identityDelta()
	d.Translation.X = 0.25
	tel.WriteMotionSample(Sample{Time: ts, ReferenceIndex: 3, Mode: ModeMovingAverage, Delta: d})

	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, "motion_compensation", p.measurement)
	assert.Equal(t, map[string]string{"reference_index": "3", "mode": "moving_average"}, p.tags)
	assert.InDelta(t, 0.25, p.fields["offset_m"], 1e-12)
	assert.InDelta(t, 0.0, p.fields["rotation_deg"], 1e-9)
	assert.Equal(t, ts, p.ts)
}
