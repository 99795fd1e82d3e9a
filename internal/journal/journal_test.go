package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "herald.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	enq := time.Now().Add(-time.Second).UTC().Truncate(time.Millisecond)
	require.NoError(t, j.Record(ctx, Entry{
		EventID: "e1", EventType: "alert", Priority: 0, Sequence: 1,
		Status: StatusResolved, EnqueuedAt: enq, Duration: 15 * time.Millisecond,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		EventID: "e2", EventType: "report", Source: "api", Priority: 5, Sequence: 2,
		Status: StatusFailed, Error: "boom",
	}))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "e2", got[0].EventID)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, "boom", got[0].Error)
	assert.Equal(t, "api", got[0].Source)
	assert.True(t, got[0].EnqueuedAt.IsZero())

	assert.Equal(t, "e1", got[1].EventID)
	assert.Equal(t, uint64(1), got[1].Sequence)
	assert.Equal(t, 15*time.Millisecond, got[1].Duration)
	assert.True(t, enq.Equal(got[1].EnqueuedAt))

	limited, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	require.NoError(t, j.Record(ctx, Entry{EventID: "old", EventType: "x", Status: StatusResolved, CompletedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(ctx, Entry{EventID: "new", EventType: "x", Status: StatusResolved}))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].EventID)

	n, err = j.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
