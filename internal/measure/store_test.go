package measure

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "measurements.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func batch(n int, tag string) []Event {
	base := time.Unix(1700000000, 0)
	out := make([]Event, n)
	for i := range out {
		start := base.Add(time.Duration(i) * time.Millisecond)
		out[i] = NewEvent(tag, start, start.Add(time.Duration(i+1)*time.Millisecond))
	}
	return out
}

func TestSQLiteStore_AppendIncreasesCountByBatchSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch(5, "a")))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	require.NoError(t, s.Append(ctx, batch(7, "b")))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	require.NoError(t, s.Append(ctx, nil))
	n, _ = s.Count(ctx)
	assert.Equal(t, int64(12), n, "empty batch must not change the count")
}

func TestSQLiteStore_ReadIsIdempotentAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch(3, "a")))
	require.NoError(t, s.Append(ctx, batch(3, "b")))

	first, err := s.All(ctx)
	require.NoError(t, err)
	second, err := s.All(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 6)
	for i := 1; i < len(first); i++ {
		assert.Greater(t, first[i].ID, first[i-1].ID, "ids must increase monotonically")
	}
	assert.Equal(t, "a", first[0].Tag)
	assert.Equal(t, "b", first[5].Tag)
	assert.Equal(t, int64(1000), first[0].ElapsedMicros)
}

func TestRecreate_StartsEmpty(t *testing.T) {
	path := GenerationPath(t.TempDir(), 3)
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, batch(4, "x")))
	require.NoError(t, s.Close())

	s, err = Recreate(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "measurements-3.db", filepath.Base(s.Path()))
}
