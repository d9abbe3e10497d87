package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemStore_ReloadsFromDisk(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "gzip"}[compress], func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			cfg := Config{Chromem: ChromemConfig{Path: t.TempDir(), Compress: compress, Collection: "test"}}

			s, err := NewChromemStore(cfg, WithClock(clock.Now))
			require.NoError(t, err)
			_, err = s.Index(ctx, &IndexRequest{Key: "keep", Value: raw(`{"n":1}`), Category: CategoryResult, TaskID: "3"})
			require.NoError(t, err)
			_, err = s.Index(ctx, &IndexRequest{Key: "drop", Category: CategoryResult})
			require.NoError(t, err)
			require.NoError(t, s.Delete(ctx, "drop"))
			require.NoError(t, s.Close())

			reopened, err := NewChromemStore(cfg, WithClock(clock.Now))
			require.NoError(t, err)
			defer reopened.Close()

			got, err := reopened.Get(ctx, "keep")
			require.NoError(t, err)
			assert.JSONEq(t, `{"n":1}`, string(got.Value))
			assert.Equal(t, "3", got.TaskID)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, got.Timestamp.Equal(clock.Now()))

			_, err = reopened.Get(ctx, "drop")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestChromemStore_ExpiryPersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := Config{Chromem: ChromemConfig{Path: t.TempDir()}}

	s, err := NewChromemStore(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	_, err = s.Index(ctx, &IndexRequest{Key: "k", Category: CategoryContext, TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	clock.Advance(time.Hour)
	reopened, err := NewChromemStore(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := reopened.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, reopened.collection.Count())
}

func TestChromemStore_ClearRemovesDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Chromem: ChromemConfig{Path: t.TempDir()}}

	s, err := NewChromemStore(cfg)
	require.NoError(t, err)
	_, err = s.Index(ctx, &IndexRequest{Key: "k", Category: CategoryContext})
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}
