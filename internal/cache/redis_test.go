//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rewards-engine/internal/model"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	rdb := goredis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck

	st := NewRedisStoreFromClient(rdb, "rewards:test:"+t.Name())
	require.NoError(t, st.Clear(context.Background()))
	t.Cleanup(func() { st.Clear(context.Background()) }) //nolint:errcheck
	return st
}

func TestRedisStore_SemanticRoundTrip(t *testing.T) {
	st := newTestRedisStore(t)
	c := New(st)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, model.OpLLM, "Did the caregiver go above and beyond?", "Stayed late", model.Judgment{Match: true, Confidence: 0.8}))

	got, ok := c.Lookup(ctx, model.OpLLM, "Did the caregiver go above and beyond today?", "Stayed late")
	require.True(t, ok)
	assert.True(t, got.Match)

	_, ok = c.Lookup(ctx, model.OpLLM, "Did the caregiver go above and beyond?", "Left early")
	assert.False(t, ok)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, int64(1), stats.TotalHits)
}

func TestRedisStore_DeleteBefore(t *testing.T) {
	st := newTestRedisStore(t)
	ctx := context.Background()

	old := Entry{Key: "old", Kind: model.OpLLM, Prompt: "p", FieldValue: "v", CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := Entry{Key: "fresh", Kind: model.OpLLM, Prompt: "p2", FieldValue: "v", CreatedAt: time.Now()}
	require.NoError(t, st.Put(ctx, old, time.Hour))
	require.NoError(t, st.Put(ctx, fresh, time.Hour))

	n, err := st.DeleteBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := st.Candidates(ctx, model.OpLLM, "v")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].Key)
}
