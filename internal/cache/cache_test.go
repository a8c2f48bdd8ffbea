package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasircabang/backend/internal/domain"
)

func TestNoopSnapshotCacheNeverHits(t *testing.T) {
	var c SnapshotCache = NoopSnapshotCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "branch-main", &domain.SyncSnapshot{BranchID: "branch-main"}, time.Minute))
	got, ok, err := c.Get(ctx, "branch-main")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx, "branch-main"))
}

func TestSnapshotKeyIsScopedByBranch(t *testing.T) {
	assert.Equal(t, "pos:sync:snapshot:branch-main", snapshotKey("branch-main"))
	assert.NotEqual(t, snapshotKey("branch-main"), snapshotKey("branch-north"))
}

func TestRedisSnapshotCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("POS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedisSnapshotCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	branch := "branch-cache-test"
	require.NoError(t, c.Invalidate(ctx, branch))
	_, ok, err := c.Get(ctx, branch)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := &domain.SyncSnapshot{
		BranchID:      branch,
		SyncTimestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		FullSync:      true,
		Inventory:     []domain.InventorySnapshot{{VariantID: "var-kopi", OnHand: 10, Available: 8}},
	}
	require.NoError(t, c.Set(ctx, branch, snap, time.Minute))
	got, ok, err := c.Get(ctx, branch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Inventory, got.Inventory)
	assert.True(t, got.SyncTimestamp.Equal(snap.SyncTimestamp))

	require.NoError(t, c.Invalidate(ctx, branch))
	_, ok, err = c.Get(ctx, branch)
	require.NoError(t, err)
	assert.False(t, ok)
}
