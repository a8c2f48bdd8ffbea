package cache

import (
	"context"
	"time"

	"kasircabang/backend/internal/domain"
)

// SnapshotCache holds full sync pull snapshots per branch.
type SnapshotCache interface {
	Get(ctx context.Context, branchID string) (*domain.SyncSnapshot, bool, error)
	Set(ctx context.Context, branchID string, value *domain.SyncSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, branchID string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.SyncSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.SyncSnapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func snapshotKey(branchID string) string {
	return "pos:sync:snapshot:" + branchID
}
