package offlinesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasircabang/backend/internal/customer"
	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/inventory"
	"kasircabang/backend/internal/ledger"
	"kasircabang/backend/internal/pricing"
	"kasircabang/backend/internal/sales"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/store/memory"
)

type countingCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.SyncSnapshot
	hits        int
	invalidated int
}

func (c *countingCache) Get(_ context.Context, branchID string) (*domain.SyncSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[branchID]
	if ok {
		c.hits++
	}
	return snap, ok, nil
}

func (c *countingCache) Set(_ context.Context, branchID string, value *domain.SyncSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[branchID] = value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, branchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, branchID)
	c.invalidated++
	return nil
}

type fixture struct {
	store   *memory.Store
	gateway *Gateway
	cache   *countingCache
	clock   *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	s := memory.New()
	s.PutProduct(domain.Product{ID: "prd-kopi", Name: "Kopi", Active: true, UpdatedAt: clock.Add(-48 * time.Hour)})
	s.PutVariant(domain.Variant{ID: "var-kopi", ProductID: "prd-kopi", SKU: "KOPI", Name: "Kopi", Active: true, UpdatedAt: clock.Add(-48 * time.Hour)})
	s.PutPriceProfile(domain.PriceProfile{VariantID: "var-kopi", RetailPrice: decimal.NewFromInt(1000), UpdatedAt: clock.Add(-48 * time.Hour)})
	s.PutInventory(domain.InventoryRecord{ID: "inv-kopi", VariantID: "var-kopi", BranchID: "branch-main", QuantityOnHand: 10})
	s.PutProduct(domain.Product{ID: "prd-gula", Name: "Gula", Active: true, UpdatedAt: clock.Add(-time.Hour)})

	inv := inventory.New(s, now)
	led := ledger.New(s, now, nil)
	coord := sales.New(s, pricing.New(now), inv, led, now, nil)
	members := customer.NewMembers(s, now)
	c := &countingCache{entries: map[string]*domain.SyncSnapshot{}}
	gw := New(s, coord, members, inv, Options{Snapshots: c, Now: now})
	return fixture{store: s, gateway: gw, cache: c, clock: &clock}
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func saleItem(t *testing.T, offlineID string, qty int) domain.SyncPushItem {
	return domain.SyncPushItem{
		OfflineID:  offlineID,
		EntityType: domain.SyncEntitySale,
		Action:     domain.SyncActionCreate,
		Data: rawJSON(t, map[string]any{
			"items": []map[string]any{{"variantId": "var-kopi", "quantity": qty}},
		}),
	}
}

func TestPushSaleTwiceYieldsOneSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.SyncPushRequest{BranchID: "branch-main", DeviceID: "dev-1", Items: []domain.SyncPushItem{saleItem(t, "dev-1-s-1", 2)}}

	first, err := f.gateway.Push(ctx, "cashier", req)
	require.NoError(t, err)
	second, err := f.gateway.Push(ctx, "cashier", req)
	require.NoError(t, err)

	require.Len(t, first.Results, 1)
	require.Len(t, second.Results, 1)
	assert.Equal(t, domain.SyncItemSuccess, first.Results[0].Status)
	assert.Equal(t, domain.SyncItemSuccess, second.Results[0].Status)
	assert.Equal(t, first.Results[0].ServerID, second.Results[0].ServerID)
	assert.True(t, first.Success)

	list, _, err := f.store.ListSales(ctx, "branch-main", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.SourcePOSOffline, list[0].Source)

	rec, err := f.store.GetInventory(ctx, "inv-kopi")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.QuantityOnHand)
}

func TestPushIsolatesItemFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.SyncPushRequest{
		BranchID: "branch-main",
		DeviceID: "dev-1",
		Items: []domain.SyncPushItem{
			saleItem(t, "dev-1-s-1", 1),
			saleItem(t, "dev-1-s-2", 50),
			{OfflineID: "dev-1-m-1", EntityType: "member", Action: "create", Data: rawJSON(t, map[string]any{"name": "Budi"})},
			{OfflineID: "dev-1-m-2", EntityType: domain.SyncEntityMember, Action: domain.SyncActionUpdate, Data: rawJSON(t, map[string]any{"name": "No Id"})},
			{OfflineID: "dev-1-x-1", EntityType: "VOUCHER", Data: rawJSON(t, map[string]any{})},
			{EntityType: domain.SyncEntitySale, Data: rawJSON(t, map[string]any{})},
			{OfflineID: "dev-1-a-1", EntityType: domain.SyncEntityInventoryAdjustment, Data: rawJSON(t, map[string]any{"variantId": "var-kopi", "quantity": -1, "reason": "broken"})},
		},
	}

	resp, err := f.gateway.Push(ctx, "cashier", req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 7)

	statuses := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []string{"SUCCESS", "FAILED", "SUCCESS", "FAILED", "FAILED", "FAILED", "SUCCESS"}, statuses)
	assert.Contains(t, resp.Results[1].Error, "insufficient stock")
	assert.Contains(t, resp.Results[3].Error, "requires id")
	assert.Contains(t, resp.Results[4].Error, "unknown sync entity type")
	assert.Equal(t, "offlineId is required", resp.Results[5].Error)
	assert.Equal(t, 3, resp.SuccessCount)
	assert.Equal(t, 4, resp.FailedCount)
	assert.False(t, resp.Success)

	rec, err := f.store.GetInventory(ctx, "inv-kopi")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.QuantityOnHand)

	last, err := f.gateway.Status(ctx, "branch-main", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPartial, last.Status)
	assert.Equal(t, domain.SyncDirectionPush, last.Direction)
	assert.Equal(t, 7, last.ItemCount)
	assert.Equal(t, 1, f.cache.invalidated)
}

func TestPushRejectsSaleForAnotherBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutInventory(domain.InventoryRecord{ID: "inv-kopi-north", VariantID: "var-kopi", BranchID: "branch-north", QuantityOnHand: 10})

	item := domain.SyncPushItem{
		OfflineID:  "dev-1-s-x",
		EntityType: domain.SyncEntitySale,
		Data: rawJSON(t, map[string]any{
			"branchId": "branch-north",
			"items":    []map[string]any{{"variantId": "var-kopi", "quantity": 3}},
		}),
	}
	resp, err := f.gateway.Push(ctx, "cashier", domain.SyncPushRequest{BranchID: "branch-main", DeviceID: "dev-1", Items: []domain.SyncPushItem{item}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.SyncItemFailed, resp.Results[0].Status)
	assert.Contains(t, resp.Results[0].Error, "forbidden")

	_, err = f.store.FindSaleByOfflineID(ctx, "dev-1-s-x")
	require.ErrorIs(t, err, store.ErrNotFound)
	north, err := f.store.GetInventory(ctx, "inv-kopi-north")
	require.NoError(t, err)
	assert.Equal(t, 10, north.QuantityOnHand)
	assert.Equal(t, 0, f.cache.invalidated)

	same := item
	same.OfflineID = "dev-1-s-y"
	same.Data = rawJSON(t, map[string]any{
		"branchId": "branch-main",
		"items":    []map[string]any{{"variantId": "var-kopi", "quantity": 1}},
	})
	resp, err = f.gateway.Push(ctx, "cashier", domain.SyncPushRequest{BranchID: "branch-main", DeviceID: "dev-1", Items: []domain.SyncPushItem{same}})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncItemSuccess, resp.Results[0].Status)
}

func TestPushAllFailedIsFailedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gateway.Push(ctx, "cashier", domain.SyncPushRequest{
		BranchID: "branch-main",
		DeviceID: "dev-2",
		Items:    []domain.SyncPushItem{{OfflineID: "x", EntityType: "UNKNOWN"}},
	})
	require.NoError(t, err)

	last, err := f.gateway.Status(ctx, "branch-main", "dev-2")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, last.Status)
}

func TestPushInventoryAdjustmentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := domain.SyncPushItem{OfflineID: "dev-1-a-9", EntityType: domain.SyncEntityInventoryAdjustment, Data: rawJSON(t, map[string]any{"variantId": "var-kopi", "quantity": 5})}
	req := domain.SyncPushRequest{BranchID: "branch-main", DeviceID: "dev-1", Items: []domain.SyncPushItem{item}}

	first, err := f.gateway.Push(ctx, "cashier", req)
	require.NoError(t, err)
	second, err := f.gateway.Push(ctx, "cashier", req)
	require.NoError(t, err)
	assert.Equal(t, first.Results[0].ServerID, second.Results[0].ServerID)

	rec, err := f.store.GetInventory(ctx, "inv-kopi")
	require.NoError(t, err)
	assert.Equal(t, 15, rec.QuantityOnHand)

	movement, err := f.store.FindStockMovementByOfflineID(ctx, "dev-1-a-9")
	require.NoError(t, err)
	assert.Equal(t, domain.MovementOfflineAdjustment, movement.Type)
	assert.Contains(t, movement.Reason, "dev-1")
}

func TestPushRequiresDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.gateway.Push(context.Background(), "cashier", domain.SyncPushRequest{BranchID: "branch-main"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestPullFullThenDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, err := f.gateway.Pull(ctx, "cashier", domain.SyncPullRequest{BranchID: "branch-main", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, full.FullSync)
	assert.Len(t, full.Products, 2)
	assert.Len(t, full.Variants, 1)
	assert.Len(t, full.PriceProfiles, 1)
	require.Len(t, full.Inventory, 1)
	assert.Equal(t, 10, full.Inventory[0].Available)
	assert.NotNil(t, full.Deletions)

	again, err := f.gateway.Pull(ctx, "cashier", domain.SyncPullRequest{BranchID: "branch-main", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.Equal(t, full.SyncTimestamp, again.SyncTimestamp)

	since := f.clock.Add(-2 * time.Hour)
	delta, err := f.gateway.Pull(ctx, "cashier", domain.SyncPullRequest{BranchID: "branch-main", DeviceID: "dev-1", LastSyncAt: &since})
	require.NoError(t, err)
	assert.False(t, delta.FullSync)
	require.Len(t, delta.Products, 1)
	assert.Equal(t, "prd-gula", delta.Products[0].ID)
	assert.Empty(t, delta.Variants)
	assert.Len(t, delta.Inventory, 1)

	last, err := f.gateway.Status(ctx, "branch-main", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncDirectionPull, last.Direction)
}
