// Package offlinesync reconciles offline terminals with the server: push
// applies buffered operations exactly once, pull hands out a master-data
// snapshot.
package offlinesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kasircabang/backend/internal/cache"
	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/inventory"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/validation"
	"kasircabang/backend/internal/xid"
)

type SaleCreator interface {
	CreateSale(ctx context.Context, operatorID string, req domain.CreateSaleRequest) (*domain.Sale, error)
}

type MemberWriter interface {
	Create(ctx context.Context, req domain.MemberCreateRequest, offlineID string) (*domain.Member, error)
	Update(ctx context.Context, id string, req domain.MemberUpdateRequest) (*domain.Member, error)
}

type StockAdjuster interface {
	AdjustOffline(ctx context.Context, variantID string, branchID string, delta int, opts inventory.AdjustOptions) (*domain.StockMovement, error)
}

type Gateway struct {
	repo        store.Repository
	sales       SaleCreator
	members     MemberWriter
	stock       StockAdjuster
	snapshots   cache.SnapshotCache
	snapshotTTL time.Duration
	now         func() time.Time
	log         *slog.Logger
}

type Options struct {
	Snapshots   cache.SnapshotCache
	SnapshotTTL time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

func New(repo store.Repository, sales SaleCreator, members MemberWriter, stock StockAdjuster, opts Options) *Gateway {
	if opts.Snapshots == nil {
		opts.Snapshots = cache.NoopSnapshotCache{}
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		repo:        repo,
		sales:       sales,
		members:     members,
		stock:       stock,
		snapshots:   opts.Snapshots,
		snapshotTTL: opts.SnapshotTTL,
		now:         opts.Now,
		log:         opts.Logger,
	}
}

// Push applies every item in its own unit of work; one item failing never
// affects its siblings. A batch log entry is appended regardless of outcome.
func (g *Gateway) Push(ctx context.Context, operatorID string, req domain.SyncPushRequest) (domain.SyncPushResponse, error) {
	if err := requireDevice(req.BranchID, req.DeviceID); err != nil {
		return domain.SyncPushResponse{}, err
	}
	startedAt := g.now().UTC()

	resp := domain.SyncPushResponse{Results: make([]domain.SyncItemResult, 0, len(req.Items))}
	for _, item := range req.Items {
		result := g.apply(ctx, operatorID, req, item)
		switch result.Status {
		case domain.SyncItemSuccess:
			resp.SuccessCount++
		case domain.SyncItemConflict:
			resp.ConflictCount++
		default:
			resp.FailedCount++
		}
		resp.Results = append(resp.Results, result)
	}
	resp.Success = resp.FailedCount == 0
	resp.SyncTimestamp = g.now().UTC()

	status := domain.SyncStatusSuccess
	switch {
	case resp.FailedCount > 0 && resp.SuccessCount > 0:
		status = domain.SyncStatusPartial
	case resp.FailedCount > 0:
		status = domain.SyncStatusFailed
	}
	raw, err := json.Marshal(resp.Results)
	if err != nil {
		return domain.SyncPushResponse{}, err
	}
	g.appendLog(ctx, domain.SyncLogEntry{
		BranchID:      req.BranchID,
		DeviceID:      req.DeviceID,
		OperatorID:    operatorID,
		Direction:     domain.SyncDirectionPush,
		Status:        status,
		ItemCount:     len(req.Items),
		SuccessCount:  resp.SuccessCount,
		FailedCount:   resp.FailedCount,
		ConflictCount: resp.ConflictCount,
		Results:       raw,
		StartedAt:     startedAt,
		CompletedAt:   resp.SyncTimestamp,
	})

	if resp.SuccessCount > 0 {
		g.InvalidateSnapshot(ctx, req.BranchID)
	}
	g.log.InfoContext(ctx, "sync push completed",
		"branch_id", req.BranchID,
		"device_id", req.DeviceID,
		"items", len(req.Items),
		"succeeded", resp.SuccessCount,
		"failed", resp.FailedCount,
	)
	return resp, nil
}

// InvalidateSnapshot drops the cached full pull for branchID. Cache errors
// are logged; the snapshot then expires on its TTL.
func (g *Gateway) InvalidateSnapshot(ctx context.Context, branchID string) {
	if err := g.snapshots.Invalidate(ctx, branchID); err != nil {
		g.log.WarnContext(ctx, "snapshot cache invalidate failed", "branch_id", branchID, "error", err)
	}
}

func (g *Gateway) apply(ctx context.Context, operatorID string, req domain.SyncPushRequest, item domain.SyncPushItem) domain.SyncItemResult {
	result := domain.SyncItemResult{OfflineID: item.OfflineID, Status: domain.SyncItemFailed}
	if strings.TrimSpace(item.OfflineID) == "" {
		result.Error = "offlineId is required"
		return result
	}
	if strings.TrimSpace(item.EntityType) == "" {
		result.Error = "entityType is required"
		return result
	}

	var (
		serverID string
		err      error
	)
	switch strings.ToUpper(item.EntityType) {
	case domain.SyncEntitySale:
		serverID, err = g.applySale(ctx, operatorID, req.BranchID, item)
	case domain.SyncEntityMember:
		serverID, err = g.applyMember(ctx, item)
	case domain.SyncEntityInventoryAdjustment:
		serverID, err = g.applyInventoryAdjustment(ctx, operatorID, req, item)
	default:
		err = fmt.Errorf("%w: %s", store.ErrUnknownSyncEntityType, item.EntityType)
	}
	if err != nil {
		result.Error = g.itemError(ctx, item, err)
		return result
	}
	result.Status = domain.SyncItemSuccess
	result.ServerID = serverID
	return result
}

func (g *Gateway) applySale(ctx context.Context, operatorID string, branchID string, item domain.SyncPushItem) (string, error) {
	if existing, err := g.repo.FindSaleByOfflineID(ctx, item.OfflineID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	var payload domain.CreateSaleRequest
	if err := decodeData(item.Data, &payload); err != nil {
		return "", err
	}
	payload.OfflineID = item.OfflineID
	payload.Source = domain.SourcePOSOffline
	if b := strings.TrimSpace(payload.BranchID); b != "" && b != branchID {
		return "", fmt.Errorf("%w: sale for branch %s pushed in a batch for branch %s", store.ErrForbidden, b, branchID)
	}
	payload.BranchID = branchID
	sale, err := g.sales.CreateSale(ctx, operatorID, payload)
	if err != nil {
		return "", err
	}
	return sale.ID, nil
}

func (g *Gateway) applyMember(ctx context.Context, item domain.SyncPushItem) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(item.Action)) {
	case domain.SyncActionCreate:
		var payload domain.MemberCreateRequest
		if err := decodeData(item.Data, &payload); err != nil {
			return "", err
		}
		member, err := g.members.Create(ctx, payload, item.OfflineID)
		if err != nil {
			return "", err
		}
		return member.ID, nil
	case domain.SyncActionUpdate:
		var payload domain.MemberUpdateRequest
		if err := decodeData(item.Data, &payload); err != nil {
			return "", err
		}
		if strings.TrimSpace(payload.ID) == "" {
			return "", fmt.Errorf("%w: member update requires id", store.ErrValidation)
		}
		member, err := g.members.Update(ctx, payload.ID, payload)
		if err != nil {
			return "", err
		}
		return member.ID, nil
	default:
		return "", fmt.Errorf("%w: unsupported member action %q", store.ErrValidation, item.Action)
	}
}

// applyInventoryAdjustment applies the pushed delta as-is (server wins) and
// tags the journal row as an offline adjustment.
func (g *Gateway) applyInventoryAdjustment(ctx context.Context, operatorID string, req domain.SyncPushRequest, item domain.SyncPushItem) (string, error) {
	var payload domain.InventoryAdjustmentSyncData
	if err := decodeData(item.Data, &payload); err != nil {
		return "", err
	}
	if err := validation.Struct(payload); err != nil {
		return "", err
	}
	reason := fmt.Sprintf("offline adjustment from device %s", req.DeviceID)
	if r := strings.TrimSpace(payload.Reason); r != "" {
		reason += ": " + r
	}
	movement, err := g.stock.AdjustOffline(ctx, payload.VariantID, req.BranchID, payload.Quantity, inventory.AdjustOptions{
		Reason:        reason,
		ReferenceType: "SYNC",
		ReferenceID:   req.DeviceID,
		OfflineID:     item.OfflineID,
		CreatedBy:     operatorID,
	})
	if err != nil {
		return "", err
	}
	return movement.ID, nil
}

// itemError renders err for the terminal. Errors outside the taxonomy are
// logged and replaced by a generic message.
func (g *Gateway) itemError(ctx context.Context, item domain.SyncPushItem, err error) string {
	if store.Kind(err) == "internal" {
		g.log.ErrorContext(ctx, "sync item failed", "offline_id", item.OfflineID, "entity_type", item.EntityType, "error", err)
		return "internal error"
	}
	return err.Error()
}

func decodeData(raw json.RawMessage, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: data is required", store.ErrValidation)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: malformed data: %v", store.ErrValidation, err)
	}
	return nil
}

func requireDevice(branchID, deviceID string) error {
	if strings.TrimSpace(branchID) == "" {
		return fmt.Errorf("%w: branchId is required", store.ErrValidation)
	}
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: deviceId is required", store.ErrValidation)
	}
	return nil
}

func (g *Gateway) appendLog(ctx context.Context, entry domain.SyncLogEntry) {
	entry.ID = xid.New("sync")
	if err := g.repo.InsertSyncLog(ctx, entry); err != nil {
		g.log.ErrorContext(ctx, "sync log append failed", "branch_id", entry.BranchID, "device_id", entry.DeviceID, "error", err)
	}
}

func (g *Gateway) Status(ctx context.Context, branchID string, deviceID string) (*domain.SyncLogEntry, error) {
	if err := requireDevice(branchID, deviceID); err != nil {
		return nil, err
	}
	return g.repo.LastSyncLog(ctx, branchID, deviceID)
}
