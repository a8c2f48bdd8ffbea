package offlinesync

import (
	"context"

	"kasircabang/backend/internal/domain"
)

// Pull returns the master data a terminal needs to work offline. Without
// lastSyncAt the snapshot is full and may be served from cache; with it only
// rows changed afterwards are returned. Branch inventory is always complete.
func (g *Gateway) Pull(ctx context.Context, operatorID string, req domain.SyncPullRequest) (*domain.SyncSnapshot, error) {
	if err := requireDevice(req.BranchID, req.DeviceID); err != nil {
		return nil, err
	}
	startedAt := g.now().UTC()
	full := req.LastSyncAt == nil

	var snapshot *domain.SyncSnapshot
	if full {
		cached, ok, err := g.snapshots.Get(ctx, req.BranchID)
		if err != nil {
			g.log.WarnContext(ctx, "snapshot cache read failed", "branch_id", req.BranchID, "error", err)
		}
		if ok {
			snapshot = cached
		}
	}
	if snapshot == nil {
		built, err := g.buildSnapshot(ctx, req)
		if err != nil {
			return nil, err
		}
		snapshot = built
		if full {
			if err := g.snapshots.Set(ctx, req.BranchID, snapshot, g.snapshotTTL); err != nil {
				g.log.WarnContext(ctx, "snapshot cache write failed", "branch_id", req.BranchID, "error", err)
			}
		}
	}

	count := len(snapshot.Products) + len(snapshot.Variants) + len(snapshot.PriceProfiles) +
		len(snapshot.Promotions) + len(snapshot.Members) + len(snapshot.Resellers) + len(snapshot.Inventory)
	g.appendLog(ctx, domain.SyncLogEntry{
		BranchID:     req.BranchID,
		DeviceID:     req.DeviceID,
		OperatorID:   operatorID,
		Direction:    domain.SyncDirectionPull,
		Status:       domain.SyncStatusSuccess,
		ItemCount:    count,
		SuccessCount: count,
		StartedAt:    startedAt,
		CompletedAt:  g.now().UTC(),
	})
	return snapshot, nil
}

func (g *Gateway) buildSnapshot(ctx context.Context, req domain.SyncPullRequest) (*domain.SyncSnapshot, error) {
	since := req.LastSyncAt
	now := g.now().UTC()

	products, err := g.repo.ListProducts(ctx, since)
	if err != nil {
		return nil, err
	}
	variants, err := g.repo.ListVariants(ctx, since)
	if err != nil {
		return nil, err
	}
	profiles, err := g.repo.ListPriceProfiles(ctx, since)
	if err != nil {
		return nil, err
	}
	promotions, err := g.repo.ListActivePromotions(ctx, now, since)
	if err != nil {
		return nil, err
	}
	members, err := g.repo.ListMembers(ctx, since)
	if err != nil {
		return nil, err
	}
	resellers, err := g.repo.ListResellers(ctx, since)
	if err != nil {
		return nil, err
	}
	stock, err := g.repo.ListBranchInventory(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.SyncSnapshot{
		BranchID:      req.BranchID,
		SyncTimestamp: now,
		FullSync:      since == nil,
		Products:      make([]domain.ProductSnapshot, 0, len(products)),
		Variants:      make([]domain.VariantSnapshot, 0, len(variants)),
		PriceProfiles: make([]domain.PriceSnapshot, 0, len(profiles)),
		Promotions:    make([]domain.PromotionSnapshot, 0, len(promotions)),
		Members:       make([]domain.MemberSnapshot, 0, len(members)),
		Resellers:     make([]domain.ResellerSnapshot, 0, len(resellers)),
		Inventory:     make([]domain.InventorySnapshot, 0, len(stock)),
		// Soft deletes are not tracked yet, so terminals only learn about
		// removals through the active flags above.
		Deletions: []domain.SyncDeletion{},
	}
	for _, p := range products {
		snapshot.Products = append(snapshot.Products, domain.ProductSnapshot{ID: p.ID, Name: p.Name, Category: p.Category, Active: p.Active})
	}
	for _, v := range variants {
		snapshot.Variants = append(snapshot.Variants, domain.VariantSnapshot{ID: v.ID, ProductID: v.ProductID, SKU: v.SKU, Barcode: v.Barcode, Name: v.Name, Active: v.Active})
	}
	for _, p := range profiles {
		snapshot.PriceProfiles = append(snapshot.PriceProfiles, domain.PriceSnapshot{
			VariantID:               p.VariantID,
			RetailPrice:             p.RetailPrice,
			MemberPrice:             p.MemberPrice,
			MemberDiscountPercent:   p.MemberDiscountPercent,
			ResellerPrice:           p.ResellerPrice,
			ResellerDiscountPercent: p.ResellerDiscountPercent,
			TaxPercent:              p.TaxPercent,
		})
	}
	for _, p := range promotions {
		snapshot.Promotions = append(snapshot.Promotions, domain.PromotionSnapshot{
			Code:       p.Code,
			VariantID:  p.VariantID,
			PromoPrice: p.PromoPrice,
			StartDate:  p.StartDate,
			EndDate:    p.EndDate,
			MemberOnly: p.MemberOnly,
		})
	}
	for _, m := range members {
		snapshot.Members = append(snapshot.Members, domain.MemberSnapshot{
			ID:              m.ID,
			Code:            m.Code,
			Name:            m.Name,
			Phone:           m.Phone,
			Tier:            m.Tier,
			DiscountPercent: m.DiscountPercent,
			Active:          m.Active,
		})
	}
	for _, r := range resellers {
		snapshot.Resellers = append(snapshot.Resellers, domain.ResellerSnapshot{
			ID:              r.ID,
			Code:            r.Code,
			Name:            r.Name,
			CreditLimit:     r.CreditLimit,
			CurrentBalance:  r.CurrentBalance,
			AvailableCredit: r.CreditLimit.Sub(r.CurrentBalance),
			Active:          r.Active,
		})
	}
	for _, rec := range stock {
		snapshot.Inventory = append(snapshot.Inventory, domain.InventorySnapshot{VariantID: rec.VariantID, OnHand: rec.QuantityOnHand, Available: rec.Available()})
	}
	return snapshot, nil
}
