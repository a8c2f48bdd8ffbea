package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/cache"
	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultBranchID: "branch-main"}), repo
}

func asActor(role string, branchID string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: role + "-user", Role: role, BranchID: branchID})
}

type invalidationRecorder struct {
	cache.NoopSnapshotCache
	branches []string
}

func (r *invalidationRecorder) Invalidate(_ context.Context, branchID string) error {
	r.branches = append(r.branches, branchID)
	return nil
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCreateSaleUsesActorBranch(t *testing.T) {
	svc, repo := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-north")

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items: []domain.SaleItemRequest{{VariantID: "var-mie-goreng", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.BranchID != "branch-north" {
		t.Fatalf("expected branch-north, got %s", sale.BranchID)
	}
	if sale.OperatorID != "cashier-user" {
		t.Fatalf("expected operator cashier-user, got %s", sale.OperatorID)
	}

	north, err := repo.GetInventory(context.Background(), "inv-branch-north-mie-goreng")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	if north.QuantityOnHand != 116 {
		t.Fatalf("expected north stock 116, got %d", north.QuantityOnHand)
	}
	mainRec, err := repo.GetInventory(context.Background(), "inv-branch-main-mie-goreng")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	if mainRec.QuantityOnHand != 120 {
		t.Fatalf("expected main stock untouched, got %d", mainRec.QuantityOnHand)
	}
}

func TestCreateSaleFallsBackToDefaultBranch(t *testing.T) {
	svc, _ := newTestService()

	sale, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items: []domain.SaleItemRequest{{VariantID: "var-air-600ml", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.BranchID != "branch-main" {
		t.Fatalf("expected default branch, got %s", sale.BranchID)
	}
	if sale.OperatorID != "system" {
		t.Fatalf("expected system operator, got %s", sale.OperatorID)
	}
}

func TestCashierCannotSellForAnotherBranch(t *testing.T) {
	svc, _ := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-north")

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items:    []domain.SaleItemRequest{{VariantID: "var-mie-goreng", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	manager := asActor(domain.RoleManager, "branch-north")
	if _, err := svc.CreateSale(manager, domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items:    []domain.SaleItemRequest{{VariantID: "var-mie-goreng", Quantity: 1}},
	}); err != nil {
		t.Fatalf("manager sale on another branch failed: %v", err)
	}
}

func TestResellerSaleWritesLedger(t *testing.T) {
	svc, _ := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-main")

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		CustomerType: "RESELLER",
		CustomerID:   "rsl-toko-makmur",
		Items:        []domain.SaleItemRequest{{VariantID: "var-mie-goreng", Quantity: 10}},
		AmountPaid:   dec(10000),
	})
	if err != nil {
		t.Fatalf("reseller sale failed: %v", err)
	}
	if !sale.Total.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected reseller total 30000, got %s", sale.Total)
	}
	if sale.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", sale.PaymentStatus)
	}

	balance, err := svc.Balance(ctx, "rsl-toko-makmur")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected balance 20000, got %s", balance.Balance)
	}
}

func TestAdjustInventoryRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	req := domain.InventoryAdjustRequest{Quantity: -5, Reason: "damaged"}

	_, err := svc.AdjustInventory(asActor(domain.RoleCashier, ""), "inv-branch-main-telur-10", req)
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}

	resp, err := svc.AdjustInventory(asActor(domain.RoleAdmin, ""), "inv-branch-main-telur-10", req)
	if err != nil {
		t.Fatalf("admin adjust failed: %v", err)
	}
	if resp.Record.QuantityOnHand != 115 {
		t.Fatalf("expected 115 on hand, got %d", resp.Record.QuantityOnHand)
	}
	if resp.Movement.Quantity != -5 || resp.Movement.CreatedBy != "admin-user" {
		t.Fatalf("unexpected movement: %+v", resp.Movement)
	}

	avail, err := svc.Available(context.Background(), "var-telur-10", "branch-main")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if avail.Available != 115 {
		t.Fatalf("expected available 115, got %d", avail.Available)
	}
}

func TestOnlineWritesInvalidateBranchSnapshot(t *testing.T) {
	recorder := &invalidationRecorder{}
	svc := New(memory.NewSeeded(), Options{DefaultBranchID: "branch-main", Snapshots: recorder})

	if _, err := svc.CreateSale(asActor(domain.RoleCashier, "branch-north"), domain.CreateSaleRequest{
		Items: []domain.SaleItemRequest{{VariantID: "var-mie-goreng", Quantity: 1}},
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.AdjustInventory(asActor(domain.RoleAdmin, ""), "inv-branch-main-telur-10", domain.InventoryAdjustRequest{Quantity: 3, Reason: "recount"}); err != nil {
		t.Fatalf("admin adjust failed: %v", err)
	}

	want := []string{"branch-north", "branch-main"}
	if len(recorder.branches) != len(want) {
		t.Fatalf("expected invalidations %v, got %v", want, recorder.branches)
	}
	for i := range want {
		if recorder.branches[i] != want[i] {
			t.Fatalf("expected invalidations %v, got %v", want, recorder.branches)
		}
	}
}

func TestLedgerAdjustmentNeedsAdminOrApproval(t *testing.T) {
	svc, _ := newTestService()
	req := domain.LedgerAdjustmentRequest{
		ResellerID: "rsl-warung-sejahtera",
		Type:       domain.LedgerDebitNote,
		Amount:     decimal.NewFromInt(5000),
		Reason:     "late fee",
	}

	cashier := asActor(domain.RoleCashier, "branch-main")
	if _, err := svc.RecordAdjustment(cashier, req); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden without approval, got %v", err)
	}

	entry, err := svc.RecordAdjustment(WithManagerApproval(cashier), req)
	if err != nil {
		t.Fatalf("approved adjustment failed: %v", err)
	}
	if !entry.Debit.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected debit 5000, got %s", entry.Debit)
	}

	if _, err := svc.RecordAdjustment(asActor(domain.RoleAdmin, ""), req); err != nil {
		t.Fatalf("admin adjustment failed: %v", err)
	}
	balance, err := svc.Balance(context.Background(), "rsl-warung-sejahtera")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected balance 10000, got %s", balance.Balance)
	}
}

func TestAgingReportRequiresManager(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.AgingReport(asActor(domain.RoleCashier, ""), time.Time{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	report, err := svc.AgingReport(asActor(domain.RoleManager, ""), time.Time{})
	if err != nil {
		t.Fatalf("aging report failed: %v", err)
	}
	if report.AsOf.IsZero() {
		t.Fatalf("expected asOf to default to now")
	}
}

func TestResolvePriceAppliesPromo(t *testing.T) {
	svc, _ := newTestService()

	price, err := svc.ResolvePrice(context.Background(), "var-kopi-sachet", "", "", "KOPIHEMAT")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if price.PriceType != domain.PriceTypePromo || !price.UnitPrice.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected promo 2000, got %s %s", price.PriceType, price.UnitPrice)
	}

	if _, err := svc.ResolvePrice(context.Background(), "var-kopi-sachet", "MEMBER", "", ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for member without id, got %v", err)
	}
}

func TestSyncPushThroughServiceUsesActorBranch(t *testing.T) {
	svc, repo := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-north")

	resp, err := svc.SyncPush(ctx, domain.SyncPushRequest{
		DeviceID: "tab-01",
		Items: []domain.SyncPushItem{{
			OfflineID:  "tab-01-0001",
			EntityType: domain.SyncEntitySale,
			Data:       []byte(`{"items":[{"variantId":"var-gula-1kg","quantity":2}]}`),
		}},
	})
	if err != nil {
		t.Fatalf("sync push failed: %v", err)
	}
	if resp.SuccessCount != 1 {
		t.Fatalf("expected one success, got %+v", resp.Results)
	}

	sale, err := repo.FindSaleByOfflineID(context.Background(), "tab-01-0001")
	if err != nil {
		t.Fatalf("offline sale not stored: %v", err)
	}
	if sale.BranchID != "branch-north" || sale.Source != domain.SourcePOSOffline {
		t.Fatalf("unexpected offline sale branch=%s source=%s", sale.BranchID, sale.Source)
	}

	status, err := svc.SyncStatus(ctx, "", "tab-01")
	if err != nil {
		t.Fatalf("sync status failed: %v", err)
	}
	if status.Status != domain.SyncStatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status.Status)
	}
}

func TestSyncPushCannotMoveSaleToAnotherBranch(t *testing.T) {
	svc, repo := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-main")

	before, err := repo.GetInventory(context.Background(), "inv-branch-north-mie-goreng")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	resp, err := svc.SyncPush(ctx, domain.SyncPushRequest{
		DeviceID: "tab-02",
		Items: []domain.SyncPushItem{{
			OfflineID:  "tab-02-0001",
			EntityType: domain.SyncEntitySale,
			Data:       []byte(`{"branchId":"branch-north","items":[{"variantId":"var-mie-goreng","quantity":3}]}`),
		}},
	})
	if err != nil {
		t.Fatalf("sync push failed: %v", err)
	}
	if resp.FailedCount != 1 || resp.Results[0].Status != domain.SyncItemFailed {
		t.Fatalf("expected the cross-branch sale to fail, got %+v", resp.Results)
	}
	if _, err := repo.FindSaleByOfflineID(context.Background(), "tab-02-0001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no sale stored, got %v", err)
	}
	after, err := repo.GetInventory(context.Background(), "inv-branch-north-mie-goreng")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	if after.QuantityOnHand != before.QuantityOnHand {
		t.Fatalf("expected north stock %d untouched, got %d", before.QuantityOnHand, after.QuantityOnHand)
	}
}

func TestMemberLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := asActor(domain.RoleCashier, "branch-main")

	member, err := svc.CreateMember(ctx, domain.MemberCreateRequest{Name: "Budi Santoso", Phone: "0812"})
	if err != nil {
		t.Fatalf("create member failed: %v", err)
	}
	inactive := false
	updated, err := svc.UpdateMember(ctx, member.ID, domain.MemberUpdateRequest{Active: &inactive})
	if err != nil {
		t.Fatalf("update member failed: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected member to be inactive")
	}

	if _, err := svc.UpdateMember(ctx, "mbr-missing", domain.MemberUpdateRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
