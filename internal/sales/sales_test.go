package sales

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/inventory"
	"kasircabang/backend/internal/ledger"
	"kasircabang/backend/internal/pricing"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decPtr(v int64) *decimal.Decimal {
	d := dec(v)
	return &d
}

type fixture struct {
	store *memory.Store
	coord *Coordinator
	led   *ledger.Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	now := func() time.Time { return fixedNow }

	s.PutVariant(domain.Variant{ID: "var-kopi", Name: "Kopi", Active: true})
	s.PutPriceProfile(domain.PriceProfile{VariantID: "var-kopi", RetailPrice: dec(1000), MemberDiscountPercent: dec(10), ResellerPrice: dec(800), TaxPercent: dec(11)})
	s.PutInventory(domain.InventoryRecord{ID: "inv-kopi", VariantID: "var-kopi", BranchID: "branch-main", QuantityOnHand: 10})

	s.PutVariant(domain.Variant{ID: "var-gula", Name: "Gula", Active: true})
	s.PutPriceProfile(domain.PriceProfile{VariantID: "var-gula", RetailPrice: dec(15000)})
	s.PutInventory(domain.InventoryRecord{ID: "inv-gula", VariantID: "var-gula", BranchID: "branch-main", QuantityOnHand: 2})

	s.PutMember(domain.Member{ID: "mbr-1", Name: "Siti", Active: true})
	s.PutReseller(domain.Reseller{ID: "rsl-1", Name: "Toko Makmur", CreditLimit: dec(20000), CreditTermDays: 30, Active: true})

	led := ledger.New(s, now, nil)
	coord := New(s, pricing.New(now), inventory.New(s, now), led, now, nil)
	return fixture{store: s, coord: coord, led: led}
}

func (f fixture) available(t *testing.T, recordID string) domain.InventoryRecord {
	t.Helper()
	rec, err := f.store.GetInventory(context.Background(), recordID)
	require.NoError(t, err)
	return *rec
}

func TestCreateRetailSaleComputesTotals(t *testing.T) {
	f := newFixture(t)
	sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items: []domain.SaleItemRequest{
			{VariantID: "var-kopi", Quantity: 3, Discount: decPtr(100)},
			{VariantID: "var-gula", Quantity: 1},
		},
		Payments: []domain.PaymentRequest{{Amount: dec(20000), PaymentMethod: domain.PaymentCash}},
	})
	require.NoError(t, err)

	assert.Equal(t, "RCPT-20260310-00001", sale.ReceiptNumber)
	assert.Equal(t, domain.CustomerRetail, sale.CustomerType)
	require.Len(t, sale.Items, 2)

	kopi := sale.Items[0]
	assert.True(t, kopi.UnitPrice.Equal(dec(1000)))
	assert.True(t, kopi.TaxAmount.Equal(decimal.RequireFromString("297")), kopi.TaxAmount.String())
	assert.True(t, kopi.Total.Equal(dec(2997)), kopi.Total.String())

	assert.True(t, sale.Subtotal.Equal(dec(18000)))
	assert.True(t, sale.DiscountAmount.Equal(dec(300)))
	assert.True(t, sale.TaxAmount.Equal(dec(297)))
	assert.True(t, sale.Total.Equal(dec(17997)))
	assert.True(t, sale.AmountPaid.Equal(dec(20000)))
	assert.True(t, sale.ChangeDue.Equal(dec(2003)))
	assert.Equal(t, domain.PaymentStatusPaid, sale.PaymentStatus)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, domain.SourcePOS, sale.Source)

	kopiRec := f.available(t, "inv-kopi")
	assert.Equal(t, 7, kopiRec.QuantityOnHand)
	assert.Equal(t, 0, kopiRec.QuantityReserved)

	stored, err := f.coord.GetSaleByReceipt(context.Background(), sale.ReceiptNumber)
	require.NoError(t, err)
	assert.Equal(t, sale.ID, stored.ID)
	require.Len(t, stored.Payments, 1)
}

func TestCreateSaleIsAtomicWhenLaterLineFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items: []domain.SaleItemRequest{
			{VariantID: "var-kopi", Quantity: 4},
			{VariantID: "var-gula", Quantity: 3},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "line 2")

	kopi := f.available(t, "inv-kopi")
	assert.Equal(t, 10, kopi.QuantityOnHand)
	assert.Equal(t, 0, kopi.QuantityReserved)

	list, err := f.coord.ListSales(context.Background(), "branch-main", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
	assert.Equal(t, DefaultListLimit, list.Limit)
}

func TestCreateSaleMissingInventoryRecordIsInsufficientStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-north",
		Items:    []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestRepeatedVariantLinesShareStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items: []domain.SaleItemRequest{
			{VariantID: "var-gula", Quantity: 1},
			{VariantID: "var-gula", Quantity: 2},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items: []domain.SaleItemRequest{
			{VariantID: "var-gula", Quantity: 1},
			{VariantID: "var-gula", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, "inv-gula").QuantityOnHand)
}

func TestMemberSaleUsesMemberPrice(t *testing.T) {
	f := newFixture(t)
	sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:     "branch-main",
		CustomerType: "MEMBER",
		CustomerID:   "mbr-1",
		Items:        []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriceTypeMember, sale.Items[0].PriceType)
	assert.True(t, sale.Items[0].UnitPrice.Equal(dec(900)))
	assert.True(t, sale.Items[0].OriginalPrice.Equal(dec(1000)))
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, domain.PaymentCash, sale.Payments[0].PaymentMethod)
	assert.True(t, sale.Payments[0].Amount.Equal(sale.Total))
}

func TestUnknownMemberIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:     "branch-main",
		CustomerType: "MEMBER",
		CustomerID:   "mbr-missing",
		Items:        []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetailSaleMustBeFullyPaid(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:   "branch-main",
		Items:      []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 1}},
		AmountPaid: decPtr(1000),
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, 2, f.available(t, "inv-gula").QuantityOnHand)
}

func TestPaymentsMustMatchExplicitAmountPaid(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:   "branch-main",
		Items:      []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 1}},
		Payments:   []domain.PaymentRequest{{Amount: dec(10000), PaymentMethod: domain.PaymentCash}, {Amount: dec(5000), PaymentMethod: domain.PaymentQRIS}},
		AmountPaid: decPtr(20000),
	})
	require.ErrorIs(t, err, store.ErrValidation)

	sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items:    []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 1}},
		Payments: []domain.PaymentRequest{{Amount: dec(10000), PaymentMethod: domain.PaymentCash}, {Amount: dec(5000), PaymentMethod: domain.PaymentQRIS, ReferenceNumber: "QR-1"}},
	})
	require.NoError(t, err)
	assert.Len(t, sale.Payments, 2)
	assert.True(t, sale.ChangeDue.IsZero())
}

func TestResellerUnpaidRemainderGoesToLedger(t *testing.T) {
	f := newFixture(t)
	sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:     "branch-main",
		CustomerType: "RESELLER",
		CustomerID:   "rsl-1",
		Items:        []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 1}},
		AmountPaid:   decPtr(5000),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartial, sale.PaymentStatus)

	balance, err := f.led.CurrentBalance(context.Background(), "rsl-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(10000)), balance.String())

	entry, err := f.store.LastLedgerEntry(context.Background(), "rsl-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerCreditSale, entry.Type)
	assert.Equal(t, sale.ID, entry.ReferenceID)
}

func TestResellerOverCreditLimitRollsBackSale(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID:     "branch-main",
		CustomerType: "RESELLER",
		CustomerID:   "rsl-1",
		Items:        []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 2}},
		AmountPaid:   decPtr(0),
	})
	require.ErrorIs(t, err, store.ErrCreditLimitExceeded)

	assert.Equal(t, 2, f.available(t, "inv-gula").QuantityOnHand)
	list, err := f.coord.ListSales(context.Background(), "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestOfflineIDMakesCreateIdempotent(t *testing.T) {
	f := newFixture(t)
	req := domain.CreateSaleRequest{
		BranchID:  "branch-main",
		Items:     []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}},
		OfflineID: "dev-1-0001",
		Source:    domain.SourcePOSOffline,
	}
	first, err := f.coord.CreateSale(context.Background(), "cashier", req)
	require.NoError(t, err)
	second, err := f.coord.CreateSale(context.Background(), "cashier", req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 9, f.available(t, "inv-kopi").QuantityOnHand)
}

func TestManualUnitPriceIsHonored(t *testing.T) {
	f := newFixture(t)
	sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
		BranchID: "branch-main",
		Items:    []domain.SaleItemRequest{{VariantID: "var-gula", Quantity: 1, UnitPrice: decPtr(14000)}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriceTypeManual, sale.Items[0].PriceType)
	assert.True(t, sale.Total.Equal(dec(14000)))
}

func TestValidationRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	cases := []domain.CreateSaleRequest{
		{BranchID: "branch-main"},
		{Items: []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}}},
		{BranchID: "branch-main", Items: []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 0}}},
		{BranchID: "branch-main", CustomerType: "VIP", Items: []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}}},
		{BranchID: "branch-main", CustomerType: "RESELLER", Items: []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}}},
		{BranchID: "branch-main", Items: []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1, Discount: decPtr(2000)}}},
	}
	for i, req := range cases {
		_, err := f.coord.CreateSale(context.Background(), "cashier", req)
		assert.ErrorIs(t, err, store.ErrValidation, "case %d", i)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		receipts = map[string]bool{}
		failures int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := f.coord.CreateSale(context.Background(), "cashier", domain.CreateSaleRequest{
				BranchID: "branch-main",
				Items:    []domain.SaleItemRequest{{VariantID: "var-kopi", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, store.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				failures++
				return
			}
			receipts[sale.ReceiptNumber] = true
		}()
	}
	wg.Wait()

	assert.Len(t, receipts, 10)
	assert.Equal(t, 5, failures)
	rec := f.available(t, "inv-kopi")
	assert.Equal(t, 0, rec.QuantityOnHand)
	assert.Equal(t, 0, rec.QuantityReserved)
}
