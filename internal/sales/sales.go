// Package sales turns a sale request into one committed unit of work:
// receipt numbering, pricing, stock reservation and deduction, payments and,
// for resellers, the credit-sale ledger entry.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/inventory"
	"kasircabang/backend/internal/ledger"
	"kasircabang/backend/internal/pricing"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/validation"
	"kasircabang/backend/internal/xid"
)

const (
	maxReceiptAttempts = 3
	DefaultListLimit   = 50
	MaxListLimit       = 200
)

var hundred = decimal.NewFromInt(100)

type Coordinator struct {
	repo      store.Repository
	pricing   *pricing.Resolver
	inventory *inventory.Ledger
	ledger    *ledger.Ledger
	now       func() time.Time
	log       *slog.Logger
}

func New(repo store.Repository, resolver *pricing.Resolver, inv *inventory.Ledger, led *ledger.Ledger, now func() time.Time, logger *slog.Logger) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:      repo,
		pricing:   resolver,
		inventory: inv,
		ledger:    led,
		now:       now,
		log:       logger,
	}
}

// CreateSale commits the whole sale or nothing. A request whose offlineId
// was already applied returns the stored sale unchanged.
func (c *Coordinator) CreateSale(ctx context.Context, operatorID string, req domain.CreateSaleRequest) (*domain.Sale, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	if req.BranchID == "" {
		return nil, fmt.Errorf("%w: branchId is required", store.ErrValidation)
	}
	customer, err := domain.ParseCustomer(req.CustomerType, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if req.Source == "" {
		req.Source = domain.SourcePOS
	}

	if req.OfflineID != "" {
		existing, err := c.repo.FindSaleByOfflineID(ctx, req.OfflineID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var sale *domain.Sale
	for attempt := 1; attempt <= maxReceiptAttempts; attempt++ {
		sale, err = c.createOnce(ctx, operatorID, customer, req)
		if !errors.Is(err, store.ErrDuplicateReceipt) && !errors.Is(err, store.ErrDuplicateEntryNumber) {
			break
		}
		c.log.WarnContext(ctx, "sale numbering collision, retrying", "attempt", attempt, "error", err)
	}
	if errors.Is(err, store.ErrDuplicateOfflineID) && req.OfflineID != "" {
		return c.repo.FindSaleByOfflineID(ctx, req.OfflineID)
	}
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "sale created",
		"sale_id", sale.ID,
		"receipt_number", sale.ReceiptNumber,
		"branch_id", sale.BranchID,
		"customer", customer.String(),
		"total", sale.Total.String(),
		"payment_status", sale.PaymentStatus,
		"source", sale.Source,
	)
	return sale, nil
}

func (c *Coordinator) createOnce(ctx context.Context, operatorID string, customer domain.Customer, req domain.CreateSaleRequest) (*domain.Sale, error) {
	now := c.now().UTC()
	receipt, err := c.nextReceiptNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	var sale domain.Sale
	err = c.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := loadCustomer(ctx, tx, customer); err != nil {
			return err
		}
		records, err := lockLines(ctx, tx, req.BranchID, req.Items)
		if err != nil {
			return err
		}

		sale = domain.Sale{
			ID:             xid.New("sale"),
			ReceiptNumber:  receipt,
			BranchID:       req.BranchID,
			OperatorID:     operatorID,
			CustomerType:   customer.Type,
			CustomerID:     customer.ID,
			Subtotal:       decimal.Zero,
			DiscountAmount: decimal.Zero,
			TaxAmount:      decimal.Zero,
			Status:         domain.SaleStatusCompleted,
			Source:         req.Source,
			OfflineID:      req.OfflineID,
			Notes:          req.Notes,
			Items:          make([]domain.SaleItem, 0, len(req.Items)),
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		for i, item := range req.Items {
			line, err := c.priceLine(ctx, tx, customer, item)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			record, ok := records[item.VariantID]
			if !ok {
				return fmt.Errorf("%w: line %d (variant %s) requested %d, available 0", store.ErrInsufficientStock, i+1, item.VariantID, item.Quantity)
			}
			if _, err := c.inventory.Reserve(ctx, tx, record.ID, item.Quantity); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}

			line.ID = xid.New("si")
			line.SaleID = sale.ID
			qty := decimal.NewFromInt(int64(item.Quantity))
			sale.Subtotal = sale.Subtotal.Add(line.UnitPrice.Mul(qty))
			sale.DiscountAmount = sale.DiscountAmount.Add(line.Discount.Mul(qty))
			sale.TaxAmount = sale.TaxAmount.Add(line.TaxAmount)
			sale.Items = append(sale.Items, line)
		}
		sale.Total = sale.Subtotal.Sub(sale.DiscountAmount).Add(sale.TaxAmount)

		payments, err := settle(&sale, customer, req, now)
		if err != nil {
			return err
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for _, line := range sale.Items {
			ref := inventory.AdjustOptions{
				Type:          domain.MovementSale,
				Reason:        "sale " + sale.ReceiptNumber,
				ReferenceType: "SALE",
				ReferenceID:   sale.ID,
				CreatedBy:     operatorID,
			}
			if _, err := c.inventory.Deduct(ctx, tx, records[line.VariantID].ID, line.Quantity, line.Quantity, ref); err != nil {
				return err
			}
		}
		if len(payments) > 0 {
			if err := tx.InsertPayments(ctx, sale.ID, payments); err != nil {
				return err
			}
		}
		sale.Payments = payments

		if customer.IsReseller() && sale.AmountPaid.LessThan(sale.Total) {
			_, err := c.ledger.RecordCreditSaleTx(ctx, tx, domain.CreditSaleRequest{
				ResellerID:  customer.ID,
				Amount:      sale.Total.Sub(sale.AmountPaid),
				SaleID:      sale.ID,
				Description: "credit sale " + sale.ReceiptNumber,
			}, operatorID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (c *Coordinator) nextReceiptNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := "RCPT-" + now.Format("20060102")
	seq, err := c.repo.NextSequence(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%05d", prefix, seq), nil
}

func loadCustomer(ctx context.Context, rd store.Reader, customer domain.Customer) error {
	switch customer.Type {
	case domain.CustomerMember:
		member, err := rd.GetMember(ctx, customer.ID)
		if err != nil {
			return err
		}
		if !member.Active {
			return fmt.Errorf("%w: member %s is inactive", store.ErrNotFound, customer.ID)
		}
	case domain.CustomerReseller:
		reseller, err := rd.GetReseller(ctx, customer.ID)
		if err != nil {
			return err
		}
		if !reseller.Active {
			return fmt.Errorf("%w: reseller %s is inactive", store.ErrNotFound, customer.ID)
		}
	}
	return nil
}

// lockLines locks each distinct variant's record in sorted order so that
// concurrent sales always acquire row locks in the same sequence. Variants
// without a record are left out of the map.
func lockLines(ctx context.Context, tx store.Tx, branchID string, items []domain.SaleItemRequest) (map[string]domain.InventoryRecord, error) {
	variantIDs := make([]string, 0, len(items))
	for _, item := range items {
		variantIDs = append(variantIDs, item.VariantID)
	}
	slices.Sort(variantIDs)
	variantIDs = slices.Compact(variantIDs)

	records := make(map[string]domain.InventoryRecord, len(variantIDs))
	for _, variantID := range variantIDs {
		record, err := tx.LockInventory(ctx, variantID, branchID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records[variantID] = *record
	}
	return records, nil
}

func (c *Coordinator) priceLine(ctx context.Context, rd store.Reader, customer domain.Customer, item domain.SaleItemRequest) (domain.SaleItem, error) {
	resolved, err := c.pricing.Resolve(ctx, rd, item.VariantID, customer, item.PromoCode)
	if err != nil {
		return domain.SaleItem{}, err
	}

	unitPrice := resolved.UnitPrice
	priceType := resolved.PriceType
	if item.UnitPrice != nil {
		if item.UnitPrice.IsNegative() {
			return domain.SaleItem{}, fmt.Errorf("%w: unitPrice must not be negative", store.ErrValidation)
		}
		unitPrice = *item.UnitPrice
		priceType = domain.PriceTypeManual
	}

	discount := decimal.Zero
	if item.Discount != nil {
		discount = *item.Discount
	}
	if discount.IsNegative() || discount.GreaterThan(unitPrice) {
		return domain.SaleItem{}, fmt.Errorf("%w: discount must be between 0 and the unit price", store.ErrValidation)
	}

	qty := decimal.NewFromInt(int64(item.Quantity))
	net := unitPrice.Sub(discount).Mul(qty)
	taxAmount := net.Mul(resolved.TaxPercent).Div(hundred).Round(2)

	return domain.SaleItem{
		VariantID:     item.VariantID,
		Quantity:      item.Quantity,
		UnitPrice:     unitPrice,
		OriginalPrice: resolved.OriginalPrice,
		Discount:      discount,
		TaxPercent:    resolved.TaxPercent,
		TaxAmount:     taxAmount,
		Total:         net.Add(taxAmount),
		PriceType:     priceType,
	}, nil
}

// settle fills amountPaid, changeDue and paymentStatus on sale and returns
// the payment rows to persist.
func settle(sale *domain.Sale, customer domain.Customer, req domain.CreateSaleRequest, now time.Time) ([]domain.Payment, error) {
	sum := decimal.Zero
	payments := make([]domain.Payment, 0, len(req.Payments)+1)
	for i, p := range req.Payments {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: payment %d amount must be positive", store.ErrValidation, i+1)
		}
		sum = sum.Add(p.Amount)
		payments = append(payments, domain.Payment{
			ID:              xid.New("pay"),
			SaleID:          sale.ID,
			Amount:          p.Amount,
			PaymentMethod:   p.PaymentMethod,
			ReferenceNumber: p.ReferenceNumber,
			Status:          domain.PaymentStatusPaid,
			CreatedAt:       now,
		})
	}

	var paid decimal.Decimal
	switch {
	case req.AmountPaid != nil:
		paid = *req.AmountPaid
		if paid.IsNegative() {
			return nil, fmt.Errorf("%w: amountPaid must not be negative", store.ErrValidation)
		}
		if len(payments) > 0 && !sum.Equal(paid) {
			return nil, fmt.Errorf("%w: payments total %s does not match amountPaid %s", store.ErrValidation, sum.StringFixed(2), paid.StringFixed(2))
		}
	case len(payments) > 0:
		paid = sum
	default:
		paid = sale.Total
	}

	if len(payments) == 0 && paid.IsPositive() {
		payments = append(payments, domain.Payment{
			ID:            xid.New("pay"),
			SaleID:        sale.ID,
			Amount:        paid,
			PaymentMethod: domain.PaymentCash,
			Status:        domain.PaymentStatusPaid,
			CreatedAt:     now,
		})
	}

	if paid.LessThan(sale.Total) && !customer.IsReseller() {
		return nil, fmt.Errorf("%w: amount paid %s is less than total %s", store.ErrValidation, paid.StringFixed(2), sale.Total.StringFixed(2))
	}

	sale.AmountPaid = paid
	sale.ChangeDue = decimal.Max(decimal.Zero, paid.Sub(sale.Total))
	switch {
	case !paid.LessThan(sale.Total):
		sale.PaymentStatus = domain.PaymentStatusPaid
	case paid.IsPositive():
		sale.PaymentStatus = domain.PaymentStatusPartial
	default:
		sale.PaymentStatus = domain.PaymentStatusUnpaid
	}
	return payments, nil
}

func (c *Coordinator) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return c.repo.GetSale(ctx, id)
}

func (c *Coordinator) GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	return c.repo.FindSaleByReceipt(ctx, strings.TrimSpace(receiptNumber))
}

func (c *Coordinator) ListSales(ctx context.Context, branchID string, limit int, offset int) (domain.SaleListResponse, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	sales, total, err := c.repo.ListSales(ctx, branchID, limit, offset)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales, Total: total, Limit: limit, Offset: offset}, nil
}
