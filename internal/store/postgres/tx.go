package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
)

// pgTx runs every read and write on one pgx transaction. Lock* methods take
// row locks with SELECT ... FOR UPDATE.
type pgTx struct {
	reader
	tx pgx.Tx
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{reader: reader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return duplicateError(err)
	}
	return nil
}

func (t *pgTx) LockInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error) {
	rec, err := scanInventory(t.tx.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE variant_id = $1 AND branch_id = $2
		FOR UPDATE
	`, variantID, branchID))
	if err != nil {
		return nil, notFound(err, "inventory for variant %s in branch %s", variantID, branchID)
	}
	return &rec, nil
}

func (t *pgTx) LockInventoryByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	rec, err := scanInventory(t.tx.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "inventory record %s", id)
	}
	return &rec, nil
}

func (t *pgTx) UpdateInventory(ctx context.Context, record domain.InventoryRecord) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inventory_records
		SET quantity_on_hand = $2, quantity_reserved = $3, reorder_level = $4, reorder_quantity = $5,
			last_restocked_at = $6, updated_at = $7
		WHERE id = $1
	`, record.ID, record.QuantityOnHand, record.QuantityReserved, record.ReorderLevel, record.ReorderQuantity,
		nullTime(record.LastRestockedAt), record.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: inventory record %s", store.ErrNotFound, record.ID)
	}
	return nil
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (
			id, inventory_id, variant_id, branch_id, type, quantity, reason,
			reference_type, reference_id, offline_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.InventoryID, m.VariantID, m.BranchID, m.Type, m.Quantity, nullIfEmpty(m.Reason),
		nullIfEmpty(m.ReferenceType), nullIfEmpty(m.ReferenceID), nullIfEmpty(m.OfflineID),
		nullIfEmpty(m.CreatedBy), m.CreatedAt)
	return duplicateError(err)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (
			id, receipt_number, branch_id, operator_id, customer_type, customer_id,
			subtotal, discount_amount, tax_amount, total, amount_paid, change_due,
			payment_status, status, source, offline_id, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sale.ID, sale.ReceiptNumber, sale.BranchID, sale.OperatorID, string(sale.CustomerType), nullIfEmpty(sale.CustomerID),
		sale.Subtotal, sale.DiscountAmount, sale.TaxAmount, sale.Total, sale.AmountPaid, sale.ChangeDue,
		sale.PaymentStatus, sale.Status, sale.Source, nullIfEmpty(sale.OfflineID), nullIfEmpty(sale.Notes),
		sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return duplicateError(err)
	}

	batch := &pgx.Batch{}
	for i, item := range sale.Items {
		batch.Queue(`
			INSERT INTO sale_items (
				id, sale_id, line_no, variant_id, quantity, unit_price, original_price,
				discount, tax_percent, tax_amount, total, price_type
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, item.ID, sale.ID, i+1, item.VariantID, item.Quantity, item.UnitPrice, item.OriginalPrice,
			item.Discount, item.TaxPercent, item.TaxAmount, item.Total, item.PriceType)
	}
	if batch.Len() > 0 {
		if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert sale items: %w", err)
		}
	}
	return t.InsertPayments(ctx, sale.ID, sale.Payments)
}

func (t *pgTx) InsertPayments(ctx context.Context, saleID string, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range payments {
		batch.Queue(`
			INSERT INTO payments (id, sale_id, amount, payment_method, reference_number, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, p.ID, saleID, p.Amount, p.PaymentMethod, nullIfEmpty(p.ReferenceNumber), p.Status, p.CreatedAt)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert payments: %w", err)
	}
	return nil
}

func (t *pgTx) LockReseller(ctx context.Context, id string) (*domain.Reseller, error) {
	rs, err := scanReseller(t.tx.QueryRow(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "reseller %s", id)
	}
	return &rs, nil
}

func (t *pgTx) UpdateResellerBalance(ctx context.Context, id string, balance decimal.Decimal, totalPurchases decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE resellers
		SET current_balance = $2, total_purchases = $3, updated_at = $4
		WHERE id = $1
	`, id, balance, totalPurchases, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reseller %s", store.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, entry_number, reseller_id, type, debit, credit, running_balance,
			reference_type, reference_id, payment_method, description, due_date,
			status, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, e.ID, e.EntryNumber, e.ResellerID, e.Type, e.Debit, e.Credit, e.RunningBalance,
		nullIfEmpty(e.ReferenceType), nullIfEmpty(e.ReferenceID), nullIfEmpty(e.PaymentMethod),
		nullIfEmpty(e.Description), nullTime(e.DueDate), e.Status, nullIfEmpty(e.CreatedBy), e.CreatedAt)
	return duplicateError(err)
}

func (t *pgTx) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO members (
			id, code, name, phone, email, tier, discount_percent, points, active,
			offline_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.Code, m.Name, nullIfEmpty(m.Phone), nullIfEmpty(m.Email), m.Tier, m.DiscountPercent,
		m.Points, m.Active, nullIfEmpty(m.OfflineID), m.CreatedAt, m.UpdatedAt)
	return duplicateError(err)
}

func (t *pgTx) LockMember(ctx context.Context, id string) (*domain.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "member %s", id)
	}
	return &m, nil
}

func (t *pgTx) UpdateMember(ctx context.Context, m domain.Member) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE members
		SET name = $2, phone = $3, email = $4, tier = $5, discount_percent = $6, points = $7,
			active = $8, updated_at = $9
		WHERE id = $1
	`, m.ID, m.Name, nullIfEmpty(m.Phone), nullIfEmpty(m.Email), m.Tier, m.DiscountPercent, m.Points,
		m.Active, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", store.ErrNotFound, m.ID)
	}
	return nil
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)
