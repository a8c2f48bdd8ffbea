package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
)

// querier is satisfied by both the pool and an open transaction, so the read
// queries are written once and shared by Store and pgTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type reader struct {
	q querier
}

type Store struct {
	reader
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{reader: reader{q: pool}, pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const variantColumns = `id, product_id, sku, COALESCE(barcode, ''), name, active, updated_at`

func scanVariant(row scanner) (domain.Variant, error) {
	var v domain.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Barcode, &v.Name, &v.Active, &v.UpdatedAt)
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, err
}

func (r reader) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	v, err := scanVariant(r.q.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "variant %s", id)
	}
	return &v, nil
}

const priceProfileColumns = `variant_id, retail_price, member_price, member_discount_percent,
	reseller_price, reseller_discount_percent, tax_percent, updated_at`

func scanPriceProfile(row scanner) (domain.PriceProfile, error) {
	var p domain.PriceProfile
	err := row.Scan(&p.VariantID, &p.RetailPrice, &p.MemberPrice, &p.MemberDiscountPercent,
		&p.ResellerPrice, &p.ResellerDiscountPercent, &p.TaxPercent, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (r reader) GetPriceProfile(ctx context.Context, variantID string) (*domain.PriceProfile, error) {
	p, err := scanPriceProfile(r.q.QueryRow(ctx, `SELECT `+priceProfileColumns+` FROM price_profiles WHERE variant_id = $1`, variantID))
	if err != nil {
		return nil, notFound(err, "price profile for variant %s", variantID)
	}
	return &p, nil
}

const promotionColumns = `id, code, name, variant_id, promo_price, start_date, end_date, active, member_only, updated_at`

func scanPromotion(row scanner) (domain.Promotion, error) {
	var p domain.Promotion
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.VariantID, &p.PromoPrice, &p.StartDate, &p.EndDate,
		&p.Active, &p.MemberOnly, &p.UpdatedAt)
	p.StartDate, p.EndDate, p.UpdatedAt = p.StartDate.UTC(), p.EndDate.UTC(), p.UpdatedAt.UTC()
	return p, err
}

func (r reader) GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	code = strings.TrimSpace(code)
	p, err := scanPromotion(r.q.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE upper(code) = upper($1)`, code))
	if err != nil {
		return nil, notFound(err, "promotion %s", code)
	}
	return &p, nil
}

const memberColumns = `id, code, name, COALESCE(phone, ''), COALESCE(email, ''), tier, discount_percent,
	points, active, COALESCE(offline_id, ''), created_at, updated_at`

func scanMember(row scanner) (domain.Member, error) {
	var m domain.Member
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Phone, &m.Email, &m.Tier, &m.DiscountPercent,
		&m.Points, &m.Active, &m.OfflineID, &m.CreatedAt, &m.UpdatedAt)
	m.CreatedAt, m.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return m, err
}

func (r reader) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	m, err := scanMember(r.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "member %s", id)
	}
	return &m, nil
}

func (r reader) FindMemberByOfflineID(ctx context.Context, offlineID string) (*domain.Member, error) {
	m, err := scanMember(r.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE offline_id = $1`, offlineID))
	if err != nil {
		return nil, notFound(err, "member with offline id %s", offlineID)
	}
	return &m, nil
}

const resellerColumns = `id, code, name, COALESCE(phone, ''), credit_limit, credit_term_days,
	current_balance, total_purchases, active, created_at, updated_at`

func scanReseller(row scanner) (domain.Reseller, error) {
	var rs domain.Reseller
	err := row.Scan(&rs.ID, &rs.Code, &rs.Name, &rs.Phone, &rs.CreditLimit, &rs.CreditTermDays,
		&rs.CurrentBalance, &rs.TotalPurchases, &rs.Active, &rs.CreatedAt, &rs.UpdatedAt)
	rs.CreatedAt, rs.UpdatedAt = rs.CreatedAt.UTC(), rs.UpdatedAt.UTC()
	return rs, err
}

func (r reader) GetReseller(ctx context.Context, id string) (*domain.Reseller, error) {
	rs, err := scanReseller(r.q.QueryRow(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "reseller %s", id)
	}
	return &rs, nil
}

const inventoryColumns = `id, variant_id, branch_id, quantity_on_hand, quantity_reserved,
	reorder_level, reorder_quantity, last_restocked_at, updated_at`

func scanInventory(row scanner) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := row.Scan(&rec.ID, &rec.VariantID, &rec.BranchID, &rec.QuantityOnHand, &rec.QuantityReserved,
		&rec.ReorderLevel, &rec.ReorderQuantity, &rec.LastRestockedAt, &rec.UpdatedAt)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.LastRestockedAt != nil {
		at := rec.LastRestockedAt.UTC()
		rec.LastRestockedAt = &at
	}
	return rec, err
}

func (r reader) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	rec, err := scanInventory(r.q.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory_records WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "inventory record %s", id)
	}
	return &rec, nil
}

func (r reader) FindInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error) {
	rec, err := scanInventory(r.q.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE variant_id = $1 AND branch_id = $2
	`, variantID, branchID))
	if err != nil {
		return nil, notFound(err, "inventory for variant %s in branch %s", variantID, branchID)
	}
	return &rec, nil
}

func (r reader) FindSaleByOfflineID(ctx context.Context, offlineID string) (*domain.Sale, error) {
	sale, err := scanSale(r.q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE offline_id = $1`, offlineID))
	if err != nil {
		return nil, notFound(err, "sale with offline id %s", offlineID)
	}
	if err := r.loadSaleLines(ctx, []*domain.Sale{&sale}); err != nil {
		return nil, err
	}
	return &sale, nil
}

const movementColumns = `id, inventory_id, variant_id, branch_id, type, quantity, COALESCE(reason, ''),
	COALESCE(reference_type, ''), COALESCE(reference_id, ''), COALESCE(offline_id, ''),
	COALESCE(created_by, ''), created_at`

func (r reader) FindStockMovementByOfflineID(ctx context.Context, offlineID string) (*domain.StockMovement, error) {
	var m domain.StockMovement
	err := r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE offline_id = $1`, offlineID).Scan(
		&m.ID, &m.InventoryID, &m.VariantID, &m.BranchID, &m.Type, &m.Quantity, &m.Reason,
		&m.ReferenceType, &m.ReferenceID, &m.OfflineID, &m.CreatedBy, &m.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "stock movement with offline id %s", offlineID)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

const ledgerColumns = `id, seq, entry_number, reseller_id, type, debit, credit, running_balance,
	COALESCE(reference_type, ''), COALESCE(reference_id, ''), COALESCE(payment_method, ''),
	COALESCE(description, ''), due_date, status, COALESCE(created_by, ''), created_at`

func scanLedgerEntry(row scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.Seq, &e.EntryNumber, &e.ResellerID, &e.Type, &e.Debit, &e.Credit, &e.RunningBalance,
		&e.ReferenceType, &e.ReferenceID, &e.PaymentMethod, &e.Description, &e.DueDate, &e.Status,
		&e.CreatedBy, &e.CreatedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	if e.DueDate != nil {
		due := e.DueDate.UTC()
		e.DueDate = &due
	}
	return e, err
}

func (r reader) LastLedgerEntry(ctx context.Context, resellerID string) (*domain.LedgerEntry, error) {
	e, err := scanLedgerEntry(r.q.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE reseller_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, resellerID))
	if err != nil {
		return nil, notFound(err, "ledger entries for reseller %s", resellerID)
	}
	return &e, nil
}

const saleColumns = `id, receipt_number, branch_id, operator_id, customer_type, COALESCE(customer_id, ''),
	subtotal, discount_amount, tax_amount, total, amount_paid, change_due, payment_status, status,
	source, COALESCE(offline_id, ''), COALESCE(notes, ''), created_at, updated_at, deleted_at`

func scanSale(row scanner) (domain.Sale, error) {
	var (
		sale         domain.Sale
		customerType string
	)
	err := row.Scan(&sale.ID, &sale.ReceiptNumber, &sale.BranchID, &sale.OperatorID, &customerType, &sale.CustomerID,
		&sale.Subtotal, &sale.DiscountAmount, &sale.TaxAmount, &sale.Total, &sale.AmountPaid, &sale.ChangeDue,
		&sale.PaymentStatus, &sale.Status, &sale.Source, &sale.OfflineID, &sale.Notes,
		&sale.CreatedAt, &sale.UpdatedAt, &sale.DeletedAt)
	sale.CustomerType = domain.CustomerType(customerType)
	sale.CreatedAt, sale.UpdatedAt = sale.CreatedAt.UTC(), sale.UpdatedAt.UTC()
	sale.Items = []domain.SaleItem{}
	sale.Payments = []domain.Payment{}
	return sale, err
}

// loadSaleLines fills Items and Payments for every sale with two queries.
func (r reader) loadSaleLines(ctx context.Context, sales []*domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	byID := make(map[string]*domain.Sale, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
		byID[sale.ID] = sale
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, sale_id, variant_id, quantity, unit_price, original_price, discount,
			tax_percent, tax_amount, total, price_type
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.VariantID, &item.Quantity, &item.UnitPrice,
			&item.OriginalPrice, &item.Discount, &item.TaxPercent, &item.TaxAmount, &item.Total, &item.PriceType); err != nil {
			rows.Close()
			return err
		}
		byID[item.SaleID].Items = append(byID[item.SaleID].Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.q.Query(ctx, `
		SELECT id, sale_id, amount, payment_method, COALESCE(reference_number, ''), status, created_at
		FROM payments
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, created_at, id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.PaymentMethod, &p.ReferenceNumber, &p.Status, &p.CreatedAt); err != nil {
			return err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		byID[p.SaleID].Payments = append(byID[p.SaleID].Payments, p)
	}
	return rows.Err()
}

// NextSequence bumps the counter on whichever connection the reader wraps.
// Inside a unit of work the counter row stays locked until commit.
func (r reader) NextSequence(ctx context.Context, key string) (int64, error) {
	var value int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO sequence_counters (key, value, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (key)
		DO UPDATE SET value = sequence_counters.value + 1, updated_at = now()
		RETURNING value
	`, key).Scan(&value)
	return value, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	return s.findSale(ctx, "receipt_number", receiptNumber)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE `+column+` = $1 AND deleted_at IS NULL
	`, value))
	if err != nil {
		return nil, notFound(err, "sale %s", value)
	}
	if err := s.loadSaleLines(ctx, []*domain.Sale{&sale}); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, branchID string, limit int, offset int) ([]domain.Sale, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM sales
		WHERE deleted_at IS NULL AND ($1 = '' OR branch_id = $1)
	`, branchID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE deleted_at IS NULL AND ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC, receipt_number DESC
		LIMIT $2 OFFSET $3
	`, branchID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ptrs := make([]*domain.Sale, len(sales))
	for i := range sales {
		ptrs[i] = &sales[i]
	}
	if err := s.loadSaleLines(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (s *Store) LedgerEntryAsOf(ctx context.Context, resellerID string, asOf time.Time) (*domain.LedgerEntry, error) {
	e, err := scanLedgerEntry(s.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE reseller_id = $1 AND created_at <= $2
		ORDER BY seq DESC
		LIMIT 1
	`, resellerID, asOf))
	if err != nil {
		return nil, notFound(err, "ledger entry as of %s", asOf.Format(time.RFC3339))
	}
	return &e, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, resellerID string, from time.Time, to time.Time) ([]domain.LedgerEntry, error) {
	return s.listLedger(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE reseller_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY seq
	`, resellerID, from, to)
}

func (s *Store) ListLedgerEntriesByType(ctx context.Context, entryType string, until time.Time) ([]domain.LedgerEntry, error) {
	return s.listLedger(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE type = $1 AND created_at <= $2
		ORDER BY created_at, seq
	`, entryType, until)
}

func (s *Store) listLedger(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// collect runs a list query and scans every row with scan.
func collect[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Active, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, since *time.Time) ([]domain.Product, error) {
	return collect(ctx, s.pool, scanProduct, `
		SELECT id, name, category, active, updated_at
		FROM products
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
}

func (s *Store) ListVariants(ctx context.Context, since *time.Time) ([]domain.Variant, error) {
	return collect(ctx, s.pool, scanVariant, `
		SELECT `+variantColumns+`
		FROM variants
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
}

func (s *Store) ListPriceProfiles(ctx context.Context, since *time.Time) ([]domain.PriceProfile, error) {
	return collect(ctx, s.pool, scanPriceProfile, `
		SELECT `+priceProfileColumns+`
		FROM price_profiles
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY variant_id
	`, nullTime(since))
}

func (s *Store) ListActivePromotions(ctx context.Context, at time.Time, since *time.Time) ([]domain.Promotion, error) {
	return collect(ctx, s.pool, scanPromotion, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE active = true AND start_date <= $1 AND end_date >= $1
			AND ($2::timestamptz IS NULL OR updated_at > $2)
		ORDER BY code
	`, at, nullTime(since))
}

func (s *Store) ListMembers(ctx context.Context, since *time.Time) ([]domain.Member, error) {
	return collect(ctx, s.pool, scanMember, `
		SELECT `+memberColumns+`
		FROM members
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
}

func (s *Store) ListResellers(ctx context.Context, since *time.Time) ([]domain.Reseller, error) {
	return collect(ctx, s.pool, scanReseller, `
		SELECT `+resellerColumns+`
		FROM resellers
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
}

func (s *Store) ListBranchInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	return collect(ctx, s.pool, scanInventory, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE branch_id = $1
		ORDER BY variant_id
	`, branchID)
}

func (s *Store) InsertSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	var results any
	if len(entry.Results) > 0 {
		results = string(entry.Results)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_logs (
			id, branch_id, device_id, operator_id, direction, status, item_count,
			success_count, failed_count, conflict_count, results, started_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13)
	`, entry.ID, entry.BranchID, entry.DeviceID, nullIfEmpty(entry.OperatorID), entry.Direction, entry.Status,
		entry.ItemCount, entry.SuccessCount, entry.FailedCount, entry.ConflictCount, results,
		entry.StartedAt, entry.CompletedAt)
	return err
}

func (s *Store) LastSyncLog(ctx context.Context, branchID string, deviceID string) (*domain.SyncLogEntry, error) {
	var (
		entry   domain.SyncLogEntry
		results []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, branch_id, device_id, COALESCE(operator_id, ''), direction, status, item_count,
			success_count, failed_count, conflict_count, results, started_at, completed_at
		FROM sync_logs
		WHERE branch_id = $1 AND device_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`, branchID, deviceID).Scan(&entry.ID, &entry.BranchID, &entry.DeviceID, &entry.OperatorID, &entry.Direction,
		&entry.Status, &entry.ItemCount, &entry.SuccessCount, &entry.FailedCount, &entry.ConflictCount,
		&results, &entry.StartedAt, &entry.CompletedAt)
	if err != nil {
		return nil, notFound(err, "sync log for device %s", deviceID)
	}
	entry.Results = results
	entry.StartedAt, entry.CompletedAt = entry.StartedAt.UTC(), entry.CompletedAt.UTC()
	return &entry, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: username is required", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, password, role, branch_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, username, user.Password, user.Role, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	return collect(ctx, s.pool, func(row scanner) (domain.UserAccount, error) {
		var u domain.UserAccount
		err := row.Scan(&u.Username, &u.Password, &u.Role, &u.BranchID, &u.Active, &u.CreatedAt)
		u.CreatedAt = u.CreatedAt.UTC()
		return u, err
	}, `
		SELECT username, password, role, COALESCE(branch_id, ''), active, created_at
		FROM users
		ORDER BY username
	`)
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

// notFound maps pgx.ErrNoRows onto store.ErrNotFound and passes every other
// error through untouched.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: "+format, append([]any{store.ErrNotFound}, args...)...)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// duplicateError turns unique violations on the numbered and offline-id
// columns into their taxonomy errors.
func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "sales_receipt_number_key":
		return fmt.Errorf("%w: %s", store.ErrDuplicateReceipt, pgErr.Detail)
	case "ledger_entries_entry_number_key":
		return fmt.Errorf("%w: %s", store.ErrDuplicateEntryNumber, pgErr.Detail)
	case "sales_offline_id_key", "members_offline_id_key", "stock_movements_offline_id_key":
		return fmt.Errorf("%w: %s", store.ErrDuplicateOfflineID, pgErr.Detail)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
