package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
)

// Store keeps every table in maps guarded by mu. Units of work take per-row
// locks from locks and stage their writes until commit.
type Store struct {
	mu sync.RWMutex

	products      map[string]domain.Product
	variants      map[string]domain.Variant
	priceProfiles map[string]domain.PriceProfile
	promotions    map[string]domain.Promotion

	members          map[string]domain.Member
	membersByOffline map[string]string
	resellers        map[string]domain.Reseller

	inventory          map[string]domain.InventoryRecord
	inventoryByKey     map[string]string
	movements          []domain.StockMovement
	movementsByOffline map[string]int

	sales          map[string]domain.Sale
	salesByReceipt map[string]string
	salesByOffline map[string]string

	ledger       map[string][]domain.LedgerEntry
	entryNumbers map[string]struct{}
	ledgerSeq    int64

	counters        map[string]int64
	syncLogs        []domain.SyncLogEntry
	usersByUsername map[string]domain.UserAccount

	locks *keyLocks
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		variants:           make(map[string]domain.Variant),
		priceProfiles:      make(map[string]domain.PriceProfile),
		promotions:         make(map[string]domain.Promotion),
		members:            make(map[string]domain.Member),
		membersByOffline:   make(map[string]string),
		resellers:          make(map[string]domain.Reseller),
		inventory:          make(map[string]domain.InventoryRecord),
		inventoryByKey:     make(map[string]string),
		movementsByOffline: make(map[string]int),
		sales:              make(map[string]domain.Sale),
		salesByReceipt:     make(map[string]string),
		salesByOffline:     make(map[string]string),
		ledger:             make(map[string][]domain.LedgerEntry),
		entryNumbers:       make(map[string]struct{}),
		counters:           make(map[string]int64),
		usersByUsername:    make(map[string]domain.UserAccount),
		locks:              newKeyLocks(),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from SEED_*_PASSWORD
// and fall back to well-known defaults with a warning; production runs on
// postgres and never calls this.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"manager", managerPwd, domain.RoleManager, "branch-main"},
		{"cashier", cashierPwd, domain.RoleCashier, "branch-main"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("failed to hash seed password", "username", u.username, "error", err)
			os.Exit(1)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small catalog stocked in two branches,
// one member, two resellers and the dev user accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	catalog := []struct {
		id       string
		name     string
		category string
		retail   int64
		member   int64
		reseller int64
		tax      int64
	}{
		{"mie-goreng", "Mie Goreng Instan", "grocery", 3500, 0, 3000, 0},
		{"telur-10", "Telur 10 Butir", "grocery", 26500, 25000, 0, 0},
		{"susu-uht-1l", "Susu UHT 1L", "dairy", 18900, 0, 16500, 11},
		{"roti-tawar", "Roti Tawar", "bakery", 17800, 0, 15000, 11},
		{"kopi-sachet", "Kopi Sachet", "beverage", 2600, 0, 2200, 11},
		{"gula-1kg", "Gula 1kg", "grocery", 17400, 16900, 15800, 0},
		{"air-600ml", "Air Mineral 600ml", "beverage", 3900, 0, 3200, 11},
		{"sabun-mandi", "Sabun Mandi", "household", 7400, 0, 6200, 11},
	}
	for _, item := range catalog {
		productID := "prd-" + item.id
		variantID := "var-" + item.id
		s.PutProduct(domain.Product{ID: productID, Name: item.name, Category: item.category, Active: true, UpdatedAt: now})
		s.PutVariant(domain.Variant{ID: variantID, ProductID: productID, SKU: strings.ToUpper(item.id), Name: item.name, Active: true, UpdatedAt: now})
		s.PutPriceProfile(domain.PriceProfile{
			VariantID:             variantID,
			RetailPrice:           decimal.NewFromInt(item.retail),
			MemberPrice:           decimal.NewFromInt(item.member),
			MemberDiscountPercent: decimal.NewFromInt(5),
			ResellerPrice:         decimal.NewFromInt(item.reseller),
			TaxPercent:            decimal.NewFromInt(item.tax),
			UpdatedAt:             now,
		})
		for _, branchID := range []string{"branch-main", "branch-north"} {
			s.PutInventory(domain.InventoryRecord{
				ID:              fmt.Sprintf("inv-%s-%s", branchID, item.id),
				VariantID:       variantID,
				BranchID:        branchID,
				QuantityOnHand:  120,
				ReorderLevel:    20,
				ReorderQuantity: 100,
				UpdatedAt:       now,
			})
		}
	}

	s.PutPromotion(domain.Promotion{
		ID:         "promo-kopi-hemat",
		Code:       "KOPIHEMAT",
		Name:       "Kopi Hemat",
		VariantID:  "var-kopi-sachet",
		PromoPrice: decimal.NewFromInt(2000),
		StartDate:  now.AddDate(0, -1, 0),
		EndDate:    now.AddDate(1, 0, 0),
		Active:     true,
		UpdatedAt:  now,
	})
	s.PutMember(domain.Member{
		ID:              "mbr-demo",
		Code:            "MBR-DEMO-00001",
		Name:            "Siti Rahma",
		Phone:           "081200000001",
		Tier:            "SILVER",
		DiscountPercent: decimal.NewFromInt(5),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	s.PutReseller(domain.Reseller{
		ID:             "rsl-toko-makmur",
		Code:           "RSL-00001",
		Name:           "Toko Makmur",
		CreditLimit:    decimal.NewFromInt(5000000),
		CreditTermDays: 30,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	s.PutReseller(domain.Reseller{
		ID:             "rsl-warung-sejahtera",
		Code:           "RSL-00002",
		Name:           "Warung Sejahtera",
		CreditLimit:    decimal.NewFromInt(2000000),
		CreditTermDays: 14,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *Store) PutPriceProfile(p domain.PriceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceProfiles[p.VariantID] = p
}

func (s *Store) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions[strings.ToUpper(p.Code)] = p
}

func (s *Store) PutMember(m domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
	if m.OfflineID != "" {
		s.membersByOffline[m.OfflineID] = m.ID
	}
}

func (s *Store) PutReseller(r domain.Reseller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resellers[r.ID] = r
}

func (s *Store) PutInventory(r domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[r.ID] = r
	s.inventoryByKey[inventoryKey(r.VariantID, r.BranchID)] = r.ID
}

func inventoryKey(variantID, branchID string) string {
	return variantID + "|" + branchID
}

func (s *Store) GetVariant(_ context.Context, id string) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, id)
	}
	return &v, nil
}

func (s *Store) GetPriceProfile(_ context.Context, variantID string) (*domain.PriceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.priceProfiles[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: price profile for variant %s", store.ErrNotFound, variantID)
	}
	return &p, nil
}

func (s *Store) GetPromotionByCode(_ context.Context, code string) (*domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.promotions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("%w: promotion %s", store.ErrNotFound, code)
	}
	return &p, nil
}

func (s *Store) GetMember(_ context.Context, id string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberLocked(id)
}

func (s *Store) memberLocked(id string) (*domain.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, id)
	}
	return &m, nil
}

func (s *Store) FindMemberByOfflineID(_ context.Context, offlineID string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.membersByOffline[offlineID]
	if !ok {
		return nil, fmt.Errorf("%w: member with offline id %s", store.ErrNotFound, offlineID)
	}
	return s.memberLocked(id)
}

func (s *Store) GetReseller(_ context.Context, id string) (*domain.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resellers[id]
	if !ok {
		return nil, fmt.Errorf("%w: reseller %s", store.ErrNotFound, id)
	}
	return &r, nil
}

func (s *Store) GetInventory(_ context.Context, id string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.inventory[id]
	if !ok {
		return nil, fmt.Errorf("%w: inventory record %s", store.ErrNotFound, id)
	}
	return &r, nil
}

func (s *Store) FindInventory(_ context.Context, variantID string, branchID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.inventoryByKey[inventoryKey(variantID, branchID)]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for variant %s in branch %s", store.ErrNotFound, variantID, branchID)
	}
	r := s.inventory[id]
	return &r, nil
}

func (s *Store) FindSaleByOfflineID(_ context.Context, offlineID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByOffline[offlineID]
	if !ok {
		return nil, fmt.Errorf("%w: sale with offline id %s", store.ErrNotFound, offlineID)
	}
	sale := cloneSale(s.sales[id])
	return &sale, nil
}

func (s *Store) FindStockMovementByOfflineID(_ context.Context, offlineID string) (*domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.movementsByOffline[offlineID]
	if !ok {
		return nil, fmt.Errorf("%w: stock movement with offline id %s", store.ErrNotFound, offlineID)
	}
	m := s.movements[idx]
	return &m, nil
}

func (s *Store) LastLedgerEntry(_ context.Context, resellerID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[resellerID]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: ledger entries for reseller %s", store.ErrNotFound, resellerID)
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok || sale.DeletedAt != nil {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (s *Store) FindSaleByReceipt(_ context.Context, receiptNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByReceipt[receiptNumber]
	if !ok || s.sales[id].DeletedAt != nil {
		return nil, fmt.Errorf("%w: sale with receipt %s", store.ErrNotFound, receiptNumber)
	}
	copied := cloneSale(s.sales[id])
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, branchID string, limit int, offset int) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.DeletedAt != nil {
			continue
		}
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ReceiptNumber, a.ReceiptNumber)
	})

	total := len(matched)
	if offset >= total {
		return []domain.Sale{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]domain.Sale, 0, end-offset)
	for _, sale := range matched[offset:end] {
		page = append(page, cloneSale(sale))
	}
	return page, total, nil
}

func (s *Store) LedgerEntryAsOf(_ context.Context, resellerID string, asOf time.Time) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[resellerID]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].CreatedAt.After(asOf) {
			found := entries[i]
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: ledger entry as of %s", store.ErrNotFound, asOf.Format(time.RFC3339))
}

func (s *Store) ListLedgerEntries(_ context.Context, resellerID string, from time.Time, to time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0)
	for _, entry := range s.ledger[resellerID] {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) ListLedgerEntriesByType(_ context.Context, entryType string, until time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0)
	for _, perReseller := range s.ledger {
		for _, entry := range perReseller {
			if entry.Type == entryType && !entry.CreatedAt.After(until) {
				entries = append(entries, entry)
			}
		}
	}
	slices.SortFunc(entries, compareEntries)
	return entries, nil
}

func compareEntries(a, b domain.LedgerEntry) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func changedSince(updatedAt time.Time, since *time.Time) bool {
	return since == nil || updatedAt.After(*since)
}

func (s *Store) ListProducts(_ context.Context, since *time.Time) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if changedSince(p.UpdatedAt, since) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListVariants(_ context.Context, since *time.Time) ([]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		if changedSince(v.UpdatedAt, since) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b domain.Variant) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListPriceProfiles(_ context.Context, since *time.Time) ([]domain.PriceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceProfile, 0, len(s.priceProfiles))
	for _, p := range s.priceProfiles {
		if changedSince(p.UpdatedAt, since) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.PriceProfile) int { return strings.Compare(a.VariantID, b.VariantID) })
	return out, nil
}

func (s *Store) ListActivePromotions(_ context.Context, at time.Time, since *time.Time) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		if p.ActiveAt(at) && changedSince(p.UpdatedAt, since) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Promotion) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *Store) ListMembers(_ context.Context, since *time.Time) ([]domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		if changedSince(m.UpdatedAt, since) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.Member) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListResellers(_ context.Context, since *time.Time) ([]domain.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Reseller, 0, len(s.resellers))
	for _, r := range s.resellers {
		if changedSince(r.UpdatedAt, since) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Reseller) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListBranchInventory(_ context.Context, branchID string) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0)
	for _, r := range s.inventory {
		if r.BranchID == branchID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.InventoryRecord) int { return strings.Compare(a.VariantID, b.VariantID) })
	return out, nil
}

func (s *Store) InsertSyncLog(_ context.Context, entry domain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLogs = append(s.syncLogs, entry)
	return nil
}

func (s *Store) LastSyncLog(_ context.Context, branchID string, deviceID string) (*domain.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.syncLogs) - 1; i >= 0; i-- {
		entry := s.syncLogs[i]
		if entry.BranchID == branchID && entry.DeviceID == deviceID {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: sync log for device %s", store.ErrNotFound, deviceID)
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: username is required", store.ErrValidation)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	sale.Payments = slices.Clone(sale.Payments)
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	if sale.Payments == nil {
		sale.Payments = []domain.Payment{}
	}
	return sale
}
