package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrForbidden             = errors.New("forbidden")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrCreditLimitExceeded   = errors.New("credit limit exceeded")
	ErrOverPayment           = errors.New("payment exceeds outstanding balance")
	ErrInvalidRelease        = errors.New("release exceeds reserved quantity")
	ErrNegativeResult        = errors.New("adjustment would make stock negative")
	ErrNegativeBalance       = errors.New("balance would become negative")
	ErrDuplicateReceipt      = errors.New("duplicate receipt number")
	ErrDuplicateEntryNumber  = errors.New("duplicate ledger entry number")
	ErrDuplicateOfflineID    = errors.New("duplicate offline id")
	ErrUnknownSyncEntityType = errors.New("unknown sync entity type")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation_error"},
	{ErrForbidden, "forbidden"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrCreditLimitExceeded, "credit_limit_exceeded"},
	{ErrOverPayment, "over_payment"},
	{ErrInvalidRelease, "invalid_release"},
	{ErrNegativeResult, "negative_result"},
	{ErrNegativeBalance, "negative_balance"},
	{ErrDuplicateReceipt, "duplicate_receipt"},
	{ErrDuplicateEntryNumber, "duplicate_entry_number"},
	{ErrDuplicateOfflineID, "duplicate_offline_id"},
	{ErrUnknownSyncEntityType, "unknown_sync_entity_type"},
}

// Kind returns the stable snake_case name of the taxonomy error wrapped by
// err, or "internal" when err is outside the taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// Reader is the read side shared by the repository and open units of work.
type Reader interface {
	GetVariant(ctx context.Context, id string) (*domain.Variant, error)
	GetPriceProfile(ctx context.Context, variantID string) (*domain.PriceProfile, error)
	GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	FindMemberByOfflineID(ctx context.Context, offlineID string) (*domain.Member, error)
	GetReseller(ctx context.Context, id string) (*domain.Reseller, error)
	GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error)
	FindInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error)
	FindSaleByOfflineID(ctx context.Context, offlineID string) (*domain.Sale, error)
	FindStockMovementByOfflineID(ctx context.Context, offlineID string) (*domain.StockMovement, error)
	LastLedgerEntry(ctx context.Context, resellerID string) (*domain.LedgerEntry, error)
}

// Tx is one unit of work. Lock* methods hold the row until the unit of work
// ends; every write becomes visible to other callers only on commit.
type Tx interface {
	Reader
	// NextSequence increments the counter for key on the unit of work's own
	// connection.
	NextSequence(ctx context.Context, key string) (int64, error)
	LockInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error)
	LockInventoryByID(ctx context.Context, id string) (*domain.InventoryRecord, error)
	UpdateInventory(ctx context.Context, record domain.InventoryRecord) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error
	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertPayments(ctx context.Context, saleID string, payments []domain.Payment) error
	LockReseller(ctx context.Context, id string) (*domain.Reseller, error)
	UpdateResellerBalance(ctx context.Context, id string, balance decimal.Decimal, totalPurchases decimal.Decimal, at time.Time) error
	InsertLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	InsertMember(ctx context.Context, member domain.Member) error
	LockMember(ctx context.Context, id string) (*domain.Member, error)
	UpdateMember(ctx context.Context, member domain.Member) error
}

type Repository interface {
	Reader

	// WithinTx runs fn in a unit of work, committing when fn returns nil and
	// rolling back every write otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// NextSequence atomically increments and returns the counter for key.
	NextSequence(ctx context.Context, key string) (int64, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, limit int, offset int) ([]domain.Sale, int, error)

	LedgerEntryAsOf(ctx context.Context, resellerID string, asOf time.Time) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, resellerID string, from time.Time, to time.Time) ([]domain.LedgerEntry, error)
	ListLedgerEntriesByType(ctx context.Context, entryType string, until time.Time) ([]domain.LedgerEntry, error)

	ListProducts(ctx context.Context, since *time.Time) ([]domain.Product, error)
	ListVariants(ctx context.Context, since *time.Time) ([]domain.Variant, error)
	ListPriceProfiles(ctx context.Context, since *time.Time) ([]domain.PriceProfile, error)
	ListActivePromotions(ctx context.Context, at time.Time, since *time.Time) ([]domain.Promotion, error)
	ListMembers(ctx context.Context, since *time.Time) ([]domain.Member, error)
	ListResellers(ctx context.Context, since *time.Time) ([]domain.Reseller, error)
	ListBranchInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error)

	InsertSyncLog(ctx context.Context, entry domain.SyncLogEntry) error
	LastSyncLog(ctx context.Context, branchID string, deviceID string) (*domain.SyncLogEntry, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
