package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SyncEntitySale                = "SALE"
	SyncEntityMember              = "MEMBER"
	SyncEntityInventoryAdjustment = "INVENTORY_ADJUSTMENT"

	SyncActionCreate = "CREATE"
	SyncActionUpdate = "UPDATE"

	SyncItemSuccess  = "SUCCESS"
	SyncItemFailed   = "FAILED"
	SyncItemConflict = "CONFLICT"

	SyncStatusSuccess = "SUCCESS"
	SyncStatusPartial = "PARTIAL"
	SyncStatusFailed  = "FAILED"

	SyncDirectionPush = "PUSH"
	SyncDirectionPull = "PULL"
)

type SyncPushItem struct {
	OfflineID        string          `json:"offlineId"`
	EntityType       string          `json:"entityType"`
	Action           string          `json:"action,omitempty"`
	Data             json.RawMessage `json:"data"`
	OfflineTimestamp *time.Time      `json:"offlineTimestamp,omitempty"`
}

type SyncPushRequest struct {
	BranchID string         `json:"branchId"`
	DeviceID string         `json:"deviceId" validate:"required"`
	Items    []SyncPushItem `json:"items"`
}

type SyncItemResult struct {
	OfflineID string `json:"offlineId"`
	Status    string `json:"status"`
	ServerID  string `json:"serverId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SyncPushResponse struct {
	Success       bool             `json:"success"`
	SyncTimestamp time.Time        `json:"syncTimestamp"`
	Results       []SyncItemResult `json:"results"`
	SuccessCount  int              `json:"successCount"`
	FailedCount   int              `json:"failedCount"`
	ConflictCount int              `json:"conflictCount"`
}

type InventoryAdjustmentSyncData struct {
	VariantID string `json:"variantId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"ne=0"`
	Reason    string `json:"reason,omitempty"`
}

type SyncPullRequest struct {
	BranchID   string     `json:"branchId"`
	DeviceID   string     `json:"deviceId" validate:"required"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

type ProductSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Active   bool   `json:"active"`
}

type VariantSnapshot struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	SKU       string `json:"sku"`
	Barcode   string `json:"barcode,omitempty"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

type PriceSnapshot struct {
	VariantID               string          `json:"variantId"`
	RetailPrice             decimal.Decimal `json:"retailPrice"`
	MemberPrice             decimal.Decimal `json:"memberPrice"`
	MemberDiscountPercent   decimal.Decimal `json:"memberDiscountPercent"`
	ResellerPrice           decimal.Decimal `json:"resellerPrice"`
	ResellerDiscountPercent decimal.Decimal `json:"resellerDiscountPercent"`
	TaxPercent              decimal.Decimal `json:"taxPercent"`
}

type PromotionSnapshot struct {
	Code       string          `json:"code"`
	VariantID  string          `json:"variantId"`
	PromoPrice decimal.Decimal `json:"promoPrice"`
	StartDate  time.Time       `json:"startDate"`
	EndDate    time.Time       `json:"endDate"`
	MemberOnly bool            `json:"memberOnly"`
}

type MemberSnapshot struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone,omitempty"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Active          bool            `json:"active"`
}

type ResellerSnapshot struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	CreditLimit     decimal.Decimal `json:"creditLimit"`
	CurrentBalance  decimal.Decimal `json:"currentBalance"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	Active          bool            `json:"active"`
}

type InventorySnapshot struct {
	VariantID string `json:"variantId"`
	OnHand    int    `json:"onHand"`
	Available int    `json:"available"`
}

type SyncDeletion struct {
	EntityType string    `json:"entityType"`
	ID         string    `json:"id"`
	DeletedAt  time.Time `json:"deletedAt"`
}

type SyncSnapshot struct {
	BranchID      string              `json:"branchId"`
	SyncTimestamp time.Time           `json:"syncTimestamp"`
	FullSync      bool                `json:"fullSync"`
	Products      []ProductSnapshot   `json:"products"`
	Variants      []VariantSnapshot   `json:"variants"`
	PriceProfiles []PriceSnapshot     `json:"priceProfiles"`
	Promotions    []PromotionSnapshot `json:"promotions"`
	Members       []MemberSnapshot    `json:"members"`
	Resellers     []ResellerSnapshot  `json:"resellers"`
	Inventory     []InventorySnapshot `json:"inventory"`
	Deletions     []SyncDeletion      `json:"deletions"`
}

type SyncLogEntry struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branchId"`
	DeviceID      string          `json:"deviceId"`
	OperatorID    string          `json:"operatorId,omitempty"`
	Direction     string          `json:"direction"`
	Status        string          `json:"status"`
	ItemCount     int             `json:"itemCount"`
	SuccessCount  int             `json:"successCount"`
	FailedCount   int             `json:"failedCount"`
	ConflictCount int             `json:"conflictCount"`
	Results       json.RawMessage `json:"results,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
}
