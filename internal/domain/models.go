package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	PriceTypeRetail   = "retail"
	PriceTypeMember   = "member"
	PriceTypeReseller = "reseller"
	PriceTypePromo    = "promo"
	PriceTypeManual   = "manual"
)

const (
	PaymentCash     = "CASH"
	PaymentCard     = "CARD"
	PaymentTransfer = "TRANSFER"
	PaymentQRIS     = "QRIS"
	PaymentEWallet  = "EWALLET"
)

const (
	PaymentStatusPaid    = "PAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusUnpaid  = "UNPAID"

	SaleStatusCompleted = "COMPLETED"

	SourcePOS        = "POS"
	SourcePOSOffline = "POS_OFFLINE"
	SourceOnline     = "ONLINE"
)

const (
	MovementSale              = "SALE"
	MovementAdjustment        = "ADJUSTMENT"
	MovementOfflineAdjustment = "OFFLINE_ADJUSTMENT"
)

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Variant struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	SKU       string    `json:"sku"`
	Barcode   string    `json:"barcode,omitempty"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PriceProfile struct {
	VariantID               string          `json:"variantId"`
	RetailPrice             decimal.Decimal `json:"retailPrice"`
	MemberPrice             decimal.Decimal `json:"memberPrice"`
	MemberDiscountPercent   decimal.Decimal `json:"memberDiscountPercent"`
	ResellerPrice           decimal.Decimal `json:"resellerPrice"`
	ResellerDiscountPercent decimal.Decimal `json:"resellerDiscountPercent"`
	TaxPercent              decimal.Decimal `json:"taxPercent"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

type Promotion struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	VariantID  string          `json:"variantId"`
	PromoPrice decimal.Decimal `json:"promoPrice"`
	StartDate  time.Time       `json:"startDate"`
	EndDate    time.Time       `json:"endDate"`
	Active     bool            `json:"active"`
	MemberOnly bool            `json:"memberOnly"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ActiveAt reports whether the promotion is switched on and at falls inside
// its [StartDate, EndDate] window.
func (p Promotion) ActiveAt(at time.Time) bool {
	if !p.Active {
		return false
	}
	return !at.Before(p.StartDate) && !at.After(p.EndDate)
}

type Member struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone,omitempty"`
	Email           string          `json:"email,omitempty"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Points          int64           `json:"points"`
	Active          bool            `json:"active"`
	OfflineID       string          `json:"offlineId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Reseller struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	CreditLimit    decimal.Decimal `json:"creditLimit"`
	CreditTermDays int             `json:"creditTermDays"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	TotalPurchases decimal.Decimal `json:"totalPurchases"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type InventoryRecord struct {
	ID               string     `json:"id"`
	VariantID        string     `json:"variantId"`
	BranchID         string     `json:"branchId"`
	QuantityOnHand   int        `json:"quantityOnHand"`
	QuantityReserved int        `json:"quantityReserved"`
	ReorderLevel     int        `json:"reorderLevel"`
	ReorderQuantity  int        `json:"reorderQuantity"`
	LastRestockedAt  *time.Time `json:"lastRestockedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (r InventoryRecord) Available() int {
	return r.QuantityOnHand - r.QuantityReserved
}

type StockMovement struct {
	ID            string    `json:"id"`
	InventoryID   string    `json:"inventoryId"`
	VariantID     string    `json:"variantId"`
	BranchID      string    `json:"branchId"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	Reason        string    `json:"reason,omitempty"`
	ReferenceType string    `json:"referenceType,omitempty"`
	ReferenceID   string    `json:"referenceId,omitempty"`
	OfflineID     string    `json:"offlineId,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Sale struct {
	ID             string          `json:"id"`
	ReceiptNumber  string          `json:"receiptNumber"`
	BranchID       string          `json:"branchId"`
	OperatorID     string          `json:"operatorId"`
	CustomerType   CustomerType    `json:"customerType"`
	CustomerID     string          `json:"customerId,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	Total          decimal.Decimal `json:"total"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	ChangeDue      decimal.Decimal `json:"changeDue"`
	PaymentStatus  string          `json:"paymentStatus"`
	Status         string          `json:"status"`
	Source         string          `json:"source"`
	OfflineID      string          `json:"offlineId,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Items          []SaleItem      `json:"items"`
	Payments       []Payment       `json:"payments"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

func (s Sale) Customer() Customer {
	return Customer{Type: s.CustomerType, ID: s.CustomerID}
}

type SaleItem struct {
	ID            string          `json:"id"`
	SaleID        string          `json:"saleId"`
	VariantID     string          `json:"variantId"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Discount      decimal.Decimal `json:"discount"`
	TaxPercent    decimal.Decimal `json:"taxPercent"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	Total         decimal.Decimal `json:"total"`
	PriceType     string          `json:"priceType"`
}

type Payment struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"saleId"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"paymentMethod"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type SaleItemRequest struct {
	VariantID string           `json:"variantId" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
	Discount  *decimal.Decimal `json:"discount,omitempty"`
	PromoCode string           `json:"promoCode,omitempty"`
}

type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required,oneof=CASH CARD TRANSFER QRIS EWALLET"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
}

type CreateSaleRequest struct {
	BranchID     string            `json:"branchId"`
	CustomerID   string            `json:"customerId,omitempty"`
	CustomerType string            `json:"customerType,omitempty" validate:"omitempty,oneof=RETAIL MEMBER RESELLER"`
	Items        []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	Payments     []PaymentRequest  `json:"payments,omitempty" validate:"dive"`
	AmountPaid   *decimal.Decimal  `json:"amountPaid,omitempty"`
	OfflineID    string            `json:"offlineId,omitempty"`
	Source       string            `json:"source,omitempty" validate:"omitempty,oneof=POS POS_OFFLINE ONLINE"`
	Notes        string            `json:"notes,omitempty"`
}

type SaleListResponse struct {
	Sales  []Sale `json:"sales"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type ResolvedPrice struct {
	VariantID       string          `json:"variantId"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	OriginalPrice   decimal.Decimal `json:"originalPrice"`
	PriceType       string          `json:"priceType"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	TaxPercent      decimal.Decimal `json:"taxPercent"`
	PromoCode       string          `json:"promoCode,omitempty"`
}

type InventoryAdjustRequest struct {
	Quantity int    `json:"quantity" validate:"ne=0"`
	Reason   string `json:"reason" validate:"required"`
}

type InventoryAdjustResponse struct {
	Record   InventoryRecord `json:"record"`
	Movement StockMovement   `json:"movement"`
}

type AvailabilityResponse struct {
	VariantID string `json:"variantId"`
	BranchID  string `json:"branchId"`
	Available int    `json:"available"`
}

type MemberCreateRequest struct {
	Name            string           `json:"name" validate:"required"`
	Phone           string           `json:"phone,omitempty"`
	Email           string           `json:"email,omitempty" validate:"omitempty,email"`
	Tier            string           `json:"tier,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty"`
}

type MemberUpdateRequest struct {
	ID              string           `json:"id,omitempty"`
	Name            *string          `json:"name,omitempty"`
	Phone           *string          `json:"phone,omitempty"`
	Email           *string          `json:"email,omitempty" validate:"omitempty,email"`
	Tier            *string          `json:"tier,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	BranchID    string `json:"branchId,omitempty"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
	BranchID string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type OperatorCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=cashier manager"`
	BranchID string `json:"branchId" validate:"required"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branchId,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
