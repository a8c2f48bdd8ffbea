package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerCreditSale = "CREDIT_SALE"
	LedgerPayment    = "PAYMENT"
	LedgerAdjustment = "ADJUSTMENT"
	LedgerRefund     = "REFUND"
	LedgerCreditNote = "CREDIT_NOTE"
	LedgerDebitNote  = "DEBIT_NOTE"

	LedgerStatusOpen   = "OPEN"
	LedgerStatusPosted = "POSTED"
)

type LedgerEntry struct {
	ID             string          `json:"id"`
	EntryNumber    string          `json:"entryNumber"`
	ResellerID     string          `json:"resellerId"`
	Type           string          `json:"type"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
	ReferenceType  string          `json:"referenceType,omitempty"`
	ReferenceID    string          `json:"referenceId,omitempty"`
	PaymentMethod  string          `json:"paymentMethod,omitempty"`
	Description    string          `json:"description,omitempty"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	// Seq orders entries created within the same instant.
	Seq int64 `json:"-"`
}

type CreditSaleRequest struct {
	ResellerID  string          `json:"resellerId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	SaleID      string          `json:"saleId,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Description string          `json:"description,omitempty"`
}

type LedgerPaymentRequest struct {
	ResellerID      string          `json:"resellerId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required,oneof=CASH CARD TRANSFER QRIS EWALLET"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

type LedgerAdjustmentRequest struct {
	ResellerID string          `json:"resellerId" validate:"required"`
	Type       string          `json:"type" validate:"required,oneof=ADJUSTMENT DEBIT_NOTE CREDIT_NOTE REFUND"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason" validate:"required"`
}

type StatementRequest struct {
	ResellerID string    `json:"resellerId" validate:"required"`
	From       time.Time `json:"from" validate:"required"`
	To         time.Time `json:"to" validate:"required"`
}

type Statement struct {
	ResellerID     string          `json:"resellerId"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	TotalDebits    decimal.Decimal `json:"totalDebits"`
	TotalCredits   decimal.Decimal `json:"totalCredits"`
	Entries        []LedgerEntry   `json:"entries"`
}

type BalanceResponse struct {
	ResellerID      string          `json:"resellerId"`
	Balance         decimal.Decimal `json:"balance"`
	CreditLimit     decimal.Decimal `json:"creditLimit"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
}

type AgingBuckets struct {
	Current    decimal.Decimal `json:"current"`
	Days1To30  decimal.Decimal `json:"days1To30"`
	Days31To60 decimal.Decimal `json:"days31To60"`
	Days61To90 decimal.Decimal `json:"days61To90"`
	Over90     decimal.Decimal `json:"over90"`
	Total      decimal.Decimal `json:"total"`
}

type ResellerAging struct {
	ResellerID   string       `json:"resellerId"`
	ResellerName string       `json:"resellerName"`
	Buckets      AgingBuckets `json:"buckets"`
}

type AgingReport struct {
	AsOf      time.Time       `json:"asOf"`
	Buckets   AgingBuckets    `json:"buckets"`
	Resellers []ResellerAging `json:"resellers"`
}
