// Package ledger keeps the append-only reseller account ledger. Every entry
// stores the balance right after it; the reseller row mirrors the tail.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/xid"
)

const maxNumberAttempts = 3

type Ledger struct {
	repo store.Repository
	now  func() time.Time
	log  *slog.Logger
}

func New(repo store.Repository, now func() time.Time, logger *slog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, now: now, log: logger}
}

func (l *Ledger) CurrentBalance(ctx context.Context, resellerID string) (decimal.Decimal, error) {
	if _, err := l.repo.GetReseller(ctx, resellerID); err != nil {
		return decimal.Zero, err
	}
	return balanceOf(ctx, l.repo, resellerID)
}

func (l *Ledger) Balance(ctx context.Context, resellerID string) (domain.BalanceResponse, error) {
	reseller, err := l.repo.GetReseller(ctx, resellerID)
	if err != nil {
		return domain.BalanceResponse{}, err
	}
	balance, err := balanceOf(ctx, l.repo, resellerID)
	if err != nil {
		return domain.BalanceResponse{}, err
	}
	return domain.BalanceResponse{
		ResellerID:      resellerID,
		Balance:         balance,
		CreditLimit:     reseller.CreditLimit,
		AvailableCredit: reseller.CreditLimit.Sub(balance),
	}, nil
}

func balanceOf(ctx context.Context, rd store.Reader, resellerID string) (decimal.Decimal, error) {
	last, err := rd.LastLedgerEntry(ctx, resellerID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return last.RunningBalance, nil
}

func (l *Ledger) RecordCreditSale(ctx context.Context, req domain.CreditSaleRequest, createdBy string) (*domain.LedgerEntry, error) {
	return l.withRetry(ctx, func(ctx context.Context, tx store.Tx) (*domain.LedgerEntry, error) {
		return l.RecordCreditSaleTx(ctx, tx, req, createdBy)
	})
}

// RecordCreditSaleTx appends a CREDIT_SALE debit inside the caller's unit of
// work after checking the reseller's available credit.
func (l *Ledger) RecordCreditSaleTx(ctx context.Context, tx store.Tx, req domain.CreditSaleRequest, createdBy string) (*domain.LedgerEntry, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit sale amount must be positive", store.ErrValidation)
	}
	reseller, balance, err := l.lockAccount(ctx, tx, req.ResellerID)
	if err != nil {
		return nil, err
	}
	available := reseller.CreditLimit.Sub(balance)
	if available.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: reseller %s requested %s, available credit %s", store.ErrCreditLimitExceeded, reseller.ID, req.Amount.StringFixed(2), available.StringFixed(2))
	}

	now := l.now().UTC()
	dueDate := now.AddDate(0, 0, reseller.CreditTermDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}
	referenceType := ""
	if req.SaleID != "" {
		referenceType = "SALE"
	}
	description := req.Description
	if description == "" {
		description = "credit sale"
	}

	return l.appendEntry(ctx, tx, *reseller, balance, domain.LedgerEntry{
		Type:          domain.LedgerCreditSale,
		Debit:         req.Amount,
		Credit:        decimal.Zero,
		ReferenceType: referenceType,
		ReferenceID:   req.SaleID,
		Description:   description,
		DueDate:       &dueDate,
		Status:        domain.LedgerStatusOpen,
		CreatedBy:     createdBy,
	}, reseller.TotalPurchases.Add(req.Amount))
}

func (l *Ledger) RecordPayment(ctx context.Context, req domain.LedgerPaymentRequest, createdBy string) (*domain.LedgerEntry, error) {
	return l.withRetry(ctx, func(ctx context.Context, tx store.Tx) (*domain.LedgerEntry, error) {
		return l.RecordPaymentTx(ctx, tx, req, createdBy)
	})
}

func (l *Ledger) RecordPaymentTx(ctx context.Context, tx store.Tx, req domain.LedgerPaymentRequest, createdBy string) (*domain.LedgerEntry, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	reseller, balance, err := l.lockAccount(ctx, tx, req.ResellerID)
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(balance) {
		return nil, fmt.Errorf("%w: payment %s, outstanding %s", store.ErrOverPayment, req.Amount.StringFixed(2), balance.StringFixed(2))
	}

	description := strings.TrimSpace(req.Notes)
	if description == "" {
		description = "payment received"
	}
	referenceType := ""
	if req.ReferenceNumber != "" {
		referenceType = "PAYMENT"
	}
	return l.appendEntry(ctx, tx, *reseller, balance, domain.LedgerEntry{
		Type:          domain.LedgerPayment,
		Debit:         decimal.Zero,
		Credit:        req.Amount,
		ReferenceType: referenceType,
		ReferenceID:   req.ReferenceNumber,
		PaymentMethod: req.PaymentMethod,
		Description:   description,
		Status:        domain.LedgerStatusPosted,
		CreatedBy:     createdBy,
	}, reseller.TotalPurchases)
}

func (l *Ledger) RecordAdjustment(ctx context.Context, req domain.LedgerAdjustmentRequest, createdBy string) (*domain.LedgerEntry, error) {
	return l.withRetry(ctx, func(ctx context.Context, tx store.Tx) (*domain.LedgerEntry, error) {
		return l.RecordAdjustmentTx(ctx, tx, req, createdBy)
	})
}

// RecordAdjustmentTx appends a correcting entry. ADJUSTMENT is signed
// (positive debits, negative credits); DEBIT_NOTE debits; CREDIT_NOTE and
// REFUND credit.
func (l *Ledger) RecordAdjustmentTx(ctx context.Context, tx store.Tx, req domain.LedgerAdjustmentRequest, createdBy string) (*domain.LedgerEntry, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", store.ErrValidation)
	}
	debit, credit := decimal.Zero, decimal.Zero
	switch req.Type {
	case domain.LedgerAdjustment:
		switch {
		case req.Amount.IsPositive():
			debit = req.Amount
		case req.Amount.IsNegative():
			credit = req.Amount.Neg()
		default:
			return nil, fmt.Errorf("%w: adjustment amount must not be zero", store.ErrValidation)
		}
	case domain.LedgerDebitNote:
		if !req.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: debit note amount must be positive", store.ErrValidation)
		}
		debit = req.Amount
	case domain.LedgerCreditNote, domain.LedgerRefund:
		if !req.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: %s amount must be positive", store.ErrValidation, strings.ToLower(req.Type))
		}
		credit = req.Amount
	default:
		return nil, fmt.Errorf("%w: unsupported adjustment type %q", store.ErrValidation, req.Type)
	}

	reseller, balance, err := l.lockAccount(ctx, tx, req.ResellerID)
	if err != nil {
		return nil, err
	}
	return l.appendEntry(ctx, tx, *reseller, balance, domain.LedgerEntry{
		Type:        req.Type,
		Debit:       debit,
		Credit:      credit,
		Description: strings.TrimSpace(req.Reason),
		Status:      domain.LedgerStatusPosted,
		CreatedBy:   createdBy,
	}, reseller.TotalPurchases)
}

func (l *Ledger) lockAccount(ctx context.Context, tx store.Tx, resellerID string) (*domain.Reseller, decimal.Decimal, error) {
	reseller, err := tx.LockReseller(ctx, resellerID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !reseller.Active {
		return nil, decimal.Zero, fmt.Errorf("%w: reseller %s is inactive", store.ErrValidation, resellerID)
	}
	balance, err := balanceOf(ctx, tx, resellerID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return reseller, balance, nil
}

// appendEntry numbers the entry, derives its running balance from the tail
// and mirrors the new balance onto the reseller row.
func (l *Ledger) appendEntry(ctx context.Context, tx store.Tx, reseller domain.Reseller, balance decimal.Decimal, entry domain.LedgerEntry, totalPurchases decimal.Decimal) (*domain.LedgerEntry, error) {
	running := balance.Add(entry.Debit).Sub(entry.Credit)
	if running.IsNegative() {
		return nil, fmt.Errorf("%w: reseller %s balance %s would become %s", store.ErrNegativeBalance, reseller.ID, balance.StringFixed(2), running.StringFixed(2))
	}

	now := l.now().UTC()
	prefix := "LE-" + now.Format("200601")
	seq, err := tx.NextSequence(ctx, prefix)
	if err != nil {
		return nil, err
	}

	entry.ID = xid.New("le")
	entry.EntryNumber = fmt.Sprintf("%s-%05d", prefix, seq)
	entry.ResellerID = reseller.ID
	entry.RunningBalance = running
	entry.CreatedAt = now
	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.UpdateResellerBalance(ctx, reseller.ID, running, totalPurchases, now); err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "ledger entry appended",
		"entry_number", entry.EntryNumber,
		"reseller_id", reseller.ID,
		"type", entry.Type,
		"debit", entry.Debit.String(),
		"credit", entry.Credit.String(),
		"running_balance", running.String(),
	)
	return &entry, nil
}

func (l *Ledger) withRetry(ctx context.Context, fn func(ctx context.Context, tx store.Tx) (*domain.LedgerEntry, error)) (*domain.LedgerEntry, error) {
	var (
		entry *domain.LedgerEntry
		err   error
	)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		err = l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var txErr error
			entry, txErr = fn(ctx, tx)
			return txErr
		})
		if !errors.Is(err, store.ErrDuplicateEntryNumber) {
			break
		}
		l.log.WarnContext(ctx, "ledger entry number collision, retrying", "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Statement lists entries with from <= createdAt <= to. The opening balance
// is the running balance of the latest entry at or before from, so an entry
// stamped exactly at from is both the opening figure and the first line.
func (l *Ledger) Statement(ctx context.Context, req domain.StatementRequest) (domain.Statement, error) {
	if req.To.Before(req.From) {
		return domain.Statement{}, fmt.Errorf("%w: statement range ends before it starts", store.ErrValidation)
	}
	if _, err := l.repo.GetReseller(ctx, req.ResellerID); err != nil {
		return domain.Statement{}, err
	}

	opening := decimal.Zero
	prior, err := l.repo.LedgerEntryAsOf(ctx, req.ResellerID, req.From)
	switch {
	case err == nil:
		opening = prior.RunningBalance
	case !errors.Is(err, store.ErrNotFound):
		return domain.Statement{}, err
	}

	entries, err := l.repo.ListLedgerEntries(ctx, req.ResellerID, req.From, req.To)
	if err != nil {
		return domain.Statement{}, err
	}

	stmt := domain.Statement{
		ResellerID:     req.ResellerID,
		From:           req.From,
		To:             req.To,
		OpeningBalance: opening,
		ClosingBalance: opening,
		TotalDebits:    decimal.Zero,
		TotalCredits:   decimal.Zero,
		Entries:        entries,
	}
	for _, e := range entries {
		stmt.TotalDebits = stmt.TotalDebits.Add(e.Debit)
		stmt.TotalCredits = stmt.TotalCredits.Add(e.Credit)
	}
	if len(entries) > 0 {
		stmt.ClosingBalance = entries[len(entries)-1].RunningBalance
	}
	return stmt, nil
}

// AgingReport buckets the debit of every CREDIT_SALE entry created on or
// before asOf by its age in whole days. Payments are not allocated against
// individual sales, so the report shows gross credit sales by age.
func (l *Ledger) AgingReport(ctx context.Context, asOf time.Time) (domain.AgingReport, error) {
	entries, err := l.repo.ListLedgerEntriesByType(ctx, domain.LedgerCreditSale, asOf)
	if err != nil {
		return domain.AgingReport{}, err
	}
	resellers, err := l.repo.ListResellers(ctx, nil)
	if err != nil {
		return domain.AgingReport{}, err
	}
	names := make(map[string]string, len(resellers))
	for _, r := range resellers {
		names[r.ID] = r.Name
	}

	report := domain.AgingReport{AsOf: asOf, Buckets: emptyBuckets(), Resellers: []domain.ResellerAging{}}
	perReseller := map[string]int{}
	for _, e := range entries {
		idx, ok := perReseller[e.ResellerID]
		if !ok {
			report.Resellers = append(report.Resellers, domain.ResellerAging{
				ResellerID:   e.ResellerID,
				ResellerName: names[e.ResellerID],
				Buckets:      emptyBuckets(),
			})
			idx = len(report.Resellers) - 1
			perReseller[e.ResellerID] = idx
		}
		days := ageInDays(e.CreatedAt, asOf)
		addToBucket(&report.Buckets, days, e.Debit)
		addToBucket(&report.Resellers[idx].Buckets, days, e.Debit)
	}
	return report, nil
}

func emptyBuckets() domain.AgingBuckets {
	return domain.AgingBuckets{
		Current:    decimal.Zero,
		Days1To30:  decimal.Zero,
		Days31To60: decimal.Zero,
		Days61To90: decimal.Zero,
		Over90:     decimal.Zero,
		Total:      decimal.Zero,
	}
}

func ageInDays(createdAt, asOf time.Time) int {
	return int(math.Floor(asOf.Sub(createdAt).Hours() / 24))
}

func addToBucket(b *domain.AgingBuckets, days int, amount decimal.Decimal) {
	switch {
	case days <= 0:
		b.Current = b.Current.Add(amount)
	case days <= 30:
		b.Days1To30 = b.Days1To30.Add(amount)
	case days <= 60:
		b.Days31To60 = b.Days31To60.Add(amount)
	case days <= 90:
		b.Days61To90 = b.Days61To90.Add(amount)
	default:
		b.Over90 = b.Over90.Add(amount)
	}
	b.Total = b.Total.Add(amount)
}
