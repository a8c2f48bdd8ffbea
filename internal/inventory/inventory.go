// Package inventory tracks on-hand and reserved stock per variant and branch.
// Every mutation runs inside a caller-supplied unit of work.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/xid"
)

type Ledger struct {
	repo store.Repository
	now  func() time.Time
}

func New(repo store.Repository, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now}
}

// AdjustOptions describes the journal row written for an adjustment.
type AdjustOptions struct {
	Reason        string
	Type          string
	ReferenceType string
	ReferenceID   string
	OfflineID     string
	CreatedBy     string
}

// GetAvailable never fails: a missing record or a read error counts as zero.
func (l *Ledger) GetAvailable(ctx context.Context, rd store.Reader, variantID string, branchID string) int {
	record, err := rd.FindInventory(ctx, variantID, branchID)
	if err != nil {
		return 0
	}
	if available := record.Available(); available > 0 {
		return available
	}
	return 0
}

func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, recordID string, qty int) (*domain.InventoryRecord, error) {
	return l.mutate(ctx, tx, recordID, func(r *domain.InventoryRecord) error {
		return reserve(r, qty)
	})
}

func (l *Ledger) Release(ctx context.Context, tx store.Tx, recordID string, qty int) (*domain.InventoryRecord, error) {
	return l.mutate(ctx, tx, recordID, func(r *domain.InventoryRecord) error {
		return release(r, qty)
	})
}

// Deduct removes qty from on-hand stock. reserved is the part of qty the
// caller already holds through Reserve in this unit of work; holds taken by
// anyone else are never consumed. It writes a SALE movement when ref is set.
func (l *Ledger) Deduct(ctx context.Context, tx store.Tx, recordID string, qty int, reserved int, ref AdjustOptions) (*domain.InventoryRecord, error) {
	record, err := l.mutate(ctx, tx, recordID, func(r *domain.InventoryRecord) error {
		return deduct(r, qty, reserved)
	})
	if err != nil {
		return nil, err
	}
	if ref.ReferenceID == "" {
		return record, nil
	}
	if ref.Type == "" {
		ref.Type = domain.MovementSale
	}
	movement := l.movement(*record, -qty, ref)
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *Ledger) AdjustTx(ctx context.Context, tx store.Tx, recordID string, delta int, opts AdjustOptions) (*domain.InventoryRecord, *domain.StockMovement, error) {
	now := l.now().UTC()
	record, err := l.mutate(ctx, tx, recordID, func(r *domain.InventoryRecord) error {
		return adjust(r, delta, now)
	})
	if err != nil {
		return nil, nil, err
	}
	if opts.Type == "" {
		opts.Type = domain.MovementAdjustment
	}
	movement := l.movement(*record, delta, opts)
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return nil, nil, err
	}
	return record, &movement, nil
}

// Adjust runs AdjustTx in its own unit of work.
func (l *Ledger) Adjust(ctx context.Context, recordID string, delta int, opts AdjustOptions) (*domain.InventoryRecord, *domain.StockMovement, error) {
	var (
		record   *domain.InventoryRecord
		movement *domain.StockMovement
	)
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		record, movement, err = l.AdjustTx(ctx, tx, recordID, delta, opts)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return record, movement, nil
}

// AdjustOffline applies a terminal-originated adjustment once per offlineID.
// A replay returns the movement written by the first application.
func (l *Ledger) AdjustOffline(ctx context.Context, variantID string, branchID string, delta int, opts AdjustOptions) (*domain.StockMovement, error) {
	if strings.TrimSpace(opts.OfflineID) == "" {
		return nil, fmt.Errorf("%w: offlineId is required", store.ErrValidation)
	}
	if existing, err := l.repo.FindStockMovementByOfflineID(ctx, opts.OfflineID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	opts.Type = domain.MovementOfflineAdjustment
	var movement *domain.StockMovement
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		record, err := tx.LockInventory(ctx, variantID, branchID)
		if err != nil {
			return err
		}
		_, movement, err = l.AdjustTx(ctx, tx, record.ID, delta, opts)
		return err
	})
	if errors.Is(err, store.ErrDuplicateOfflineID) {
		return l.repo.FindStockMovementByOfflineID(ctx, opts.OfflineID)
	}
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (l *Ledger) mutate(ctx context.Context, tx store.Tx, recordID string, apply func(*domain.InventoryRecord) error) (*domain.InventoryRecord, error) {
	record, err := tx.LockInventoryByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := apply(record); err != nil {
		return nil, err
	}
	record.UpdatedAt = l.now().UTC()
	if err := tx.UpdateInventory(ctx, *record); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *Ledger) movement(record domain.InventoryRecord, delta int, opts AdjustOptions) domain.StockMovement {
	return domain.StockMovement{
		ID:            xid.New("mov"),
		InventoryID:   record.ID,
		VariantID:     record.VariantID,
		BranchID:      record.BranchID,
		Type:          opts.Type,
		Quantity:      delta,
		Reason:        opts.Reason,
		ReferenceType: opts.ReferenceType,
		ReferenceID:   opts.ReferenceID,
		OfflineID:     opts.OfflineID,
		CreatedBy:     opts.CreatedBy,
		CreatedAt:     l.now().UTC(),
	}
}

func reserve(r *domain.InventoryRecord, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: reserve quantity must be positive", store.ErrValidation)
	}
	if qty > r.Available() {
		return fmt.Errorf("%w: variant %s requested %d, available %d", store.ErrInsufficientStock, r.VariantID, qty, r.Available())
	}
	r.QuantityReserved += qty
	return nil
}

func release(r *domain.InventoryRecord, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: release quantity must be positive", store.ErrValidation)
	}
	if qty > r.QuantityReserved {
		return fmt.Errorf("%w: release %d, reserved %d", store.ErrInvalidRelease, qty, r.QuantityReserved)
	}
	r.QuantityReserved -= qty
	return nil
}

// deduct takes reserved out of the reservation; the rest of qty must fit in
// the unreserved stock.
func deduct(r *domain.InventoryRecord, qty int, reserved int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: deduct quantity must be positive", store.ErrValidation)
	}
	if reserved < 0 || reserved > qty {
		return fmt.Errorf("%w: reserved part %d of deduction %d out of range", store.ErrValidation, reserved, qty)
	}
	if reserved > r.QuantityReserved {
		return fmt.Errorf("%w: deduct against %d reserved, record holds %d", store.ErrInvalidRelease, reserved, r.QuantityReserved)
	}
	if remainder := qty - reserved; remainder > r.Available() {
		return fmt.Errorf("%w: variant %s requested %d, available %d", store.ErrInsufficientStock, r.VariantID, qty, r.Available()+reserved)
	}
	r.QuantityOnHand -= qty
	r.QuantityReserved -= reserved
	return nil
}

func adjust(r *domain.InventoryRecord, delta int, at time.Time) error {
	if delta == 0 {
		return fmt.Errorf("%w: adjustment quantity must not be zero", store.ErrValidation)
	}
	if r.QuantityOnHand+delta < 0 {
		return fmt.Errorf("%w: on hand %d, delta %d", store.ErrNegativeResult, r.QuantityOnHand, delta)
	}
	if r.QuantityOnHand+delta < r.QuantityReserved {
		return fmt.Errorf("%w: on hand %d would drop below reserved %d", store.ErrNegativeResult, r.QuantityOnHand+delta, r.QuantityReserved)
	}
	r.QuantityOnHand += delta
	if delta > 0 {
		restocked := at
		r.LastRestockedAt = &restocked
	}
	return nil
}
