package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
)

// keyLocks hands out one single-slot channel per row key. Holding the slot
// is holding the row lock; waiting on it honors context cancellation.
type keyLocks struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{chans: make(map[string]chan struct{})}
}

func (k *keyLocks) acquire(ctx context.Context, key string) error {
	k.mu.Lock()
	ch, ok := k.chans[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.chans[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyLocks) release(key string) {
	k.mu.Lock()
	ch := k.chans[key]
	k.mu.Unlock()
	<-ch
}

// memTx stages writes in its own maps; reads consult the staged rows first.
type memTx struct {
	s    *Store
	held map[string]struct{}
	keys []string

	inventory map[string]domain.InventoryRecord
	resellers map[string]domain.Reseller
	members   map[string]domain.Member
	inserted  map[string]bool
	movements []domain.StockMovement
	sales     []domain.Sale
	entries   []domain.LedgerEntry
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := &memTx{
		s:         s,
		held:      make(map[string]struct{}),
		inventory: make(map[string]domain.InventoryRecord),
		resellers: make(map[string]domain.Reseller),
		members:   make(map[string]domain.Member),
		inserted:  make(map[string]bool),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.keys = append(t.keys, key)
	return nil
}

func (t *memTx) holds(key string) bool {
	_, ok := t.held[key]
	return ok
}

func (t *memTx) releaseAll() {
	for i := len(t.keys) - 1; i >= 0; i-- {
		t.s.locks.release(t.keys[i])
	}
	t.keys = nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range t.sales {
		if _, exists := s.salesByReceipt[sale.ReceiptNumber]; exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateReceipt, sale.ReceiptNumber)
		}
		if sale.OfflineID != "" {
			if _, exists := s.salesByOffline[sale.OfflineID]; exists {
				return fmt.Errorf("%w: sale %s", store.ErrDuplicateOfflineID, sale.OfflineID)
			}
		}
	}
	for _, m := range t.movements {
		if m.OfflineID == "" {
			continue
		}
		if _, exists := s.movementsByOffline[m.OfflineID]; exists {
			return fmt.Errorf("%w: stock movement %s", store.ErrDuplicateOfflineID, m.OfflineID)
		}
	}
	for id := range t.inserted {
		m := t.members[id]
		if m.OfflineID == "" {
			continue
		}
		if _, exists := s.membersByOffline[m.OfflineID]; exists {
			return fmt.Errorf("%w: member %s", store.ErrDuplicateOfflineID, m.OfflineID)
		}
	}
	for _, e := range t.entries {
		if _, exists := s.entryNumbers[e.EntryNumber]; exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateEntryNumber, e.EntryNumber)
		}
	}

	for id, r := range t.inventory {
		s.inventory[id] = r
	}
	for id, r := range t.resellers {
		s.resellers[id] = r
	}
	for id, m := range t.members {
		s.members[id] = m
		if m.OfflineID != "" {
			s.membersByOffline[m.OfflineID] = id
		}
	}
	for _, m := range t.movements {
		s.movements = append(s.movements, m)
		if m.OfflineID != "" {
			s.movementsByOffline[m.OfflineID] = len(s.movements) - 1
		}
	}
	for _, sale := range t.sales {
		s.sales[sale.ID] = sale
		s.salesByReceipt[sale.ReceiptNumber] = sale.ID
		if sale.OfflineID != "" {
			s.salesByOffline[sale.OfflineID] = sale.ID
		}
	}
	for _, e := range t.entries {
		s.ledgerSeq++
		e.Seq = s.ledgerSeq
		s.ledger[e.ResellerID] = append(s.ledger[e.ResellerID], e)
		s.entryNumbers[e.EntryNumber] = struct{}{}
	}
	return nil
}

func (t *memTx) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	return t.s.GetVariant(ctx, id)
}

func (t *memTx) GetPriceProfile(ctx context.Context, variantID string) (*domain.PriceProfile, error) {
	return t.s.GetPriceProfile(ctx, variantID)
}

func (t *memTx) GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	return t.s.GetPromotionByCode(ctx, code)
}

func (t *memTx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	if m, ok := t.members[id]; ok {
		return &m, nil
	}
	return t.s.GetMember(ctx, id)
}

func (t *memTx) FindMemberByOfflineID(ctx context.Context, offlineID string) (*domain.Member, error) {
	for id := range t.inserted {
		if m := t.members[id]; m.OfflineID == offlineID {
			return &m, nil
		}
	}
	return t.s.FindMemberByOfflineID(ctx, offlineID)
}

func (t *memTx) GetReseller(ctx context.Context, id string) (*domain.Reseller, error) {
	if r, ok := t.resellers[id]; ok {
		return &r, nil
	}
	return t.s.GetReseller(ctx, id)
}

func (t *memTx) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	if r, ok := t.inventory[id]; ok {
		return &r, nil
	}
	return t.s.GetInventory(ctx, id)
}

func (t *memTx) FindInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error) {
	r, err := t.s.FindInventory(ctx, variantID, branchID)
	if err != nil {
		return nil, err
	}
	return t.GetInventory(ctx, r.ID)
}

func (t *memTx) FindSaleByOfflineID(ctx context.Context, offlineID string) (*domain.Sale, error) {
	for _, sale := range t.sales {
		if sale.OfflineID == offlineID {
			copied := cloneSale(sale)
			return &copied, nil
		}
	}
	return t.s.FindSaleByOfflineID(ctx, offlineID)
}

func (t *memTx) FindStockMovementByOfflineID(ctx context.Context, offlineID string) (*domain.StockMovement, error) {
	for _, m := range t.movements {
		if m.OfflineID == offlineID {
			copied := m
			return &copied, nil
		}
	}
	return t.s.FindStockMovementByOfflineID(ctx, offlineID)
}

func (t *memTx) LastLedgerEntry(ctx context.Context, resellerID string) (*domain.LedgerEntry, error) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ResellerID == resellerID {
			e := t.entries[i]
			return &e, nil
		}
	}
	return t.s.LastLedgerEntry(ctx, resellerID)
}

// NextSequence is not staged: a counter value taken by a rolled back unit of
// work is skipped, never reused.
func (t *memTx) NextSequence(ctx context.Context, key string) (int64, error) {
	return t.s.NextSequence(ctx, key)
}

func (t *memTx) LockInventory(ctx context.Context, variantID string, branchID string) (*domain.InventoryRecord, error) {
	r, err := t.s.FindInventory(ctx, variantID, branchID)
	if err != nil {
		return nil, err
	}
	return t.LockInventoryByID(ctx, r.ID)
}

func (t *memTx) LockInventoryByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	if _, err := t.s.GetInventory(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, "inventory:"+id); err != nil {
		return nil, err
	}
	return t.GetInventory(ctx, id)
}

func (t *memTx) UpdateInventory(_ context.Context, record domain.InventoryRecord) error {
	if !t.holds("inventory:" + record.ID) {
		return fmt.Errorf("inventory record %s updated without lock", record.ID)
	}
	t.inventory[record.ID] = record
	return nil
}

func (t *memTx) InsertStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if movement.OfflineID != "" {
		_, err := t.FindStockMovementByOfflineID(ctx, movement.OfflineID)
		if err == nil {
			return fmt.Errorf("%w: stock movement %s", store.ErrDuplicateOfflineID, movement.OfflineID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	t.movements = append(t.movements, movement)
	return nil
}

func (t *memTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	t.s.mu.RLock()
	_, receiptTaken := t.s.salesByReceipt[sale.ReceiptNumber]
	t.s.mu.RUnlock()
	if receiptTaken {
		return fmt.Errorf("%w: %s", store.ErrDuplicateReceipt, sale.ReceiptNumber)
	}
	if sale.OfflineID != "" {
		_, err := t.FindSaleByOfflineID(ctx, sale.OfflineID)
		if err == nil {
			return fmt.Errorf("%w: sale %s", store.ErrDuplicateOfflineID, sale.OfflineID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	t.sales = append(t.sales, cloneSale(sale))
	return nil
}

func (t *memTx) InsertPayments(_ context.Context, saleID string, payments []domain.Payment) error {
	for i := range t.sales {
		if t.sales[i].ID == saleID {
			t.sales[i].Payments = append(t.sales[i].Payments, payments...)
			return nil
		}
	}
	return fmt.Errorf("%w: sale %s in this unit of work", store.ErrNotFound, saleID)
}

func (t *memTx) LockReseller(ctx context.Context, id string) (*domain.Reseller, error) {
	if _, err := t.s.GetReseller(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, "reseller:"+id); err != nil {
		return nil, err
	}
	return t.GetReseller(ctx, id)
}

func (t *memTx) UpdateResellerBalance(ctx context.Context, id string, balance decimal.Decimal, totalPurchases decimal.Decimal, at time.Time) error {
	if !t.holds("reseller:" + id) {
		return fmt.Errorf("reseller %s updated without lock", id)
	}
	r, err := t.GetReseller(ctx, id)
	if err != nil {
		return err
	}
	r.CurrentBalance = balance
	r.TotalPurchases = totalPurchases
	r.UpdatedAt = at
	t.resellers[id] = *r
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	if !t.holds("reseller:" + entry.ResellerID) {
		return fmt.Errorf("ledger entry for reseller %s appended without lock", entry.ResellerID)
	}
	t.entries = append(t.entries, entry)
	return nil
}

func (t *memTx) InsertMember(ctx context.Context, member domain.Member) error {
	if member.OfflineID != "" {
		_, err := t.FindMemberByOfflineID(ctx, member.OfflineID)
		if err == nil {
			return fmt.Errorf("%w: member %s", store.ErrDuplicateOfflineID, member.OfflineID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	t.members[member.ID] = member
	t.inserted[member.ID] = true
	return nil
}

func (t *memTx) LockMember(ctx context.Context, id string) (*domain.Member, error) {
	if _, err := t.GetMember(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, "member:"+id); err != nil {
		return nil, err
	}
	return t.GetMember(ctx, id)
}

func (t *memTx) UpdateMember(_ context.Context, member domain.Member) error {
	if !t.holds("member:"+member.ID) && !t.inserted[member.ID] {
		return fmt.Errorf("member %s updated without lock", member.ID)
	}
	t.members[member.ID] = member
	return nil
}
