package inventory

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newLedger(onHand, reserved int) (*Ledger, *memory.Store) {
	s := memory.New()
	s.PutInventory(domain.InventoryRecord{ID: "inv-1", VariantID: "var-1", BranchID: "branch-main", QuantityOnHand: onHand, QuantityReserved: reserved})
	return New(s, func() time.Time { return fixedNow }), s
}

func inTx(t *testing.T, s *memory.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	return s.WithinTx(context.Background(), fn)
}

func TestReserveUntilAvailableRunsOut(t *testing.T) {
	l, s := newLedger(10, 3)

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "inv-1", 5)
		return err
	}))
	rec, err := s.GetInventory(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.QuantityOnHand)
	assert.Equal(t, 8, rec.QuantityReserved)

	err = inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "inv-1", 5)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 2, l.GetAvailable(context.Background(), s, "var-1", "branch-main"))
}

func TestReleaseMoreThanReservedFails(t *testing.T) {
	l, s := newLedger(10, 2)
	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Release(ctx, tx, "inv-1", 3)
		return err
	})
	require.ErrorIs(t, err, store.ErrInvalidRelease)

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		rec, err := l.Release(ctx, tx, "inv-1", 2)
		if err == nil {
			assert.Equal(t, 0, rec.QuantityReserved)
		}
		return err
	}))
}

func TestDeductConsumesOwnReservation(t *testing.T) {
	l, s := newLedger(10, 0)
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.Reserve(ctx, tx, "inv-1", 4); err != nil {
			return err
		}
		rec, err := l.Deduct(ctx, tx, "inv-1", 4, 4, AdjustOptions{ReferenceType: "SALE", ReferenceID: "sale-1"})
		if err != nil {
			return err
		}
		assert.Equal(t, 6, rec.QuantityOnHand)
		assert.Equal(t, 0, rec.QuantityReserved)
		return nil
	}))
}

func TestDeductLeavesOtherReservationsAlone(t *testing.T) {
	l, s := newLedger(10, 8)
	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Deduct(ctx, tx, "inv-1", 3, 0, AdjustOptions{})
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	err = inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Deduct(ctx, tx, "inv-1", 9, 9, AdjustOptions{})
		return err
	})
	require.ErrorIs(t, err, store.ErrInvalidRelease)

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Deduct(ctx, tx, "inv-1", 2, 0, AdjustOptions{})
		return err
	}))
	rec, err := s.GetInventory(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.QuantityOnHand)
	assert.Equal(t, 8, rec.QuantityReserved)
}

func TestDeductBeyondOwnReservationNeedsFreeStock(t *testing.T) {
	l, s := newLedger(10, 0)
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.Reserve(ctx, tx, "inv-1", 3); err != nil {
			return err
		}
		rec, err := l.Deduct(ctx, tx, "inv-1", 5, 3, AdjustOptions{})
		if err != nil {
			return err
		}
		assert.Equal(t, 5, rec.QuantityOnHand)
		assert.Equal(t, 0, rec.QuantityReserved)
		return nil
	}))
}

func TestAdjustRejectsNegativeResultAndStampsRestock(t *testing.T) {
	l, _ := newLedger(5, 0)

	_, _, err := l.Adjust(context.Background(), "inv-1", -6, AdjustOptions{Reason: "count"})
	require.ErrorIs(t, err, store.ErrNegativeResult)

	rec, movement, err := l.Adjust(context.Background(), "inv-1", 7, AdjustOptions{Reason: "restock", CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 12, rec.QuantityOnHand)
	require.NotNil(t, rec.LastRestockedAt)
	assert.True(t, rec.LastRestockedAt.Equal(fixedNow))
	assert.Equal(t, domain.MovementAdjustment, movement.Type)
	assert.Equal(t, 7, movement.Quantity)
}

func TestAdjustOfflineIsIdempotent(t *testing.T) {
	l, s := newLedger(5, 0)
	ctx := context.Background()
	opts := AdjustOptions{OfflineID: "off-adj-1", Reason: "damaged"}

	first, err := l.AdjustOffline(ctx, "var-1", "branch-main", -2, opts)
	require.NoError(t, err)
	second, err := l.AdjustOffline(ctx, "var-1", "branch-main", -2, opts)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.MovementOfflineAdjustment, first.Type)

	rec, err := s.GetInventory(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.QuantityOnHand)
}

func TestAdjustOfflineUnknownRecord(t *testing.T) {
	l, _ := newLedger(5, 0)
	_, err := l.AdjustOffline(context.Background(), "var-missing", "branch-main", 1, AdjustOptions{OfflineID: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetAvailableMissingRecordIsZero(t *testing.T) {
	l, s := newLedger(5, 0)
	assert.Equal(t, 0, l.GetAvailable(context.Background(), s, "var-missing", "branch-main"))
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		r := domain.InventoryRecord{QuantityOnHand: rng.Intn(20)}
		for step := 0; step < 50; step++ {
			qty := rng.Intn(8) + 1
			switch rng.Intn(4) {
			case 0:
				_ = reserve(&r, qty)
			case 1:
				_ = release(&r, qty)
			case 2:
				_ = deduct(&r, qty)
			case 3:
				delta := qty
				if rng.Intn(2) == 0 {
					delta = -qty
				}
				_ = adjust(&r, delta, fixedNow)
			}
			require.GreaterOrEqual(t, r.QuantityOnHand, 0)
			require.GreaterOrEqual(t, r.QuantityReserved, 0)
			require.LessOrEqual(t, r.QuantityReserved, r.QuantityOnHand)
		}
	}
}
