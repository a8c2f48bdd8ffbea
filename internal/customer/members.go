// Package customer creates and updates loyalty members, including those
// registered on offline terminals.
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
	"kasircabang/backend/internal/validation"
	"kasircabang/backend/internal/xid"
)

const defaultTier = "REGULAR"

type Members struct {
	repo store.Repository
	now  func() time.Time
}

func NewMembers(repo store.Repository, now func() time.Time) *Members {
	if now == nil {
		now = time.Now
	}
	return &Members{repo: repo, now: now}
}

// Create registers a member. With an offlineID the call is idempotent: a
// replay returns the member created by the first call.
func (m *Members) Create(ctx context.Context, req domain.MemberCreateRequest, offlineID string) (*domain.Member, error) {
	if offlineID != "" {
		existing, err := m.repo.FindMemberByOfflineID(ctx, offlineID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var member *domain.Member
	err := m.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		member, err = m.CreateTx(ctx, tx, req, offlineID)
		return err
	})
	if errors.Is(err, store.ErrDuplicateOfflineID) && offlineID != "" {
		return m.repo.FindMemberByOfflineID(ctx, offlineID)
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (m *Members) CreateTx(ctx context.Context, tx store.Tx, req domain.MemberCreateRequest, offlineID string) (*domain.Member, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	discount := decimal.Zero
	if req.DiscountPercent != nil {
		discount = *req.DiscountPercent
	}
	if err := checkDiscount(discount); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	prefix := "MBR-" + now.Format("200601")
	seq, err := tx.NextSequence(ctx, prefix)
	if err != nil {
		return nil, err
	}
	tier := strings.ToUpper(strings.TrimSpace(req.Tier))
	if tier == "" {
		tier = defaultTier
	}

	member := domain.Member{
		ID:              xid.New("mbr"),
		Code:            fmt.Sprintf("%s-%05d", prefix, seq),
		Name:            req.Name,
		Phone:           strings.TrimSpace(req.Phone),
		Email:           strings.TrimSpace(req.Email),
		Tier:            tier,
		DiscountPercent: discount,
		Active:          true,
		OfflineID:       offlineID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertMember(ctx, member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (m *Members) Update(ctx context.Context, id string, req domain.MemberUpdateRequest) (*domain.Member, error) {
	var member *domain.Member
	err := m.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		member, err = m.UpdateTx(ctx, tx, id, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// UpdateTx applies the non-nil fields of req to the member.
func (m *Members) UpdateTx(ctx context.Context, tx store.Tx, id string, req domain.MemberUpdateRequest) (*domain.Member, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: member id is required", store.ErrValidation)
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	member, err := tx.LockMember(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		member.Name = name
	}
	if req.Phone != nil {
		member.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		member.Email = strings.TrimSpace(*req.Email)
	}
	if req.Tier != nil {
		member.Tier = strings.ToUpper(strings.TrimSpace(*req.Tier))
	}
	if req.DiscountPercent != nil {
		if err := checkDiscount(*req.DiscountPercent); err != nil {
			return nil, err
		}
		member.DiscountPercent = *req.DiscountPercent
	}
	if req.Active != nil {
		member.Active = *req.Active
	}
	member.UpdatedAt = m.now().UTC()

	if err := tx.UpdateMember(ctx, *member); err != nil {
		return nil, err
	}
	return member, nil
}

func checkDiscount(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: discountPercent must be between 0 and 100", store.ErrValidation)
	}
	return nil
}
