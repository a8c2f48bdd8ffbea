package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kasircabang/backend/internal/cache"
	"kasircabang/backend/internal/customer"
	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/inventory"
	"kasircabang/backend/internal/ledger"
	"kasircabang/backend/internal/offlinesync"
	"kasircabang/backend/internal/pricing"
	"kasircabang/backend/internal/sales"
	"kasircabang/backend/internal/store"
)

type actorContextKey struct{}

type approvalContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithManagerApproval marks ctx as carrying a verified manager PIN.
func WithManagerApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, approvalContextKey{}, true)
}

func hasManagerApproval(ctx context.Context) bool {
	approved, _ := ctx.Value(approvalContextKey{}).(bool)
	return approved
}

type Options struct {
	DefaultBranchID string
	Snapshots       cache.SnapshotCache
	SnapshotTTL     time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

type Service struct {
	repo            store.Repository
	pricing         *pricing.Resolver
	inventory       *inventory.Ledger
	ledger          *ledger.Ledger
	sales           *sales.Coordinator
	members         *customer.Members
	sync            *offlinesync.Gateway
	defaultBranchID string
	now             func() time.Time
	log             *slog.Logger
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "branch-main"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	resolver := pricing.New(opts.Now)
	stock := inventory.New(repo, opts.Now)
	accounts := ledger.New(repo, opts.Now, opts.Logger)
	coordinator := sales.New(repo, resolver, stock, accounts, opts.Now, opts.Logger)
	members := customer.NewMembers(repo, opts.Now)
	gateway := offlinesync.New(repo, coordinator, members, stock, offlinesync.Options{
		Snapshots:   opts.Snapshots,
		SnapshotTTL: opts.SnapshotTTL,
		Now:         opts.Now,
		Logger:      opts.Logger,
	})

	return &Service{
		repo:            repo,
		pricing:         resolver,
		inventory:       stock,
		ledger:          accounts,
		sales:           coordinator,
		members:         members,
		sync:            gateway,
		defaultBranchID: opts.DefaultBranchID,
		now:             opts.Now,
		log:             opts.Logger,
	}
}

func (s *Service) DefaultBranchID() string {
	return s.defaultBranchID
}

// resolveBranch picks the explicit branch, then the actor's branch, then the
// default. Cashiers bound to a branch may not act on another one.
func (s *Service) resolveBranch(ctx context.Context, branchID string) (string, error) {
	branchID = strings.TrimSpace(branchID)
	actor, ok := ActorFromContext(ctx)
	if branchID == "" {
		if ok && actor.BranchID != "" {
			return actor.BranchID, nil
		}
		return s.defaultBranchID, nil
	}
	if ok && actor.Role == domain.RoleCashier && actor.BranchID != "" && actor.BranchID != branchID {
		return "", fmt.Errorf("%w: cashier of %s cannot act on branch %s", store.ErrForbidden, actor.BranchID, branchID)
	}
	return branchID, nil
}

func operatorID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
}

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.Sale, error) {
	branchID, err := s.resolveBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	req.BranchID = branchID

	sale, err := s.sales.CreateSale(ctx, operatorID(ctx), req)
	if err != nil {
		return nil, err
	}
	s.sync.InvalidateSnapshot(ctx, sale.BranchID)
	s.logAudit(ctx, sale.BranchID, "sale_create", "sale", sale.ID, fmt.Sprintf("receipt=%s,total=%s,customer=%s", sale.ReceiptNumber, sale.Total, sale.Customer()))
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.sales.GetSale(ctx, id)
}

func (s *Service) GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	return s.sales.GetSaleByReceipt(ctx, receiptNumber)
}

func (s *Service) ListSales(ctx context.Context, branchID string, limit int, offset int) (domain.SaleListResponse, error) {
	branchID, err := s.resolveBranch(ctx, branchID)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return s.sales.ListSales(ctx, branchID, limit, offset)
}

func (s *Service) Available(ctx context.Context, variantID string, branchID string) (domain.AvailabilityResponse, error) {
	if strings.TrimSpace(variantID) == "" {
		return domain.AvailabilityResponse{}, fmt.Errorf("%w: variantId is required", store.ErrValidation)
	}
	branchID, err := s.resolveBranch(ctx, branchID)
	if err != nil {
		return domain.AvailabilityResponse{}, err
	}
	return domain.AvailabilityResponse{
		VariantID: variantID,
		BranchID:  branchID,
		Available: s.inventory.GetAvailable(ctx, s.repo, variantID, branchID),
	}, nil
}

func (s *Service) AdjustInventory(ctx context.Context, recordID string, req domain.InventoryAdjustRequest) (domain.InventoryAdjustResponse, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.InventoryAdjustResponse{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Quantity == 0 || req.Reason == "" {
		return domain.InventoryAdjustResponse{}, fmt.Errorf("%w: quantity must be non-zero and reason is required", store.ErrValidation)
	}

	record, movement, err := s.inventory.Adjust(ctx, recordID, req.Quantity, inventory.AdjustOptions{
		Reason:    req.Reason,
		CreatedBy: operatorID(ctx),
	})
	if err != nil {
		return domain.InventoryAdjustResponse{}, err
	}
	s.sync.InvalidateSnapshot(ctx, record.BranchID)
	s.logAudit(ctx, record.BranchID, "inventory_adjust", "inventory", record.ID, fmt.Sprintf("delta=%d,reason=%s", req.Quantity, req.Reason))
	return domain.InventoryAdjustResponse{Record: *record, Movement: *movement}, nil
}

func (s *Service) ResolvePrice(ctx context.Context, variantID string, customerType string, customerID string, promoCode string) (domain.ResolvedPrice, error) {
	if strings.TrimSpace(variantID) == "" {
		return domain.ResolvedPrice{}, fmt.Errorf("%w: variantId is required", store.ErrValidation)
	}
	cust, err := domain.ParseCustomer(customerType, customerID)
	if err != nil {
		return domain.ResolvedPrice{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return s.pricing.Resolve(ctx, s.repo, variantID, cust, promoCode)
}

func (s *Service) CreateMember(ctx context.Context, req domain.MemberCreateRequest) (*domain.Member, error) {
	member, err := s.members.Create(ctx, req, "")
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "member_create", "member", member.ID, fmt.Sprintf("code=%s", member.Code))
	return member, nil
}

func (s *Service) UpdateMember(ctx context.Context, id string, req domain.MemberUpdateRequest) (*domain.Member, error) {
	member, err := s.members.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "member_update", "member", member.ID, fmt.Sprintf("active=%t,tier=%s", member.Active, member.Tier))
	return member, nil
}

func (s *Service) SyncPush(ctx context.Context, req domain.SyncPushRequest) (domain.SyncPushResponse, error) {
	branchID, err := s.resolveBranch(ctx, req.BranchID)
	if err != nil {
		return domain.SyncPushResponse{}, err
	}
	req.BranchID = branchID
	return s.sync.Push(ctx, operatorID(ctx), req)
}

func (s *Service) SyncPull(ctx context.Context, req domain.SyncPullRequest) (*domain.SyncSnapshot, error) {
	branchID, err := s.resolveBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	req.BranchID = branchID
	return s.sync.Pull(ctx, operatorID(ctx), req)
}

func (s *Service) SyncStatus(ctx context.Context, branchID string, deviceID string) (*domain.SyncLogEntry, error) {
	branchID, err := s.resolveBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return s.sync.Status(ctx, branchID, deviceID)
}

func (s *Service) RecordCreditSale(ctx context.Context, req domain.CreditSaleRequest) (*domain.LedgerEntry, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	entry, err := s.ledger.RecordCreditSale(ctx, req, operatorID(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "ledger_credit_sale", "ledger_entry", entry.ID, fmt.Sprintf("reseller=%s,amount=%s", entry.ResellerID, entry.Debit))
	return entry, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.LedgerPaymentRequest) (*domain.LedgerEntry, error) {
	entry, err := s.ledger.RecordPayment(ctx, req, operatorID(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "ledger_payment", "ledger_entry", entry.ID, fmt.Sprintf("reseller=%s,amount=%s,method=%s", entry.ResellerID, entry.Credit, entry.PaymentMethod))
	return entry, nil
}

// RecordAdjustment needs an admin, or any operator holding a manager
// approval.
func (s *Service) RecordAdjustment(ctx context.Context, req domain.LedgerAdjustmentRequest) (*domain.LedgerEntry, error) {
	if !hasManagerApproval(ctx) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, fmt.Errorf("%w: ledger adjustment requires admin role or manager approval", store.ErrForbidden)
		}
	}
	entry, err := s.ledger.RecordAdjustment(ctx, req, operatorID(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "ledger_adjustment", "ledger_entry", entry.ID, fmt.Sprintf("reseller=%s,type=%s,reason=%s", entry.ResellerID, entry.Type, req.Reason))
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, resellerID string) (domain.BalanceResponse, error) {
	return s.ledger.Balance(ctx, resellerID)
}

func (s *Service) Statement(ctx context.Context, req domain.StatementRequest) (domain.Statement, error) {
	return s.ledger.Statement(ctx, req)
}

func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (domain.AgingReport, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.AgingReport{}, err
	}
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	return s.ledger.AgingReport(ctx, asOf)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	s.log.InfoContext(ctx, "audit",
		"branch_id", branchID,
		"actor", actor.Username,
		"actor_role", actor.Role,
		"action", action,
		"entity_type", entityType,
		"entity_id", entityID,
		"detail", detail,
		"manager_approved", hasManagerApproval(ctx),
	)
}
