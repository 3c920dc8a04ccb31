package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tiemposla/bancaledger/internal/audit/domain"
	"github.com/tiemposla/bancaledger/internal/cache"
	"github.com/tiemposla/bancaledger/internal/clock"
	commissiondomain "github.com/tiemposla/bancaledger/internal/commission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const policyCacheTTL = time.Minute

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service

	// policies is keyed by owner; a cached nil means "known absent" so
	// repeated resolution for policy-less owners skips the storage read.
	policies cache.Cache[string, *commissiondomain.Policy]
}

func NewService(p Params) commissiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("commission.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		policies: cache.NewTTLCache[string, *commissiondomain.Policy](),
	}
}

func (s *Service) ResolveForBet(ctx context.Context, chain commissiondomain.PolicyChain, bet commissiondomain.Context) (commissiondomain.Result, error) {
	policy, err := s.firstPolicy(ctx, chain)
	if err != nil {
		return commissiondomain.Result{}, err
	}
	return commissiondomain.Resolve(policy, nil, bet), nil
}

func (s *Service) SetPolicy(ctx context.Context, ownerType commissiondomain.PolicyOwnerType, ownerID int64, doc []byte, actor string) (*commissiondomain.CommissionPolicy, error) {
	if !commissiondomain.ValidPolicyOwnerType(ownerType) {
		return nil, commissiondomain.ErrInvalidOwnerType
	}
	if strings.TrimSpace(actor) == "" {
		return nil, commissiondomain.ErrMalformedPolicy
	}
	if _, err := commissiondomain.ParsePolicy(doc); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stored := commissiondomain.CommissionPolicy{
		ID:        s.genID.Generate(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Document:  doc,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE commission_policies SET active = ?, updated_at = ?
			 WHERE owner_type = ? AND owner_id = ? AND active`,
			false, now, ownerType, ownerID,
		).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Create(&stored).Error
	})
	if err != nil {
		return nil, err
	}

	// Invalidation rides the same mutation that changed the document.
	s.policies.Delete(policyKey(ownerType, ownerID))

	s.audit(ctx, actor, "commission.policy_set", string(ownerType), fmt.Sprintf("%d", ownerID))
	return &stored, nil
}

func (s *Service) GetPolicy(ctx context.Context, ownerType commissiondomain.PolicyOwnerType, ownerID int64) (*commissiondomain.Policy, error) {
	if !commissiondomain.ValidPolicyOwnerType(ownerType) {
		return nil, commissiondomain.ErrInvalidOwnerType
	}
	policy, err := s.loadPolicy(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, commissiondomain.ErrPolicyNotFound
	}
	return policy, nil
}

// firstPolicy walks user -> outlet -> banca and returns the first active
// policy document found, or nil when no owner in the chain has one.
func (s *Service) firstPolicy(ctx context.Context, chain commissiondomain.PolicyChain) (*commissiondomain.Policy, error) {
	lookups := []struct {
		ownerType commissiondomain.PolicyOwnerType
		ownerID   *int64
	}{
		{commissiondomain.PolicyOwnerUser, chain.UserID},
		{commissiondomain.PolicyOwnerOutlet, chain.OutletID},
		{commissiondomain.PolicyOwnerBanca, chain.BancaID},
	}
	for _, lookup := range lookups {
		if lookup.ownerID == nil {
			continue
		}
		policy, err := s.loadPolicy(ctx, lookup.ownerType, *lookup.ownerID)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			return policy, nil
		}
	}
	return nil, nil
}

func (s *Service) loadPolicy(ctx context.Context, ownerType commissiondomain.PolicyOwnerType, ownerID int64) (*commissiondomain.Policy, error) {
	key := policyKey(ownerType, ownerID)
	if cached, ok := s.policies.Get(key); ok {
		return cached, nil
	}

	var stored commissiondomain.CommissionPolicy
	err := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ? AND active", ownerType, ownerID).
		Order("created_at DESC").
		Limit(1).
		Find(&stored).Error
	if err != nil {
		return nil, err
	}
	if stored.ID == 0 {
		s.policies.Set(key, nil, policyCacheTTL)
		return nil, nil
	}

	policy, err := commissiondomain.ParsePolicy(stored.Document)
	if err != nil {
		s.log.Warn("stored commission policy failed to parse",
			zap.String("owner_type", string(ownerType)),
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
		return nil, err
	}

	s.policies.Set(key, policy, policyCacheTTL)
	return policy, nil
}

func (s *Service) audit(ctx context.Context, actorID, action, targetType, targetID string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, actorID, action, targetType, targetID, nil); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func policyKey(ownerType commissiondomain.PolicyOwnerType, ownerID int64) string {
	return fmt.Sprintf("%s:%d", ownerType, ownerID)
}
