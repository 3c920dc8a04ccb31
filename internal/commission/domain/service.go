package domain

import (
	"context"
)

// PolicyChain identifies the owners a bet's commission can resolve against,
// in resolution order. Outlet and banca are optional fallbacks.
type PolicyChain struct {
	UserID   *int64
	OutletID *int64
	BancaID  *int64
}

// Service resolves commission for a bet at sale time. Callers snapshot the
// result on the bet; it is never recomputed for historical bets.
type Service interface {
	// ResolveForBet loads the first active policy along the chain and
	// applies it to the bet context.
	ResolveForBet(ctx context.Context, chain PolicyChain, bet Context) (Result, error)

	// SetPolicy stores (or replaces) the active policy document for one
	// owner, validating it first.
	SetPolicy(ctx context.Context, ownerType PolicyOwnerType, ownerID int64, doc []byte, actor string) (*CommissionPolicy, error)

	// GetPolicy returns the active parsed policy for one owner, or
	// ErrPolicyNotFound.
	GetPolicy(ctx context.Context, ownerType PolicyOwnerType, ownerID int64) (*Policy, error)
}
