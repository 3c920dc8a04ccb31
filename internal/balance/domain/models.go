package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/tiemposla/bancaledger/internal/ledger/domain"
)

// Summary is the derived financial position of one owner over a period.
// Remaining = sales - payouts - commission - collections + payments.
// Positive means the owner owes the operator (CXC), negative the reverse (CXP).
type Summary struct {
	OwnerType   ledgerdomain.OwnerType `json:"owner_type"`
	OwnerID     int64                  `json:"owner_id"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Sales       decimal.Decimal        `json:"sales"`
	Payouts     decimal.Decimal        `json:"payouts"`
	Commission  decimal.Decimal        `json:"commission"`
	Collections decimal.Decimal        `json:"collections"`
	Payments    decimal.Decimal        `json:"payments"`
	Remaining   decimal.Decimal        `json:"remaining"`
}

// MonthToDate folds the previous month's closing balance into the current
// month's period balance. The carry is added exactly once.
type MonthToDate struct {
	Summary
	PreviousMonthClosing decimal.Decimal `json:"previous_month_closing"`
	MonthToDateBalance   decimal.Decimal `json:"month_to_date_balance"`
}

// Service derives period and month-to-date positions per outlet or seller.
// Dates are pre-resolved business-date strings (YYYY-MM-DD); this component
// does no timezone math.
type Service interface {
	PeriodBalance(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to string) (*Summary, error)
	MonthToDateBalance(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, today string) (*MonthToDate, error)
	MonthToDateBalanceBatch(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerIDs []int64, today string) ([]*MonthToDate, error)
}

// Invalidator drops memoized closing balances after a ledger mutation.
// Mutating services call it in the same code path that commits the change.
type Invalidator interface {
	InvalidateFrom(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, businessDate string)
}

// Recomputer refreshes derived balances after a drawing settles. It is a
// best-effort downstream step: failures are logged, never propagated into
// the settlement transaction.
type Recomputer interface {
	RecomputeForDrawing(ctx context.Context, drawingID snowflake.ID, businessDate string) error
}

var (
	ErrInvalidOwner     = errors.New("invalid_owner")
	ErrInvalidOwnerType = errors.New("invalid_owner_type")
	ErrInvalidDateRange = errors.New("invalid_date_range")
)
