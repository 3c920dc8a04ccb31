package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service reads lottery configuration and payout tables. Settlement snapshots
// multiplier values at sale/evaluation time, so these reads never rewrite
// historical payouts.
type Service interface {
	GetLottery(ctx context.Context, id snowflake.ID) (*Lottery, error)
	GetMultiplier(ctx context.Context, id snowflake.ID) (*Multiplier, error)
	ListActiveMultipliers(ctx context.Context, lotteryID snowflake.ID, kind MultiplierKind) ([]*Multiplier, error)
}
