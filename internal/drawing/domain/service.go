package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// EvaluateInput settles one drawing. BonusMultiplierID, when present, must
// reference an active bonus multiplier of the drawing's lottery.
type EvaluateInput struct {
	DrawingID         snowflake.ID
	WinningNumber     string
	BonusMultiplierID *snowflake.ID
	EvaluatedBy       string
}

// Service owns the drawing state machine and the settlement transaction.
// Ledger postings for sales and commission happen at sale time, not here.
type Service interface {
	GetDrawing(ctx context.Context, id snowflake.ID) (*Drawing, error)
	OpenDrawing(ctx context.Context, id snowflake.ID, actor string) (*Drawing, error)
	CloseDrawing(ctx context.Context, id snowflake.ID, actor string) (*Drawing, error)
	ForceReopen(ctx context.Context, id snowflake.ID, actor string) (*Drawing, error)
	Evaluate(ctx context.Context, in EvaluateInput) (*Drawing, error)
	RevertEvaluation(ctx context.Context, id snowflake.ID, actor string) (*Drawing, error)
}

// ExclusionSource supplies the set of ticket ids excluded from one drawing's
// settlement. Settlement computes this once, up front, and applies it to
// every query in the evaluation transaction.
type ExclusionSource interface {
	ExcludedTicketIDs(ctx context.Context, drawingID snowflake.ID) ([]snowflake.ID, error)
}
