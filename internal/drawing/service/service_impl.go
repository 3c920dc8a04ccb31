package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/tiemposla/bancaledger/internal/audit/domain"
	balancedomain "github.com/tiemposla/bancaledger/internal/balance/domain"
	"github.com/tiemposla/bancaledger/internal/clock"
	drawingdomain "github.com/tiemposla/bancaledger/internal/drawing/domain"
	lotterydomain "github.com/tiemposla/bancaledger/internal/lottery/domain"
	obsmetrics "github.com/tiemposla/bancaledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Lottery    lotterydomain.Service
	Exclusions drawingdomain.ExclusionSource
	AuditSvc   auditdomain.Service      `optional:"true"`
	Recomputer balancedomain.Recomputer `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	lottery    lotterydomain.Service
	exclusions drawingdomain.ExclusionSource
	auditSvc   auditdomain.Service
	recomputer balancedomain.Recomputer
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) drawingdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("drawing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		lottery:    p.Lottery,
		exclusions: p.Exclusions,
		auditSvc:   p.AuditSvc,
		recomputer: p.Recomputer,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetDrawing(ctx context.Context, id snowflake.ID) (*drawingdomain.Drawing, error) {
	var drawing drawingdomain.Drawing
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, lottery_id, scheduled_at, digit_count, status, winning_number,
		        bonus_multiplier_id, bonus_multiplier_value, bonus_outcome, has_winner,
		        business_date, created_at, updated_at
		 FROM drawings WHERE id = ?`, id,
	).Scan(&drawing).Error
	if err != nil {
		return nil, err
	}
	if drawing.ID == 0 {
		return nil, drawingdomain.ErrDrawingNotFound
	}
	return &drawing, nil
}

func (s *Service) OpenDrawing(ctx context.Context, id snowflake.ID, actor string) (*drawingdomain.Drawing, error) {
	return s.transition(ctx, id, actor, drawingdomain.DrawingStatusScheduled, drawingdomain.DrawingStatusOpen,
		drawingdomain.ErrDrawingNotScheduled, "drawing.opened")
}

func (s *Service) CloseDrawing(ctx context.Context, id snowflake.ID, actor string) (*drawingdomain.Drawing, error) {
	return s.transition(ctx, id, actor, drawingdomain.DrawingStatusEvaluated, drawingdomain.DrawingStatusClosed,
		drawingdomain.ErrDrawingNotEvaluated, "drawing.closed")
}

// ForceReopen is the escape hatch from closed back to open. Any previous
// evaluation outcome is cleared so the reopened drawing can be evaluated
// again from a clean slate.
func (s *Service) ForceReopen(ctx context.Context, id snowflake.ID, actor string) (*drawingdomain.Drawing, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, drawingdomain.ErrInvalidActor
	}
	if _, err := s.GetDrawing(ctx, id); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.clearEvaluationTx(ctx, tx, id); err != nil {
			return err
		}
		result := tx.WithContext(ctx).Exec(
			`UPDATE drawings
			 SET status = ?, winning_number = NULL, bonus_multiplier_id = NULL,
			     bonus_multiplier_value = NULL, bonus_outcome = NULL, has_winner = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			drawingdomain.DrawingStatusOpen, false, s.clock.Now(), id, drawingdomain.DrawingStatusClosed,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return drawingdomain.ErrDrawingNotClosed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "drawing.force_reopened", "drawing", id.String(), nil)
	return s.GetDrawing(ctx, id)
}

func (s *Service) Evaluate(ctx context.Context, in drawingdomain.EvaluateInput) (*drawingdomain.Drawing, error) {
	if strings.TrimSpace(in.EvaluatedBy) == "" {
		return nil, drawingdomain.ErrInvalidActor
	}

	drawing, err := s.GetDrawing(ctx, in.DrawingID)
	if err != nil {
		return nil, err
	}
	if drawing.Status != drawingdomain.DrawingStatusOpen {
		return nil, drawingdomain.ErrDrawingNotOpen
	}

	winning := strings.TrimSpace(in.WinningNumber)
	if len(winning) != drawing.DigitCount {
		return nil, drawingdomain.ErrWinningNumberLength
	}
	for _, r := range winning {
		if r < '0' || r > '9' {
			return nil, drawingdomain.ErrWinningNumberDigits
		}
	}

	bonusValue := decimal.Zero
	var bonusID *snowflake.ID
	var bonusOutcome *string
	if in.BonusMultiplierID != nil {
		multiplier, err := s.lottery.GetMultiplier(ctx, *in.BonusMultiplierID)
		if err != nil {
			return nil, drawingdomain.ErrInvalidBonusMultiplier
		}
		if !multiplier.Active ||
			multiplier.Kind != lotterydomain.MultiplierKindBonus ||
			multiplier.LotteryID != drawing.LotteryID ||
			(multiplier.DrawingID != nil && *multiplier.DrawingID != drawing.ID) {
			return nil, drawingdomain.ErrInvalidBonusMultiplier
		}
		bonusValue = multiplier.Value
		id := multiplier.ID
		bonusID = &id
		label := multiplier.Label
		if label == "" {
			label = "bonus x" + multiplier.Value.String()
		}
		bonusOutcome = &label
	}

	// Exclusions are resolved once, up front, and applied to every query in
	// the settlement transaction.
	excluded, err := s.exclusions.ExcludedTicketIDs(ctx, in.DrawingID)
	if err != nil {
		return nil, err
	}

	hasWinner := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticketPayouts := make(map[snowflake.ID]decimal.Decimal)

		straight, err := s.eligibleBetsTx(ctx, tx, in.DrawingID, drawingdomain.BetTypeStraight, winning, excluded)
		if err != nil {
			return err
		}
		for _, bet := range straight {
			payout := bet.Stake.Mul(bet.Multiplier)
			if err := tx.WithContext(ctx).Exec(
				`UPDATE bets SET winner = ?, payout = ? WHERE id = ?`,
				true, payout, bet.ID,
			).Error; err != nil {
				return err
			}
			ticketPayouts[bet.TicketID] = ticketPayouts[bet.TicketID].Add(payout)
		}

		if bonusValue.IsPositive() {
			bonus, err := s.eligibleBetsTx(ctx, tx, in.DrawingID, drawingdomain.BetTypeBonus, winning, excluded)
			if err != nil {
				return err
			}
			for _, bet := range bonus {
				payout := bet.Stake.Mul(bonusValue)
				if err := tx.WithContext(ctx).Exec(
					`UPDATE bets SET winner = ?, multiplier = ?, payout = ? WHERE id = ?`,
					true, bonusValue, payout, bet.ID,
				).Error; err != nil {
					return err
				}
				ticketPayouts[bet.TicketID] = ticketPayouts[bet.TicketID].Add(payout)
			}
		}

		if err := s.markEligibleTicketsEvaluatedTx(ctx, tx, in.DrawingID, excluded); err != nil {
			return err
		}
		for ticketID, payout := range ticketPayouts {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE tickets
				 SET winner = ?, total_payout = ?, total_paid = 0, remaining_amount = ?
				 WHERE id = ?`,
				true, payout, payout, ticketID,
			).Error; err != nil {
				return err
			}
		}
		hasWinner = len(ticketPayouts) > 0

		// The conditional status update is the mutual-exclusion gate: two
		// concurrent evaluations cannot both move open -> evaluated.
		result := tx.WithContext(ctx).Exec(
			`UPDATE drawings
			 SET status = ?, winning_number = ?, bonus_multiplier_id = ?,
			     bonus_multiplier_value = ?, bonus_outcome = ?, has_winner = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			drawingdomain.DrawingStatusEvaluated, winning, bonusID,
			nullableDecimal(bonusValue), bonusOutcome, hasWinner, s.clock.Now(),
			in.DrawingID, drawingdomain.DrawingStatusOpen,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return drawingdomain.ErrDrawingNotOpen
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordDrawingEvaluated(ctx, hasWinner)
	s.audit(ctx, in.EvaluatedBy, "drawing.evaluated", "drawing", in.DrawingID.String(), map[string]any{
		"winning_number": winning,
		"has_winner":     hasWinner,
		"bonus":          bonusValue.String(),
	})

	// Downstream balance refresh is best effort: settlement correctness
	// never depends on reporting availability.
	if s.recomputer != nil {
		drawingID := in.DrawingID
		businessDate := drawing.BusinessDate
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.recomputer.RecomputeForDrawing(rctx, drawingID, businessDate); err != nil {
				s.log.Warn("balance recompute after settlement failed",
					zap.String("drawing_id", drawingID.String()),
					zap.Error(err),
				)
			}
		}()
	}

	return s.GetDrawing(ctx, in.DrawingID)
}

func (s *Service) RevertEvaluation(ctx context.Context, id snowflake.ID, actor string) (*drawingdomain.Drawing, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, drawingdomain.ErrInvalidActor
	}
	if _, err := s.GetDrawing(ctx, id); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.clearEvaluationTx(ctx, tx, id); err != nil {
			return err
		}
		result := tx.WithContext(ctx).Exec(
			`UPDATE drawings
			 SET status = ?, winning_number = NULL, bonus_multiplier_id = NULL,
			     bonus_multiplier_value = NULL, bonus_outcome = NULL, has_winner = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			drawingdomain.DrawingStatusOpen, false, s.clock.Now(), id, drawingdomain.DrawingStatusEvaluated,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return drawingdomain.ErrDrawingNotEvaluated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "drawing.evaluation_reverted", "drawing", id.String(), nil)
	return s.GetDrawing(ctx, id)
}

// clearEvaluationTx returns every ticket and bet of the drawing to its
// pre-settlement shape.
func (s *Service) clearEvaluationTx(ctx context.Context, tx *gorm.DB, drawingID snowflake.ID) error {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE bets SET winner = ?, payout = 0
		 WHERE ticket_id IN (SELECT id FROM tickets WHERE drawing_id = ?)`,
		false, drawingID,
	).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE tickets
		 SET evaluated = ?, winner = ?, total_payout = 0, total_paid = 0, remaining_amount = 0
		 WHERE drawing_id = ?`,
		false, false, drawingID,
	).Error
}

type eligibleBet struct {
	ID         snowflake.ID
	TicketID   snowflake.ID
	Stake      decimal.Decimal
	Multiplier decimal.Decimal
}

func (s *Service) eligibleBetsTx(ctx context.Context, tx *gorm.DB, drawingID snowflake.ID, betType drawingdomain.BetType, number string, excluded []snowflake.ID) ([]eligibleBet, error) {
	query := `SELECT b.id, b.ticket_id, b.stake, b.multiplier
		 FROM bets b
		 JOIN tickets t ON t.id = b.ticket_id
		 JOIN sellers s ON s.id = t.seller_id
		 JOIN outlets o ON o.id = t.outlet_id
		 WHERE t.drawing_id = ? AND t.status = ? AND t.deleted_at IS NULL
		   AND s.active AND s.deleted_at IS NULL
		   AND o.active AND o.deleted_at IS NULL
		   AND b.type = ? AND b.number = ?`
	args := []any{drawingID, drawingdomain.TicketStatusActive, betType, number}
	if len(excluded) > 0 {
		query += ` AND t.id NOT IN ?`
		args = append(args, excluded)
	}

	var bets []eligibleBet
	err := tx.WithContext(ctx).Raw(query, args...).Scan(&bets).Error
	return bets, err
}

func (s *Service) markEligibleTicketsEvaluatedTx(ctx context.Context, tx *gorm.DB, drawingID snowflake.ID, excluded []snowflake.ID) error {
	query := `UPDATE tickets SET evaluated = ?
		 WHERE drawing_id = ? AND status = ? AND deleted_at IS NULL
		   AND seller_id IN (SELECT id FROM sellers WHERE active AND deleted_at IS NULL)
		   AND outlet_id IN (SELECT id FROM outlets WHERE active AND deleted_at IS NULL)`
	args := []any{true, drawingID, drawingdomain.TicketStatusActive}
	if len(excluded) > 0 {
		query += ` AND id NOT IN ?`
		args = append(args, excluded)
	}
	return tx.WithContext(ctx).Exec(query, args...).Error
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, actor string, from, to drawingdomain.DrawingStatus, stateErr error, action string) (*drawingdomain.Drawing, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, drawingdomain.ErrInvalidActor
	}
	if _, err := s.GetDrawing(ctx, id); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE drawings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, s.clock.Now(), id, from,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, stateErr
	}

	s.audit(ctx, actor, action, "drawing", id.String(), nil)
	return s.GetDrawing(ctx, id)
}

func (s *Service) audit(ctx context.Context, actorID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, actorID, action, targetType, targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func nullableDecimal(value decimal.Decimal) *decimal.Decimal {
	if value.IsZero() {
		return nil
	}
	return &value
}
