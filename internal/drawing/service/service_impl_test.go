package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiemposla/bancaledger/internal/clock"
	drawingdomain "github.com/tiemposla/bancaledger/internal/drawing/domain"
	"github.com/tiemposla/bancaledger/internal/drawing/exclusion"
	lotterydomain "github.com/tiemposla/bancaledger/internal/lottery/domain"
	lotteryservice "github.com/tiemposla/bancaledger/internal/lottery/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type settlementFixture struct {
	svc     drawingdomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	lottery lotterydomain.Lottery
	drawing drawingdomain.Drawing
	outlet  drawingdomain.Outlet
	seller  drawingdomain.Seller
}

func setupSettlement(t *testing.T) *settlementFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&lotterydomain.Lottery{},
		&lotterydomain.Multiplier{},
		&drawingdomain.Outlet{},
		&drawingdomain.Seller{},
		&drawingdomain.Drawing{},
		&drawingdomain.Ticket{},
		&drawingdomain.Bet{},
		&drawingdomain.ExclusionListing{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	lottery := lotterydomain.Lottery{ID: node.Generate(), Name: "Tiempos", DigitCount: 2, Active: true}
	require.NoError(t, conn.Create(&lottery).Error)

	outlet := drawingdomain.Outlet{ID: 1, Name: "Centro", Active: true}
	require.NoError(t, conn.Create(&outlet).Error)
	seller := drawingdomain.Seller{ID: 1, OutletID: outlet.ID, Name: "Ana", Active: true}
	require.NoError(t, conn.Create(&seller).Error)

	drawing := drawingdomain.Drawing{
		ID:           node.Generate(),
		LotteryID:    lottery.ID,
		ScheduledAt:  fake.Now(),
		DigitCount:   lottery.DigitCount,
		Status:       drawingdomain.DrawingStatusOpen,
		BusinessDate: "2026-03-10",
	}
	require.NoError(t, conn.Create(&drawing).Error)

	lotterySvc := lotteryservice.NewService(lotteryservice.Params{DB: conn, Log: log})
	svc := NewService(Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Lottery:    lotterySvc,
		Exclusions: exclusion.NewSource(conn),
	})

	return &settlementFixture{
		svc:     svc,
		db:      conn,
		node:    node,
		clock:   fake,
		lottery: lottery,
		drawing: drawing,
		outlet:  outlet,
		seller:  seller,
	}
}

func (f *settlementFixture) addTicket(t *testing.T) drawingdomain.Ticket {
	t.Helper()
	ticket := drawingdomain.Ticket{
		ID:           f.node.Generate(),
		DrawingID:    f.drawing.ID,
		OutletID:     f.outlet.ID,
		SellerID:     f.seller.ID,
		Status:       drawingdomain.TicketStatusActive,
		Total:        decimal.Zero,
		BusinessDate: "2026-03-10",
	}
	require.NoError(t, f.db.Create(&ticket).Error)
	return ticket
}

func (f *settlementFixture) addBet(t *testing.T, ticketID snowflake.ID, betType drawingdomain.BetType, number, stake, multiplier string) drawingdomain.Bet {
	t.Helper()
	bet := drawingdomain.Bet{
		ID:         f.node.Generate(),
		TicketID:   ticketID,
		Type:       betType,
		Number:     number,
		Stake:      decimal.RequireFromString(stake),
		Multiplier: decimal.RequireFromString(multiplier),
	}
	require.NoError(t, f.db.Create(&bet).Error)
	return bet
}

func (f *settlementFixture) addBonusMultiplier(t *testing.T, value string) lotterydomain.Multiplier {
	t.Helper()
	m := lotterydomain.Multiplier{
		ID:        f.node.Generate(),
		LotteryID: f.lottery.ID,
		Kind:      lotterydomain.MultiplierKindBonus,
		Label:     "reventado",
		Value:     decimal.RequireFromString(value),
		Active:    true,
	}
	require.NoError(t, f.db.Create(&m).Error)
	return m
}

func (f *settlementFixture) reloadBet(t *testing.T, id snowflake.ID) drawingdomain.Bet {
	t.Helper()
	var bet drawingdomain.Bet
	require.NoError(t, f.db.First(&bet, "id = ?", id).Error)
	return bet
}

func (f *settlementFixture) reloadTicket(t *testing.T, id snowflake.ID) drawingdomain.Ticket {
	t.Helper()
	var ticket drawingdomain.Ticket
	require.NoError(t, f.db.First(&ticket, "id = ?", id).Error)
	return ticket
}

func TestEvaluateStraightWinnersAndLosers(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	ticket := f.addTicket(t)
	winning := f.addBet(t, ticket.ID, drawingdomain.BetTypeStraight, "47", "10", "70")
	losing := f.addBet(t, ticket.ID, drawingdomain.BetTypeStraight, "48", "10", "70")

	drawing, err := f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID:     f.drawing.ID,
		WinningNumber: "47",
		EvaluatedBy:   "admin",
	})
	require.NoError(t, err)

	assert.Equal(t, drawingdomain.DrawingStatusEvaluated, drawing.Status)
	require.NotNil(t, drawing.WinningNumber)
	assert.Equal(t, "47", *drawing.WinningNumber)
	assert.True(t, drawing.HasWinner)

	won := f.reloadBet(t, winning.ID)
	assert.True(t, won.Winner)
	assert.True(t, won.Payout.Equal(decimal.RequireFromString("700")), "payout = %s", won.Payout)

	lost := f.reloadBet(t, losing.ID)
	assert.False(t, lost.Winner)
	assert.True(t, lost.Payout.IsZero())

	settled := f.reloadTicket(t, ticket.ID)
	assert.True(t, settled.Evaluated)
	assert.True(t, settled.Winner)
	assert.True(t, settled.TotalPayout.Equal(decimal.RequireFromString("700")))
	assert.True(t, settled.TotalPaid.IsZero())
	assert.True(t, settled.RemainingAmount.Equal(decimal.RequireFromString("700")))
}

func TestEvaluateBonusOverwritesSnapshotMultiplier(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	ticket := f.addTicket(t)
	bonusBet := f.addBet(t, ticket.ID, drawingdomain.BetTypeBonus, "47", "5", "70")
	bonus := f.addBonusMultiplier(t, "2")

	_, err := f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID:         f.drawing.ID,
		WinningNumber:     "47",
		BonusMultiplierID: &bonus.ID,
		EvaluatedBy:       "admin",
	})
	require.NoError(t, err)

	won := f.reloadBet(t, bonusBet.ID)
	assert.True(t, won.Winner)
	assert.True(t, won.Multiplier.Equal(decimal.RequireFromString("2")), "multiplier = %s", won.Multiplier)
	assert.True(t, won.Payout.Equal(decimal.RequireFromString("10")), "payout = %s", won.Payout)
}

func TestEvaluateRejectsWrongDigitLength(t *testing.T) {
	f := setupSettlement(t)

	_, err := f.svc.Evaluate(context.Background(), drawingdomain.EvaluateInput{
		DrawingID:     f.drawing.ID,
		WinningNumber: "475",
		EvaluatedBy:   "admin",
	})
	assert.ErrorIs(t, err, drawingdomain.ErrWinningNumberLength)

	_, err = f.svc.Evaluate(context.Background(), drawingdomain.EvaluateInput{
		DrawingID:     f.drawing.ID,
		WinningNumber: "4x",
		EvaluatedBy:   "admin",
	})
	assert.ErrorIs(t, err, drawingdomain.ErrWinningNumberDigits)
}

func TestEvaluateRejectsForeignBonusMultiplier(t *testing.T) {
	f := setupSettlement(t)

	other := lotterydomain.Lottery{ID: f.node.Generate(), Name: "Otra", DigitCount: 2, Active: true}
	require.NoError(t, f.db.Create(&other).Error)
	foreign := lotterydomain.Multiplier{
		ID:        f.node.Generate(),
		LotteryID: other.ID,
		Kind:      lotterydomain.MultiplierKindBonus,
		Value:     decimal.RequireFromString("2"),
		Active:    true,
	}
	require.NoError(t, f.db.Create(&foreign).Error)

	_, err := f.svc.Evaluate(context.Background(), drawingdomain.EvaluateInput{
		DrawingID:         f.drawing.ID,
		WinningNumber:     "47",
		BonusMultiplierID: &foreign.ID,
		EvaluatedBy:       "admin",
	})
	assert.ErrorIs(t, err, drawingdomain.ErrInvalidBonusMultiplier)
}

func TestEvaluateRequiresOpenDrawing(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	_, err := f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID:     f.drawing.ID,
		WinningNumber: "47",
		EvaluatedBy:   "admin",
	})
	require.NoError(t, err)

	_, err = f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID:     f.drawing.ID,
		WinningNumber: "48",
		EvaluatedBy:   "admin",
	})
	assert.ErrorIs(t, err, drawingdomain.ErrDrawingNotOpen)
}

func TestRevertAndReevaluateYieldsNewWinnerSet(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	ticket := f.addTicket(t)
	first := f.addBet(t, ticket.ID, drawingdomain.BetTypeStraight, "47", "10", "70")
	second := f.addBet(t, ticket.ID, drawingdomain.BetTypeStraight, "48", "10", "70")

	_, err := f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID: f.drawing.ID, WinningNumber: "47", EvaluatedBy: "admin",
	})
	require.NoError(t, err)

	reverted, err := f.svc.RevertEvaluation(ctx, f.drawing.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, drawingdomain.DrawingStatusOpen, reverted.Status)
	assert.Nil(t, reverted.WinningNumber)
	assert.False(t, reverted.HasWinner)

	cleared := f.reloadTicket(t, ticket.ID)
	assert.False(t, cleared.Evaluated)
	assert.False(t, cleared.Winner)
	assert.True(t, cleared.TotalPayout.IsZero())
	assert.True(t, cleared.RemainingAmount.IsZero())
	assert.False(t, f.reloadBet(t, first.ID).Winner)

	_, err = f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID: f.drawing.ID, WinningNumber: "48", EvaluatedBy: "admin",
	})
	require.NoError(t, err)

	assert.False(t, f.reloadBet(t, first.ID).Winner)
	assert.True(t, f.reloadBet(t, second.ID).Winner)
}

func TestRevertRequiresEvaluatedDrawing(t *testing.T) {
	f := setupSettlement(t)

	_, err := f.svc.RevertEvaluation(context.Background(), f.drawing.ID, "admin")
	assert.ErrorIs(t, err, drawingdomain.ErrDrawingNotEvaluated)
}

func TestEvaluateSkipsExcludedTickets(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	excludedTicket := f.addTicket(t)
	f.addBet(t, excludedTicket.ID, drawingdomain.BetTypeStraight, "47", "10", "70")
	normalTicket := f.addTicket(t)
	winner := f.addBet(t, normalTicket.ID, drawingdomain.BetTypeStraight, "47", "10", "70")

	listing := drawingdomain.ExclusionListing{
		ID:         f.node.Generate(),
		DrawingID:  f.drawing.ID,
		TargetType: drawingdomain.ExclusionTargetTicket,
		TargetID:   int64(excludedTicket.ID),
		Active:     true,
	}
	require.NoError(t, f.db.Create(&listing).Error)

	_, err := f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID: f.drawing.ID, WinningNumber: "47", EvaluatedBy: "admin",
	})
	require.NoError(t, err)

	skipped := f.reloadTicket(t, excludedTicket.ID)
	assert.False(t, skipped.Evaluated)
	assert.False(t, skipped.Winner)
	assert.True(t, skipped.TotalPayout.IsZero())

	settled := f.reloadTicket(t, normalTicket.ID)
	assert.True(t, settled.Winner)
	assert.True(t, f.reloadBet(t, winner.ID).Winner)
}

func TestDrawingLifecycleTransitions(t *testing.T) {
	f := setupSettlement(t)
	ctx := context.Background()

	scheduled := drawingdomain.Drawing{
		ID:           f.node.Generate(),
		LotteryID:    f.lottery.ID,
		ScheduledAt:  f.clock.Now(),
		DigitCount:   2,
		Status:       drawingdomain.DrawingStatusScheduled,
		BusinessDate: "2026-03-11",
	}
	require.NoError(t, f.db.Create(&scheduled).Error)

	opened, err := f.svc.OpenDrawing(ctx, scheduled.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, drawingdomain.DrawingStatusOpen, opened.Status)

	// Close is only legal after evaluation.
	_, err = f.svc.CloseDrawing(ctx, scheduled.ID, "admin")
	assert.ErrorIs(t, err, drawingdomain.ErrDrawingNotEvaluated)

	_, err = f.svc.Evaluate(ctx, drawingdomain.EvaluateInput{
		DrawingID: scheduled.ID, WinningNumber: "05", EvaluatedBy: "admin",
	})
	require.NoError(t, err)

	closed, err := f.svc.CloseDrawing(ctx, scheduled.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, drawingdomain.DrawingStatusClosed, closed.Status)

	reopened, err := f.svc.ForceReopen(ctx, scheduled.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, drawingdomain.DrawingStatusOpen, reopened.Status)
	assert.Nil(t, reopened.WinningNumber)
}
