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
	commissiondomain "github.com/tiemposla/bancaledger/internal/commission/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupCommissionService(t *testing.T) commissiondomain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&commissiondomain.CommissionPolicy{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
}

func int64p(v int64) *int64 { return &v }

func TestResolveForBetWalksOwnerChain(t *testing.T) {
	svc := setupCommissionService(t)
	ctx := context.Background()

	_, err := svc.SetPolicy(ctx, commissiondomain.PolicyOwnerBanca, 1,
		[]byte(`{"rules":[{"rate":"0.02"}]}`), "admin")
	require.NoError(t, err)
	_, err = svc.SetPolicy(ctx, commissiondomain.PolicyOwnerOutlet, 10,
		[]byte(`{"rules":[{"rate":"0.05"}]}`), "admin")
	require.NoError(t, err)

	chain := commissiondomain.PolicyChain{UserID: int64p(100), OutletID: int64p(10), BancaID: int64p(1)}
	bet := commissiondomain.Context{Stake: decimal.RequireFromString("100")}

	// No user policy: the outlet document wins over the banca document.
	result, err := svc.ResolveForBet(ctx, chain, bet)
	require.NoError(t, err)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.05")))

	_, err = svc.SetPolicy(ctx, commissiondomain.PolicyOwnerUser, 100,
		[]byte(`{"rules":[{"rate":"0.08"}]}`), "admin")
	require.NoError(t, err)

	result, err = svc.ResolveForBet(ctx, chain, bet)
	require.NoError(t, err)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.08")))
}

func TestResolveForBetNoPolicyAnywhere(t *testing.T) {
	svc := setupCommissionService(t)

	result, err := svc.ResolveForBet(context.Background(), commissiondomain.PolicyChain{
		UserID: int64p(1), OutletID: int64p(2), BancaID: int64p(3),
	}, commissiondomain.Context{Stake: decimal.RequireFromString("100")})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.True(t, result.Amount.IsZero())
}

func TestSetPolicyReplacesAndInvalidatesCache(t *testing.T) {
	svc := setupCommissionService(t)
	ctx := context.Background()

	_, err := svc.SetPolicy(ctx, commissiondomain.PolicyOwnerUser, 5,
		[]byte(`{"rules":[{"rate":"0.05"}]}`), "admin")
	require.NoError(t, err)

	chain := commissiondomain.PolicyChain{UserID: int64p(5)}
	bet := commissiondomain.Context{Stake: decimal.RequireFromString("200")}

	// Warm the cache, then replace the document.
	result, err := svc.ResolveForBet(ctx, chain, bet)
	require.NoError(t, err)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.05")))

	_, err = svc.SetPolicy(ctx, commissiondomain.PolicyOwnerUser, 5,
		[]byte(`{"rules":[{"rate":"0.10"}]}`), "admin")
	require.NoError(t, err)

	result, err = svc.ResolveForBet(ctx, chain, bet)
	require.NoError(t, err)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("20")))
}

func TestSetPolicyRejectsInvalidDocuments(t *testing.T) {
	svc := setupCommissionService(t)
	ctx := context.Background()

	_, err := svc.SetPolicy(ctx, commissiondomain.PolicyOwnerUser, 5, []byte(`{"rules":[{"rate":"3"}]}`), "admin")
	assert.ErrorIs(t, err, commissiondomain.ErrInvalidRate)

	_, err = svc.SetPolicy(ctx, "warehouse", 5, []byte(`{"rules":[]}`), "admin")
	assert.ErrorIs(t, err, commissiondomain.ErrInvalidOwnerType)

	_, err = svc.GetPolicy(ctx, commissiondomain.PolicyOwnerUser, 404)
	assert.ErrorIs(t, err, commissiondomain.ErrPolicyNotFound)
}
