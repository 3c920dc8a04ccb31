package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func strp(s string) *string { return &s }

func TestParsePolicyValidatesRates(t *testing.T) {
	_, err := ParsePolicy([]byte(`{"rules":[{"rate":"1.5"}]}`))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = ParsePolicy([]byte(`{"rules":[{"rate":"-0.1"}]}`))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = ParsePolicy([]byte(`{"rules":[],"default_rate":"2"}`))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = ParsePolicy([]byte(`{"rules":[{"min_multiplier":"80","max_multiplier":"70","rate":"0.1"}]}`))
	assert.ErrorIs(t, err, ErrInvalidMultiplierRange)

	_, err = ParsePolicy([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPolicy)

	policy, err := ParsePolicy([]byte(`{"rules":[{"min_multiplier":"60","max_multiplier":"80","rate":"0.1"}],"default_rate":"0.05"}`))
	require.NoError(t, err)
	require.Len(t, policy.Rules, 1)
	require.NotNil(t, policy.DefaultRate)
}

func TestResolveFirstMatchingRuleWins(t *testing.T) {
	policy := &Policy{
		Rules: []Rule{
			{MinMultiplier: decp("60"), MaxMultiplier: decp("80"), Rate: decimal.RequireFromString("0.12")},
			{Rate: decimal.RequireFromString("0.05")},
		},
	}

	result := Resolve(policy, nil, Context{
		Multiplier: decimal.RequireFromString("70"),
		Stake:      decimal.RequireFromString("100"),
	})
	assert.True(t, result.Matched)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.12")))
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("12")), "amount = %s", result.Amount)

	// Below the first rule's range, the catch-all second rule applies.
	result = Resolve(policy, nil, Context{
		Multiplier: decimal.RequireFromString("40"),
		Stake:      decimal.RequireFromString("100"),
	})
	assert.True(t, result.Matched)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.05")))
}

func TestResolveFiltersMustAllMatch(t *testing.T) {
	lotteryA := snowflake.ID(100)
	lotteryB := snowflake.ID(200)
	policy := &Policy{
		Rules: []Rule{
			{LotteryID: &lotteryA, BetType: strp("straight"), Rate: decimal.RequireFromString("0.1")},
		},
	}

	result := Resolve(policy, nil, Context{
		LotteryID: lotteryB,
		BetType:   "straight",
		Stake:     decimal.RequireFromString("10"),
	})
	assert.False(t, result.Matched)
	assert.True(t, result.Amount.IsZero())

	result = Resolve(policy, nil, Context{
		LotteryID: lotteryA,
		BetType:   "bonus",
		Stake:     decimal.RequireFromString("10"),
	})
	assert.False(t, result.Matched)

	result = Resolve(policy, nil, Context{
		LotteryID: lotteryA,
		BetType:   "straight",
		Stake:     decimal.RequireFromString("10"),
	})
	assert.True(t, result.Matched)
}

func TestResolveDefaultRateNeverAuthorizesEligibility(t *testing.T) {
	policy := &Policy{
		Rules: []Rule{
			{MinMultiplier: decp("60"), MaxMultiplier: decp("80"), Rate: decimal.RequireFromString("0.1")},
		},
		DefaultRate: decp("0.02"),
	}

	result := Resolve(policy, nil, Context{
		Multiplier: decimal.RequireFromString("90"),
		Stake:      decimal.RequireFromString("100"),
	})
	// Priced by the default rate, but not an explicit match.
	assert.False(t, result.Matched)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("2")))
}

func TestResolveFallbackPolicyUsedOnlyWhenPrimaryAbsent(t *testing.T) {
	fallback := &Policy{Rules: []Rule{{Rate: decimal.RequireFromString("0.03")}}}
	primary := &Policy{Rules: []Rule{{Rate: decimal.RequireFromString("0.08")}}}

	result := Resolve(nil, fallback, Context{Stake: decimal.RequireFromString("100")})
	assert.True(t, result.Matched)
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.03")))

	result = Resolve(primary, fallback, Context{Stake: decimal.RequireFromString("100")})
	assert.True(t, result.Rate.Equal(decimal.RequireFromString("0.08")))

	result = Resolve(nil, nil, Context{Stake: decimal.RequireFromString("100")})
	assert.False(t, result.Matched)
	assert.True(t, result.Amount.IsZero())
}

func TestResolveRoundsToMinorUnit(t *testing.T) {
	policy := &Policy{Rules: []Rule{{Rate: decimal.RequireFromString("0.0333")}}}

	result := Resolve(policy, nil, Context{Stake: decimal.RequireFromString("10")})
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("0.33")), "amount = %s", result.Amount)
}
