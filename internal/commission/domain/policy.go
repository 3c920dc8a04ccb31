package domain

import (
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Rule is one commission clause. Every filter it declares must be satisfied
// for the rule to match; an absent filter means "any".
type Rule struct {
	MinMultiplier *decimal.Decimal `json:"min_multiplier,omitempty"`
	MaxMultiplier *decimal.Decimal `json:"max_multiplier,omitempty"`
	LotteryID     *snowflake.ID    `json:"lottery_id,omitempty"`
	BetType       *string          `json:"bet_type,omitempty"`
	Rate          decimal.Decimal  `json:"rate"`
}

// Policy is an ordered rule list with an optional default rate. The default
// rate only prices a bet that is already known to be commissionable; it never
// decides eligibility, which is what Result.Matched reports.
type Policy struct {
	Rules       []Rule           `json:"rules"`
	DefaultRate *decimal.Decimal `json:"default_rate,omitempty"`
}

// Context is the bet being priced: the multiplier is the value snapshotted
// at sale time, not a fresh lookup.
type Context struct {
	LotteryID  snowflake.ID
	BetType    string
	Multiplier decimal.Decimal
	Stake      decimal.Decimal
}

// Result carries the resolved rate and the commission amount rounded to the
// currency minor unit. Matched is true only when an explicit rule matched;
// a default-rate resolution prices the bet but leaves Matched false.
type Result struct {
	Rate    decimal.Decimal
	Amount  decimal.Decimal
	Matched bool
}

// ParsePolicy decodes and validates a policy document. Validation happens
// once at load time so Resolve can assume a well-formed policy.
func ParsePolicy(doc []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(doc, &policy); err != nil {
		return nil, ErrMalformedPolicy
	}

	one := decimal.NewFromInt(1)
	for _, rule := range policy.Rules {
		if rule.Rate.IsNegative() || rule.Rate.GreaterThan(one) {
			return nil, ErrInvalidRate
		}
		if rule.MinMultiplier != nil && rule.MaxMultiplier != nil &&
			rule.MinMultiplier.GreaterThan(*rule.MaxMultiplier) {
			return nil, ErrInvalidMultiplierRange
		}
	}
	if policy.DefaultRate != nil &&
		(policy.DefaultRate.IsNegative() || policy.DefaultRate.GreaterThan(one)) {
		return nil, ErrInvalidRate
	}
	return &policy, nil
}

// Resolve applies the first policy present (policy, then fallback) to the
// bet context. Rules are scanned in document order and the first one whose
// declared filters all match wins. With no matching rule the default rate,
// when present, still prices the bet (Matched stays false); with neither,
// the result is zero.
func Resolve(policy, fallback *Policy, bet Context) Result {
	chosen := policy
	if chosen == nil {
		chosen = fallback
	}
	if chosen == nil {
		return Result{Rate: decimal.Zero, Amount: decimal.Zero}
	}

	for _, rule := range chosen.Rules {
		if rule.MinMultiplier != nil && bet.Multiplier.LessThan(*rule.MinMultiplier) {
			continue
		}
		if rule.MaxMultiplier != nil && bet.Multiplier.GreaterThan(*rule.MaxMultiplier) {
			continue
		}
		if rule.LotteryID != nil && *rule.LotteryID != bet.LotteryID {
			continue
		}
		if rule.BetType != nil && *rule.BetType != bet.BetType {
			continue
		}
		return Result{
			Rate:    rule.Rate,
			Amount:  commissionAmount(bet.Stake, rule.Rate),
			Matched: true,
		}
	}

	if chosen.DefaultRate != nil {
		return Result{
			Rate:   *chosen.DefaultRate,
			Amount: commissionAmount(bet.Stake, *chosen.DefaultRate),
		}
	}
	return Result{Rate: decimal.Zero, Amount: decimal.Zero}
}

func commissionAmount(stake, rate decimal.Decimal) decimal.Decimal {
	return stake.Mul(rate).Round(2)
}
