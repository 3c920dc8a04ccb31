package domain

import "errors"

var (
	ErrMalformedPolicy        = errors.New("malformed_commission_policy")
	ErrInvalidRate            = errors.New("invalid_commission_rate")
	ErrInvalidMultiplierRange = errors.New("invalid_multiplier_range")
	ErrInvalidOwnerType       = errors.New("invalid_policy_owner_type")
	ErrPolicyNotFound         = errors.New("commission_policy_not_found")
)
