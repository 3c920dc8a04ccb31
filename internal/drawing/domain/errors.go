package domain

import "errors"

var (
	ErrDrawingNotFound = errors.New("drawing_not_found")

	// state machine violations
	ErrDrawingNotScheduled = errors.New("drawing_not_scheduled")
	ErrDrawingNotOpen      = errors.New("drawing_not_open")
	ErrDrawingNotEvaluated = errors.New("drawing_not_evaluated")
	ErrDrawingNotClosed    = errors.New("drawing_not_closed")

	// evaluation input validation
	ErrWinningNumberLength    = errors.New("winning_number_length_mismatch")
	ErrWinningNumberDigits    = errors.New("winning_number_not_numeric")
	ErrInvalidBonusMultiplier = errors.New("invalid_bonus_multiplier")
	ErrInvalidActor           = errors.New("invalid_actor")
)
