package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Lottery configures one numbers game: how many digits a winning number has.
type Lottery struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	DigitCount int          `json:"digit_count" gorm:"not null"`
	Active     bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Lottery) TableName() string { return "lotteries" }

// MultiplierKind separates the straight-number payout table from the
// reventado bonus table.
type MultiplierKind string

const (
	MultiplierKindRegular MultiplierKind = "regular"
	MultiplierKindBonus   MultiplierKind = "bonus"
)

// Multiplier is one row of a lottery's payout table. A bonus multiplier may
// be scoped to a single drawing through DrawingID.
type Multiplier struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	LotteryID snowflake.ID    `json:"lottery_id" gorm:"not null;index"`
	Kind      MultiplierKind  `json:"kind" gorm:"type:text;not null"`
	Label     string          `json:"label" gorm:"type:text"`
	Value     decimal.Decimal `json:"value" gorm:"type:numeric(10,2);not null"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
	DrawingID *snowflake.ID   `json:"drawing_id,omitempty" gorm:"index"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Multiplier) TableName() string { return "multipliers" }

var (
	ErrLotteryNotFound    = errors.New("lottery_not_found")
	ErrMultiplierNotFound = errors.New("multiplier_not_found")
	ErrInvalidDigitCount  = errors.New("invalid_digit_count")
	ErrInvalidMultiplier  = errors.New("invalid_multiplier")
)
