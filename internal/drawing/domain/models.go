package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DrawingStatus is the settlement state machine:
// scheduled -> open -> evaluated -> closed, with closed -> open only via an
// explicit forced reopen and evaluated -> open only via revert-evaluation.
type DrawingStatus string

const (
	DrawingStatusScheduled DrawingStatus = "scheduled"
	DrawingStatusOpen      DrawingStatus = "open"
	DrawingStatusEvaluated DrawingStatus = "evaluated"
	DrawingStatusClosed    DrawingStatus = "closed"
)

// Drawing (sorteo) is one instance of a lottery draw. Outcome fields are
// written exactly once per evaluation; re-evaluation requires an explicit
// revert first.
type Drawing struct {
	ID                   snowflake.ID     `json:"id" gorm:"primaryKey"`
	LotteryID            snowflake.ID     `json:"lottery_id" gorm:"not null;index"`
	ScheduledAt          time.Time        `json:"scheduled_at" gorm:"not null;index"`
	DigitCount           int              `json:"digit_count" gorm:"not null"`
	Status               DrawingStatus    `json:"status" gorm:"type:text;not null;index"`
	WinningNumber        *string          `json:"winning_number,omitempty" gorm:"type:text"`
	BonusMultiplierID    *snowflake.ID    `json:"bonus_multiplier_id,omitempty"`
	BonusMultiplierValue *decimal.Decimal `json:"bonus_multiplier_value,omitempty" gorm:"type:numeric(10,2)"`
	BonusOutcome         *string          `json:"bonus_outcome,omitempty" gorm:"type:text"`
	HasWinner            bool             `json:"has_winner" gorm:"not null;default:false"`
	BusinessDate         string           `json:"business_date" gorm:"type:text;not null;index"`
	CreatedAt            time.Time        `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time        `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Drawing) TableName() string { return "drawings" }

// Outlet is a point of sale. Inactive or soft-deleted outlets drop out of
// settlement and aggregate balance math.
type Outlet struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:text;not null"`
	Active    bool           `json:"active" gorm:"not null;default:true"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Outlet) TableName() string { return "outlets" }

// Seller works for one outlet.
type Seller struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	OutletID  int64          `json:"outlet_id" gorm:"not null;index"`
	Name      string         `json:"name" gorm:"type:text;not null"`
	Active    bool           `json:"active" gorm:"not null;default:true"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Seller) TableName() string { return "sellers" }

type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "active"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// Ticket groups the bets one seller sold against one drawing. Settlement
// fills the outcome fields; they are cleared again by revert-evaluation.
type Ticket struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	DrawingID       snowflake.ID    `json:"drawing_id" gorm:"not null;index"`
	OutletID        int64           `json:"outlet_id" gorm:"not null;index"`
	SellerID        int64           `json:"seller_id" gorm:"not null;index"`
	Status          TicketStatus    `json:"status" gorm:"type:text;not null;default:'active'"`
	Total           decimal.Decimal `json:"total" gorm:"type:numeric(18,2);not null"`
	Evaluated       bool            `json:"evaluated" gorm:"not null;default:false"`
	Winner          bool            `json:"winner" gorm:"not null;default:false"`
	TotalPayout     decimal.Decimal `json:"total_payout" gorm:"type:numeric(18,2);not null;default:0"`
	TotalPaid       decimal.Decimal `json:"total_paid" gorm:"type:numeric(18,2);not null;default:0"`
	RemainingAmount decimal.Decimal `json:"remaining_amount" gorm:"type:numeric(18,2);not null;default:0"`
	BusinessDate    string          `json:"business_date" gorm:"type:text;not null;index"`
	CreatedBy       string          `json:"created_by" gorm:"type:text"`
	DeletedAt       gorm.DeletedAt  `json:"-" gorm:"index"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Ticket) TableName() string { return "tickets" }

type BetType string

const (
	BetTypeStraight BetType = "straight"
	BetTypeBonus    BetType = "bonus"
)

// Bet (jugada) snapshots the multiplier and commission amounts at sale time;
// settlement never looks them up again, so later table edits cannot change
// historical payouts. For bonus winners the snapshotted multiplier is
// overwritten with the drawing's resolved bonus multiplier.
type Bet struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	TicketID         snowflake.ID    `json:"ticket_id" gorm:"not null;index"`
	Type             BetType         `json:"type" gorm:"type:text;not null"`
	Number           string          `json:"number" gorm:"type:text;not null;index"`
	Stake            decimal.Decimal `json:"stake" gorm:"type:numeric(18,2);not null"`
	Multiplier       decimal.Decimal `json:"multiplier" gorm:"type:numeric(10,2);not null"`
	Winner           bool            `json:"winner" gorm:"not null;default:false"`
	Payout           decimal.Decimal `json:"payout" gorm:"type:numeric(18,2);not null;default:0"`
	SellerCommission decimal.Decimal `json:"seller_commission" gorm:"type:numeric(18,2);not null;default:0"`
	OutletCommission decimal.Decimal `json:"outlet_commission" gorm:"type:numeric(18,2);not null;default:0"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Bet) TableName() string { return "bets" }

type ExclusionTarget string

const (
	ExclusionTargetTicket ExclusionTarget = "ticket"
	ExclusionTargetSeller ExclusionTarget = "seller"
	ExclusionTargetOutlet ExclusionTarget = "outlet"
)

// ExclusionListing blocks a ticket, seller, or outlet from one drawing's
// settlement and from aggregate balance math. Listings are resolved at
// settlement time, never baked into the drawing record.
type ExclusionListing struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	DrawingID  snowflake.ID    `json:"drawing_id" gorm:"not null;index"`
	TargetType ExclusionTarget `json:"target_type" gorm:"type:text;not null"`
	TargetID   int64           `json:"target_id" gorm:"not null"`
	Active     bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ExclusionListing) TableName() string { return "exclusion_listings" }
