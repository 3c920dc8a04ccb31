package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// OwnerType identifies who an account belongs to.
type OwnerType string

const (
	OwnerTypeOutlet OwnerType = "outlet"
	OwnerTypeSeller OwnerType = "seller"
	OwnerTypeOther  OwnerType = "other"
)

// EntryType classifies a ledger movement.
type EntryType string

const (
	EntryTypeSale        EntryType = "sale"
	EntryTypeCommission  EntryType = "commission"
	EntryTypePayout      EntryType = "payout"
	EntryTypeCollection  EntryType = "collection"
	EntryTypePayment     EntryType = "payment"
	EntryTypeBankDeposit EntryType = "bank_deposit"
	EntryTypeTransfer    EntryType = "transfer"
	EntryTypeReversal    EntryType = "reversal"
)

// Account holds a cached projection of its entries' signed sum. At most one
// active account exists per (owner type, owner id, currency).
type Account struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OwnerType OwnerType       `json:"owner_type" gorm:"type:text;not null;index:idx_accounts_owner,priority:1"`
	OwnerID   int64           `json:"owner_id" gorm:"not null;index:idx_accounts_owner,priority:2"`
	Currency  string          `json:"currency" gorm:"type:text;not null;index:idx_accounts_owner,priority:3"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(18,2);not null"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry is an immutable signed movement against one account.
// Positive values credit the account, negative values debit it.
// Corrections never mutate a row: they post a reversal entry that links
// back through ReversalOf.
type LedgerEntry struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	AccountID      snowflake.ID    `json:"account_id" gorm:"not null;index;uniqueIndex:ux_ledger_entries_account_idem,priority:1"`
	Type           EntryType       `json:"type" gorm:"type:text;not null;index"`
	Value          decimal.Decimal `json:"value" gorm:"type:numeric(18,2);not null"`
	ReferenceType  string          `json:"reference_type" gorm:"type:text"`
	ReferenceID    string          `json:"reference_id" gorm:"type:text;index"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex:ux_ledger_entries_account_idem,priority:2"`
	ReversalOf     *snowflake.ID   `json:"reversal_of,omitempty" gorm:"index"`
	Note           string          `json:"note" gorm:"type:text"`
	CreatedBy      string          `json:"created_by" gorm:"type:text;not null"`
	BusinessDate   string          `json:"business_date" gorm:"type:text;not null;index"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// PaymentDocument is the receipt-shaped record behind a transfer. One
// document always owns exactly two entries of equal magnitude and opposite
// sign, written in the same transaction.
type PaymentDocument struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	DocNumber      string          `json:"doc_number" gorm:"type:text;not null;uniqueIndex"`
	FromAccountID  snowflake.ID    `json:"from_account_id" gorm:"not null;index"`
	ToAccountID    snowflake.ID    `json:"to_account_id" gorm:"not null;index"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Date           string          `json:"date" gorm:"type:text;not null"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex"`
	CreatedBy      string          `json:"created_by" gorm:"type:text;not null"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentDocument) TableName() string { return "payment_documents" }

// BalanceSummary is derived by scanning the account's entries, so it doubles
// as a consistency check against the cached balance.
type BalanceSummary struct {
	AccountID     snowflake.ID    `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	CachedBalance decimal.Decimal `json:"cached_balance"`
	TotalCredits  decimal.Decimal `json:"total_credits"`
	TotalDebits   decimal.Decimal `json:"total_debits"`
	EntryCount    int64           `json:"entry_count"`
	Consistent    bool            `json:"consistent"`
}

// ValidOwnerType reports whether the owner type is one of the known enums.
func ValidOwnerType(t OwnerType) bool {
	switch t {
	case OwnerTypeOutlet, OwnerTypeSeller, OwnerTypeOther:
		return true
	}
	return false
}

// ValidEntryType reports whether the entry type is one of the known enums.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryTypeSale, EntryTypeCommission, EntryTypePayout, EntryTypeCollection,
		EntryTypePayment, EntryTypeBankDeposit, EntryTypeTransfer, EntryTypeReversal:
		return true
	}
	return false
}
