package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/tiemposla/bancaledger/pkg/db/pagination"
)

// AddEntryInput describes one ledger posting. When IdempotencyKey is set and
// was already seen for the account, the original entry is returned untouched.
type AddEntryInput struct {
	AccountID      snowflake.ID
	Type           EntryType
	Value          decimal.Decimal
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey *string
	Note           string
	CreatedBy      string
	BusinessDate   string
}

type ReverseEntryInput struct {
	AccountID      snowflake.ID
	EntryID        snowflake.ID
	Reason         string
	CreatedBy      string
	IdempotencyKey *string
}

type TransferInput struct {
	FromAccountID  snowflake.ID
	ToAccountID    snowflake.ID
	Amount         decimal.Decimal
	DocNumber      string
	Date           string
	CreatedBy      string
	IdempotencyKey *string
}

type TransferResult struct {
	Document  *PaymentDocument
	FromEntry *LedgerEntry
	ToEntry   *LedgerEntry
	// Replayed is true when the idempotency key matched a prior transfer and
	// no new postings were made.
	Replayed bool
}

type ListEntriesFilter struct {
	pagination.Pagination
	Type          EntryType
	ReferenceType string
	ReferenceID   string
	DateFrom      string
	DateTo        string
}

// Service is the ledger store: idempotent entry creation, reversal,
// transfers, and balance reads. Every mutation runs in a single transaction
// covering the entry insert(s) and the cached balance update(s).
type Service interface {
	GetOrCreateAccount(ctx context.Context, ownerType OwnerType, ownerID int64, currency string) (*Account, error)
	GetAccount(ctx context.Context, accountID snowflake.ID) (*Account, error)
	AddEntry(ctx context.Context, in AddEntryInput) (*LedgerEntry, error)
	ReverseEntry(ctx context.Context, in ReverseEntryInput) (*LedgerEntry, error)
	Transfer(ctx context.Context, in TransferInput) (*TransferResult, error)
	ListEntries(ctx context.Context, accountID snowflake.ID, filter ListEntriesFilter) ([]*LedgerEntry, *pagination.PageInfo, error)
	BalanceSummary(ctx context.Context, accountID snowflake.ID) (*BalanceSummary, error)
}
