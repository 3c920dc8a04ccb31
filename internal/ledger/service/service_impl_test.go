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
	ledgerdomain "github.com/tiemposla/bancaledger/internal/ledger/domain"
	"github.com/tiemposla/bancaledger/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedgerService(t *testing.T) (ledgerdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.PaymentDocument{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	return svc, conn, fake
}

func mustAccount(t *testing.T, svc ledgerdomain.Service, ownerID int64) *ledgerdomain.Account {
	t.Helper()
	account, err := svc.GetOrCreateAccount(context.Background(), ledgerdomain.OwnerTypeOutlet, ownerID, "CRC")
	require.NoError(t, err)
	return account
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGetOrCreateAccountReusesActiveAccount(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateAccount(ctx, ledgerdomain.OwnerTypeSeller, 7, "crc")
	require.NoError(t, err)
	second, err := svc.GetOrCreateAccount(ctx, ledgerdomain.OwnerTypeSeller, 7, "CRC")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "CRC", second.Currency)
}

func TestAddEntryBalanceMatchesEntrySum(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()
	account := mustAccount(t, svc, 1)

	values := []string{"100.00", "-40.25", "15.75"}
	for i, v := range values {
		_, err := svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
			AccountID:    account.ID,
			Type:         ledgerdomain.EntryTypeSale,
			Value:        dec(v),
			CreatedBy:    "tester",
			BusinessDate: "2026-03-10",
			Note:         fmt.Sprintf("entry %d", i),
		})
		require.NoError(t, err)
	}

	summary, err := svc.BalanceSummary(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, summary.Balance.Equal(dec("75.50")), "derived balance = %s", summary.Balance)
	assert.True(t, summary.CachedBalance.Equal(dec("75.50")), "cached balance = %s", summary.CachedBalance)
	assert.True(t, summary.Consistent)
	assert.Equal(t, int64(3), summary.EntryCount)
	assert.True(t, summary.TotalCredits.Equal(dec("115.75")))
	assert.True(t, summary.TotalDebits.Equal(dec("-40.25")))
}

func TestAddEntryIdempotentReplay(t *testing.T) {
	svc, conn, _ := setupLedgerService(t)
	ctx := context.Background()
	account := mustAccount(t, svc, 2)

	key := "retry-abc"
	in := ledgerdomain.AddEntryInput{
		AccountID:      account.ID,
		Type:           ledgerdomain.EntryTypeCollection,
		Value:          dec("50.00"),
		IdempotencyKey: &key,
		CreatedBy:      "tester",
		BusinessDate:   "2026-03-10",
	}

	first, err := svc.AddEntry(ctx, in)
	require.NoError(t, err)
	second, err := svc.AddEntry(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&ledgerdomain.LedgerEntry{}).Where("account_id = ?", account.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	summary, err := svc.BalanceSummary(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, summary.CachedBalance.Equal(dec("50.00")))
}

func TestAddEntryValidation(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()
	account := mustAccount(t, svc, 3)

	_, err := svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: account.ID, Type: "bogus", Value: dec("1"),
		CreatedBy: "tester", BusinessDate: "2026-03-10",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEntryType)

	_, err = svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: account.ID, Type: ledgerdomain.EntryTypeSale, Value: decimal.Zero,
		CreatedBy: "tester", BusinessDate: "2026-03-10",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidValue)

	_, err = svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: account.ID, Type: ledgerdomain.EntryTypeSale, Value: dec("1"),
		CreatedBy: "tester", BusinessDate: "10/03/2026",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidBusinessDate)

	_, err = svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: snowflake.ID(999), Type: ledgerdomain.EntryTypeSale, Value: dec("1"),
		CreatedBy: "tester", BusinessDate: "2026-03-10",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestReverseEntryNegatesAndRestoresBalance(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()
	account := mustAccount(t, svc, 4)

	entry, err := svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: account.ID, Type: ledgerdomain.EntryTypePayout, Value: dec("-120.00"),
		CreatedBy: "tester", BusinessDate: "2026-03-10",
	})
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(ctx, ledgerdomain.ReverseEntryInput{
		AccountID: account.ID,
		EntryID:   entry.ID,
		Reason:    "keyed in twice",
		CreatedBy: "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, ledgerdomain.EntryTypeReversal, reversal.Type)
	assert.True(t, reversal.Value.Equal(dec("120.00")))
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, entry.ID, *reversal.ReversalOf)

	summary, err := svc.BalanceSummary(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, summary.CachedBalance.IsZero())
	assert.True(t, summary.Consistent)
}

func TestReverseEntryRejectsForeignEntry(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()
	owner := mustAccount(t, svc, 5)
	other := mustAccount(t, svc, 6)

	entry, err := svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
		AccountID: owner.ID, Type: ledgerdomain.EntryTypeSale, Value: dec("10"),
		CreatedBy: "tester", BusinessDate: "2026-03-10",
	})
	require.NoError(t, err)

	_, err = svc.ReverseEntry(ctx, ledgerdomain.ReverseEntryInput{
		AccountID: other.ID,
		EntryID:   entry.ID,
		CreatedBy: "tester",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrEntryNotFound)
}

func TestTransferMovesBothSidesAtomically(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()
	from := mustAccount(t, svc, 7)
	to := mustAccount(t, svc, 8)

	result, err := svc.Transfer(ctx, ledgerdomain.TransferInput{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        dec("25.00"),
		Date:          "2026-03-10",
		CreatedBy:     "tester",
	})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	assert.NotEmpty(t, result.Document.DocNumber)
	assert.True(t, result.FromEntry.Value.Equal(dec("-25.00")))
	assert.True(t, result.ToEntry.Value.Equal(dec("25.00")))

	fromAcc, err := svc.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	toAcc, err := svc.GetAccount(ctx, to.ID)
	require.NoError(t, err)
	assert.True(t, fromAcc.Balance.Equal(dec("-25.00")))
	assert.True(t, toAcc.Balance.Equal(dec("25.00")))
}

func TestTransferIdempotentReplay(t *testing.T) {
	svc, conn, _ := setupLedgerService(t)
	ctx := context.Background()
	from := mustAccount(t, svc, 9)
	to := mustAccount(t, svc, 10)

	key := "pago-123"
	in := ledgerdomain.TransferInput{
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         dec("9.99"),
		Date:           "2026-03-10",
		CreatedBy:      "tester",
		IdempotencyKey: &key,
	}

	first, err := svc.Transfer(ctx, in)
	require.NoError(t, err)
	second, err := svc.Transfer(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, first.FromEntry.ID, second.FromEntry.ID)
	assert.Equal(t, first.ToEntry.ID, second.ToEntry.ID)

	var docs int64
	require.NoError(t, conn.Model(&ledgerdomain.PaymentDocument{}).Count(&docs).Error)
	assert.Equal(t, int64(1), docs)

	fromAcc, err := svc.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, fromAcc.Balance.Equal(dec("-9.99")))
}

func TestTransferRejectsSameAccount(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	account := mustAccount(t, svc, 11)

	_, err := svc.Transfer(context.Background(), ledgerdomain.TransferInput{
		FromAccountID: account.ID,
		ToAccountID:   account.ID,
		Amount:        dec("5"),
		Date:          "2026-03-10",
		CreatedBy:     "tester",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrSameAccount)
}

func TestListEntriesCursorPagination(t *testing.T) {
	svc, _, fake := setupLedgerService(t)
	ctx := context.Background()
	account := mustAccount(t, svc, 12)

	for i := 0; i < 5; i++ {
		_, err := svc.AddEntry(ctx, ledgerdomain.AddEntryInput{
			AccountID: account.ID, Type: ledgerdomain.EntryTypeSale,
			Value: dec("1.00"), CreatedBy: "tester", BusinessDate: "2026-03-10",
		})
		require.NoError(t, err)
		fake.Advance(time.Second)
	}

	firstPage, pageInfo, err := svc.ListEntries(ctx, account.ID, ledgerdomain.ListEntriesFilter{
		Pagination: pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, firstPage, 3)
	require.True(t, pageInfo.HasMore)

	secondPage, pageInfo, err := svc.ListEntries(ctx, account.ID, ledgerdomain.ListEntriesFilter{
		Pagination: pagination.Pagination{PageSize: 3, PageToken: pageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, secondPage, 2)
	assert.False(t, pageInfo.HasMore)

	// Newest first, no overlap between pages.
	assert.True(t, firstPage[0].CreatedAt.After(secondPage[len(secondPage)-1].CreatedAt))
	seen := map[snowflake.ID]bool{}
	for _, e := range append(firstPage, secondPage...) {
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
	}
}
