package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/tiemposla/bancaledger/internal/audit/domain"
	balancedomain "github.com/tiemposla/bancaledger/internal/balance/domain"
	"github.com/tiemposla/bancaledger/internal/clock"
	ledgerdomain "github.com/tiemposla/bancaledger/internal/ledger/domain"
	obsmetrics "github.com/tiemposla/bancaledger/internal/observability/metrics"
	"github.com/tiemposla/bancaledger/pkg/db"
	"github.com/tiemposla/bancaledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	AuditSvc    auditdomain.Service       `optional:"true"`
	Invalidator balancedomain.Invalidator `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	auditSvc    auditdomain.Service
	invalidator balancedomain.Invalidator
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		auditSvc:    p.AuditSvc,
		invalidator: p.Invalidator,
		obsMetrics:  p.ObsMetrics,
	}
}

const businessDateLayout = "2006-01-02"

func (s *Service) GetOrCreateAccount(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, currency string) (*ledgerdomain.Account, error) {
	if !ledgerdomain.ValidOwnerType(ownerType) {
		return nil, ledgerdomain.ErrInvalidOwnerType
	}
	if ownerID <= 0 {
		return nil, ledgerdomain.ErrInvalidOwnerType
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, ledgerdomain.ErrInvalidCurrency
	}

	var account *ledgerdomain.Account
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findActiveAccountTx(ctx, tx, ownerType, ownerID, currency)
		if err != nil {
			return err
		}
		if existing != nil {
			account = existing
			return nil
		}

		fresh := &ledgerdomain.Account{
			ID:        s.genID.Generate(),
			OwnerType: ownerType,
			OwnerID:   ownerID,
			Currency:  currency,
			Balance:   decimal.Zero,
			Active:    true,
			CreatedAt: s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO accounts (id, owner_type, owner_id, currency, balance, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fresh.ID, fresh.OwnerType, fresh.OwnerID, fresh.Currency, fresh.Balance, fresh.Active, fresh.CreatedAt,
		).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Lost the race to a concurrent first use; the winner's row is ours.
				existing, ferr := s.findActiveAccountTx(ctx, tx, ownerType, ownerID, currency)
				if ferr != nil {
					return ferr
				}
				if existing != nil {
					account = existing
					return nil
				}
			}
			return err
		}
		account = fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.audit(ctx, account.ID.String(), "ledger.account_created", "account", account.ID.String(), map[string]any{
			"owner_type": string(ownerType),
			"owner_id":   ownerID,
			"currency":   currency,
		})
	}
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.Account, error) {
	return s.findAccount(ctx, s.db, accountID)
}

func (s *Service) AddEntry(ctx context.Context, in ledgerdomain.AddEntryInput) (*ledgerdomain.LedgerEntry, error) {
	if !ledgerdomain.ValidEntryType(in.Type) {
		return nil, ledgerdomain.ErrInvalidEntryType
	}
	if in.Value.IsZero() {
		return nil, ledgerdomain.ErrInvalidValue
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ledgerdomain.ErrInvalidCreatedBy
	}
	if _, err := time.Parse(businessDateLayout, in.BusinessDate); err != nil {
		return nil, ledgerdomain.ErrInvalidBusinessDate
	}

	var (
		entry    *ledgerdomain.LedgerEntry
		inserted bool
		account  *ledgerdomain.Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.findAccount(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}

		entry, inserted, err = s.insertEntryTx(ctx, tx, ledgerdomain.LedgerEntry{
			AccountID:      in.AccountID,
			Type:           in.Type,
			Value:          in.Value,
			ReferenceType:  strings.TrimSpace(in.ReferenceType),
			ReferenceID:    strings.TrimSpace(in.ReferenceID),
			IdempotencyKey: normalizeKey(in.IdempotencyKey),
			Note:           strings.TrimSpace(in.Note),
			CreatedBy:      strings.TrimSpace(in.CreatedBy),
			BusinessDate:   in.BusinessDate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		s.afterPosting(ctx, account, entry)
		s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Type))
	}
	return entry, nil
}

func (s *Service) ReverseEntry(ctx context.Context, in ledgerdomain.ReverseEntryInput) (*ledgerdomain.LedgerEntry, error) {
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ledgerdomain.ErrInvalidCreatedBy
	}

	var (
		reversal *ledgerdomain.LedgerEntry
		inserted bool
		account  *ledgerdomain.Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.findAccount(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}

		original, err := s.findEntryTx(ctx, tx, in.AccountID, in.EntryID)
		if err != nil {
			return err
		}

		originalID := original.ID
		reversal, inserted, err = s.insertEntryTx(ctx, tx, ledgerdomain.LedgerEntry{
			AccountID:      in.AccountID,
			Type:           ledgerdomain.EntryTypeReversal,
			Value:          original.Value.Neg(),
			ReferenceType:  original.ReferenceType,
			ReferenceID:    original.ReferenceID,
			IdempotencyKey: normalizeKey(in.IdempotencyKey),
			ReversalOf:     &originalID,
			Note:           strings.TrimSpace(in.Reason),
			CreatedBy:      strings.TrimSpace(in.CreatedBy),
			BusinessDate:   s.clock.Now().Format(businessDateLayout),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		s.afterPosting(ctx, account, reversal)
		s.obsMetrics.RecordLedgerReversal(ctx, string(reversal.Type))
	}
	return reversal, nil
}

func (s *Service) Transfer(ctx context.Context, in ledgerdomain.TransferInput) (*ledgerdomain.TransferResult, error) {
	if !in.Amount.IsPositive() {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if in.FromAccountID == in.ToAccountID {
		return nil, ledgerdomain.ErrSameAccount
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ledgerdomain.ErrInvalidCreatedBy
	}
	if _, err := time.Parse(businessDateLayout, in.Date); err != nil {
		return nil, ledgerdomain.ErrInvalidBusinessDate
	}

	var (
		result      ledgerdomain.TransferResult
		fromAccount *ledgerdomain.Account
		toAccount   *ledgerdomain.Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		fromAccount, err = s.findAccount(ctx, tx, in.FromAccountID)
		if err != nil {
			return err
		}
		toAccount, err = s.findAccount(ctx, tx, in.ToAccountID)
		if err != nil {
			return err
		}

		key := normalizeKey(in.IdempotencyKey)
		if key != nil {
			existing, err := s.findDocumentByKeyTx(ctx, tx, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				fromEntry, toEntry, err := s.findDocumentEntriesTx(ctx, tx, existing.ID)
				if err != nil {
					return err
				}
				result = ledgerdomain.TransferResult{
					Document:  existing,
					FromEntry: fromEntry,
					ToEntry:   toEntry,
					Replayed:  true,
				}
				return nil
			}
		}

		docNumber := strings.TrimSpace(in.DocNumber)
		if docNumber == "" {
			docNumber = uuid.NewString()
		}

		doc := &ledgerdomain.PaymentDocument{
			ID:             s.genID.Generate(),
			DocNumber:      docNumber,
			FromAccountID:  in.FromAccountID,
			ToAccountID:    in.ToAccountID,
			Amount:         in.Amount,
			Date:           in.Date,
			IdempotencyKey: key,
			CreatedBy:      strings.TrimSpace(in.CreatedBy),
			CreatedAt:      s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO payment_documents (id, doc_number, from_account_id, to_account_id, amount, date, idempotency_key, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.DocNumber, doc.FromAccountID, doc.ToAccountID, doc.Amount, doc.Date, doc.IdempotencyKey, doc.CreatedBy, doc.CreatedAt,
		).Error; err != nil {
			return err
		}

		// Two entries of equal magnitude and opposite sign, one document.
		fromEntry, _, err := s.insertEntryTx(ctx, tx, ledgerdomain.LedgerEntry{
			AccountID:     in.FromAccountID,
			Type:          ledgerdomain.EntryTypeTransfer,
			Value:         in.Amount.Neg(),
			ReferenceType: "payment_document",
			ReferenceID:   doc.ID.String(),
			Note:          "transfer to " + in.ToAccountID.String(),
			CreatedBy:     doc.CreatedBy,
			BusinessDate:  in.Date,
		})
		if err != nil {
			return err
		}
		toEntry, _, err := s.insertEntryTx(ctx, tx, ledgerdomain.LedgerEntry{
			AccountID:     in.ToAccountID,
			Type:          ledgerdomain.EntryTypeTransfer,
			Value:         in.Amount,
			ReferenceType: "payment_document",
			ReferenceID:   doc.ID.String(),
			Note:          "transfer from " + in.FromAccountID.String(),
			CreatedBy:     doc.CreatedBy,
			BusinessDate:  in.Date,
		})
		if err != nil {
			return err
		}

		result = ledgerdomain.TransferResult{
			Document:  doc,
			FromEntry: fromEntry,
			ToEntry:   toEntry,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.afterPosting(ctx, fromAccount, result.FromEntry)
		s.afterPosting(ctx, toAccount, result.ToEntry)
		s.obsMetrics.RecordTransfer(ctx)
		s.audit(ctx, result.Document.CreatedBy, "ledger.transfer_created", "payment_document", result.Document.ID.String(), map[string]any{
			"doc_number": result.Document.DocNumber,
			"amount":     result.Document.Amount.String(),
			"from":       result.Document.FromAccountID.String(),
			"to":         result.Document.ToAccountID.String(),
		})
	}
	return &result, nil
}

func (s *Service) ListEntries(ctx context.Context, accountID snowflake.ID, filter ledgerdomain.ListEntriesFilter) ([]*ledgerdomain.LedgerEntry, *pagination.PageInfo, error) {
	if _, err := s.findAccount(ctx, s.db, accountID); err != nil {
		return nil, nil, err
	}

	stmt := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ?", accountID)
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.ReferenceType != "" {
		stmt = stmt.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		stmt = stmt.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.DateFrom != "" {
		stmt = stmt.Where("business_date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		stmt = stmt.Where("business_date <= ?", filter.DateTo)
	}

	if filter.PageToken != "" {
		cursor, err := pagination.DecodeCursor(filter.PageToken)
		if err != nil {
			return nil, nil, ledgerdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, ledgerdomain.ErrInvalidPageToken
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, nil, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	limit := filter.Limit()
	var entries []*ledgerdomain.LedgerEntry
	if err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e *ledgerdomain.LedgerEntry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        strconv.FormatInt(int64(e.ID), 10),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	return entries, pageInfo, nil
}

func (s *Service) BalanceSummary(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.BalanceSummary, error) {
	account, err := s.findAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	var values []decimal.Decimal
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Pluck("value", &values).Error; err != nil {
		return nil, err
	}

	summary := &ledgerdomain.BalanceSummary{
		AccountID:     accountID,
		CachedBalance: account.Balance,
		Balance:       decimal.Zero,
		TotalCredits:  decimal.Zero,
		TotalDebits:   decimal.Zero,
		EntryCount:    int64(len(values)),
	}
	for _, v := range values {
		summary.Balance = summary.Balance.Add(v)
		if v.IsPositive() {
			summary.TotalCredits = summary.TotalCredits.Add(v)
		} else {
			summary.TotalDebits = summary.TotalDebits.Add(v)
		}
	}
	summary.Consistent = summary.Balance.Equal(account.Balance)
	if !summary.Consistent {
		s.log.Warn("cached balance drift detected",
			zap.String("account_id", accountID.String()),
			zap.String("cached", account.Balance.String()),
			zap.String("derived", summary.Balance.String()),
		)
	}
	return summary, nil
}

// insertEntryTx appends one entry and adjusts the cached balance in the same
// transaction. A replayed idempotency key returns the original row with
// inserted=false and touches nothing.
func (s *Service) insertEntryTx(ctx context.Context, tx *gorm.DB, entry ledgerdomain.LedgerEntry) (*ledgerdomain.LedgerEntry, bool, error) {
	entry.ID = s.genID.Generate()
	entry.CreatedAt = s.clock.Now()

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, account_id, type, value, reference_type, reference_id,
			idempotency_key, reversal_of, note, created_by, business_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, idempotency_key) DO NOTHING`,
		entry.ID, entry.AccountID, entry.Type, entry.Value, entry.ReferenceType, entry.ReferenceID,
		entry.IdempotencyKey, entry.ReversalOf, entry.Note, entry.CreatedBy, entry.BusinessDate, entry.CreatedAt,
	)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		if entry.IdempotencyKey == nil {
			return nil, false, gorm.ErrInvalidData
		}
		var existing ledgerdomain.LedgerEntry
		err := tx.WithContext(ctx).Raw(
			`SELECT id, account_id, type, value, reference_type, reference_id,
			        idempotency_key, reversal_of, note, created_by, business_date, created_at
			 FROM ledger_entries WHERE account_id = ? AND idempotency_key = ?`,
			entry.AccountID, *entry.IdempotencyKey,
		).Scan(&existing).Error
		if err != nil {
			return nil, false, err
		}
		if existing.ID == 0 {
			return nil, false, ledgerdomain.ErrEntryNotFound
		}
		return &existing, false, nil
	}

	update := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = balance + ? WHERE id = ?`,
		entry.Value, entry.AccountID,
	)
	if update.Error != nil {
		return nil, false, update.Error
	}
	if update.RowsAffected == 0 {
		return nil, false, ledgerdomain.ErrAccountNotFound
	}
	return &entry, true, nil
}

func (s *Service) findAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := tx.WithContext(ctx).Raw(
		`SELECT id, owner_type, owner_id, currency, balance, active, created_at
		 FROM accounts WHERE id = ?`, accountID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) findActiveAccountTx(ctx context.Context, tx *gorm.DB, ownerType ledgerdomain.OwnerType, ownerID int64, currency string) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := tx.WithContext(ctx).Raw(
		`SELECT id, owner_type, owner_id, currency, balance, active, created_at
		 FROM accounts
		 WHERE owner_type = ? AND owner_id = ? AND currency = ? AND active
		 LIMIT 1`,
		ownerType, ownerID, currency,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (s *Service) findEntryTx(ctx context.Context, tx *gorm.DB, accountID, entryID snowflake.ID) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).Raw(
		`SELECT id, account_id, type, value, reference_type, reference_id,
		        idempotency_key, reversal_of, note, created_by, business_date, created_at
		 FROM ledger_entries WHERE id = ? AND account_id = ?`,
		entryID, accountID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, ledgerdomain.ErrEntryNotFound
	}
	return &entry, nil
}

func (s *Service) findDocumentByKeyTx(ctx context.Context, tx *gorm.DB, key string) (*ledgerdomain.PaymentDocument, error) {
	var doc ledgerdomain.PaymentDocument
	err := tx.WithContext(ctx).Raw(
		`SELECT id, doc_number, from_account_id, to_account_id, amount, date,
		        idempotency_key, created_by, created_at
		 FROM payment_documents WHERE idempotency_key = ?`, key,
	).Scan(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (s *Service) findDocumentEntriesTx(ctx context.Context, tx *gorm.DB, docID snowflake.ID) (*ledgerdomain.LedgerEntry, *ledgerdomain.LedgerEntry, error) {
	var entries []*ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", "payment_document", docID.String()).
		Find(&entries).Error
	if err != nil {
		return nil, nil, err
	}

	var fromEntry, toEntry *ledgerdomain.LedgerEntry
	for _, entry := range entries {
		if entry.Value.IsNegative() {
			fromEntry = entry
		} else {
			toEntry = entry
		}
	}
	if fromEntry == nil || toEntry == nil {
		return nil, nil, ledgerdomain.ErrDocumentNotFound
	}
	return fromEntry, toEntry, nil
}

// afterPosting runs the post-commit side effects for one inserted entry:
// audit record and closing-balance invalidation. Neither may fail the
// already-committed posting.
func (s *Service) afterPosting(ctx context.Context, account *ledgerdomain.Account, entry *ledgerdomain.LedgerEntry) {
	if account == nil || entry == nil {
		return
	}
	s.audit(ctx, entry.CreatedBy, "ledger.entry_created", "ledger_entry", entry.ID.String(), map[string]any{
		"account_id":    entry.AccountID.String(),
		"type":          string(entry.Type),
		"value":         entry.Value.String(),
		"business_date": entry.BusinessDate,
	})
	if s.invalidator != nil {
		s.invalidator.InvalidateFrom(ctx, account.OwnerType, account.OwnerID, entry.BusinessDate)
	}
}

func (s *Service) audit(ctx context.Context, actorID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, actorID, action, targetType, targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
