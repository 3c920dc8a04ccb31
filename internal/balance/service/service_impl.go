package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	balancedomain "github.com/tiemposla/bancaledger/internal/balance/domain"
	"github.com/tiemposla/bancaledger/internal/cache"
	"github.com/tiemposla/bancaledger/internal/clock"
	"github.com/tiemposla/bancaledger/internal/config"
	ledgerdomain "github.com/tiemposla/bancaledger/internal/ledger/domain"
	obsmetrics "github.com/tiemposla/bancaledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// Tickets excluded by an active listing are invisible to aggregation, the
// same way settlement skips them.
const notExcludedClause = ` AND NOT EXISTS (
		SELECT 1 FROM exclusion_listings x
		WHERE x.drawing_id = t.drawing_id AND x.active
		  AND ((x.target_type = 'ticket' AND x.target_id = t.id)
		    OR (x.target_type = 'seller' AND x.target_id = t.seller_id)
		    OR (x.target_type = 'outlet' AND x.target_id = t.outlet_id)))`

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Closing    cache.ClosingBalanceCache
	Locker     *cache.Locker       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	closing    cache.ClosingBalanceCache
	closingTTL time.Duration
	locker     *cache.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	ttl := time.Duration(p.Config.BalanceCacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("balance.service"),
		clock:      p.Clock,
		closing:    p.Closing,
		closingTTL: ttl,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PeriodBalance(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to string) (*balancedomain.Summary, error) {
	if err := validateOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	fromDay, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, balancedomain.ErrInvalidDateRange
	}
	toDay, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, balancedomain.ErrInvalidDateRange
	}
	if toDay.Before(fromDay) {
		return nil, balancedomain.ErrInvalidDateRange
	}
	return s.periodBalance(ctx, ownerType, ownerID, from, to)
}

func (s *Service) MonthToDateBalance(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, today string) (*balancedomain.MonthToDate, error) {
	if err := validateOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	day, err := time.Parse(dateLayout, today)
	if err != nil {
		return nil, balancedomain.ErrInvalidDateRange
	}
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)

	carry, err := s.closingBefore(ctx, ownerType, ownerID, monthStart)
	if err != nil {
		return nil, err
	}
	period, err := s.periodBalance(ctx, ownerType, ownerID, monthStart.Format(dateLayout), today)
	if err != nil {
		return nil, err
	}
	return &balancedomain.MonthToDate{
		Summary:              *period,
		PreviousMonthClosing: carry,
		MonthToDateBalance:   carry.Add(period.Remaining),
	}, nil
}

// MonthToDateBalanceBatch runs the single-owner path per owner. Both paths
// therefore share one formula; the per-month memoization keeps the batch
// from recomputing the carry once per report row.
func (s *Service) MonthToDateBalanceBatch(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerIDs []int64, today string) ([]*balancedomain.MonthToDate, error) {
	out := make([]*balancedomain.MonthToDate, 0, len(ownerIDs))
	for _, ownerID := range ownerIDs {
		mtd, err := s.MonthToDateBalance(ctx, ownerType, ownerID, today)
		if err != nil {
			return nil, err
		}
		out = append(out, mtd)
	}
	return out, nil
}

// InvalidateFrom drops memoized closings for every month from the mutated
// business date through the current month: a change in month m shifts the
// closing of m and of every month after it.
func (s *Service) InvalidateFrom(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, businessDate string) {
	day, err := time.Parse(dateLayout, businessDate)
	if err != nil {
		s.log.Warn("invalidate with malformed business date", zap.String("business_date", businessDate))
		return
	}
	month := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	now := s.clock.Now()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for !month.After(end) {
		key := cache.ClosingKey(string(ownerType), ownerID, month)
		if err := s.closing.Delete(ctx, key); err != nil {
			s.log.Warn("closing cache invalidation failed", zap.String("key", key), zap.Error(err))
		}
		month = month.AddDate(0, 1, 0)
	}
}

// RecomputeForDrawing refreshes the month-to-date position of every owner
// with tickets in the drawing. Settlement calls it after commit, best effort.
func (s *Service) RecomputeForDrawing(ctx context.Context, drawingID snowflake.ID, businessDate string) error {
	// With several nodes serving the same ledger, only one needs to warm the
	// caches. Losing the lock race just means another node is already on it.
	if s.locker != nil {
		key := "balance.recompute:" + drawingID.String()
		token, acquired, err := s.locker.TryLock(ctx, key, time.Minute)
		if err != nil {
			s.log.Warn("recompute lock unavailable, proceeding", zap.Error(err))
		} else if !acquired {
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(ctx, key, token); err != nil {
					s.log.Warn("recompute lock release failed", zap.Error(err))
				}
			}()
		}
	}

	var owners []struct {
		OutletID int64
		SellerID int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT outlet_id, seller_id FROM tickets
		 WHERE drawing_id = ? AND deleted_at IS NULL`, drawingID,
	).Scan(&owners).Error
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}

	today := s.clock.Now().Format(dateLayout)
	outlets := make(map[int64]struct{})
	sellers := make(map[int64]struct{})
	for _, owner := range owners {
		outlets[owner.OutletID] = struct{}{}
		sellers[owner.SellerID] = struct{}{}
	}

	recompute := func(ownerType ledgerdomain.OwnerType, ownerID int64) error {
		s.InvalidateFrom(ctx, ownerType, ownerID, businessDate)
		_, err := s.MonthToDateBalance(ctx, ownerType, ownerID, today)
		return err
	}
	for outletID := range outlets {
		if err := recompute(ledgerdomain.OwnerTypeOutlet, outletID); err != nil {
			return err
		}
		s.obsMetrics.RecordBalanceRecompute(ctx, string(ledgerdomain.OwnerTypeOutlet))
	}
	for sellerID := range sellers {
		if err := recompute(ledgerdomain.OwnerTypeSeller, sellerID); err != nil {
			return err
		}
		s.obsMetrics.RecordBalanceRecompute(ctx, string(ledgerdomain.OwnerTypeSeller))
	}
	return nil
}

func (s *Service) periodBalance(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to string) (*balancedomain.Summary, error) {
	sales, err := s.sumTickets(ctx, ownerType, ownerID, from, to, "t.total", "")
	if err != nil {
		return nil, err
	}
	payouts, err := s.sumTickets(ctx, ownerType, ownerID, from, to, "t.total_payout", " AND t.evaluated AND t.winner")
	if err != nil {
		return nil, err
	}
	commission, err := s.sumCommission(ctx, ownerType, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	collections, err := s.sumEntries(ctx, ownerType, ownerID, from, to, ledgerdomain.EntryTypeCollection)
	if err != nil {
		return nil, err
	}
	payments, err := s.sumEntries(ctx, ownerType, ownerID, from, to, ledgerdomain.EntryTypePayment)
	if err != nil {
		return nil, err
	}

	remaining := sales.Sub(payouts).Sub(commission).Sub(collections).Add(payments)
	return &balancedomain.Summary{
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		From:        from,
		To:          to,
		Sales:       sales,
		Payouts:     payouts,
		Commission:  commission,
		Collections: collections,
		Payments:    payments,
		Remaining:   remaining,
	}, nil
}

// closingBefore returns the owner's final balance at the end of the month
// preceding monthStart. Each month's closing is memoized; the recursion
// bottoms out at the owner's first active month.
func (s *Service) closingBefore(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, monthStart time.Time) (decimal.Decimal, error) {
	prevStart := monthStart.AddDate(0, -1, 0)

	key := cache.ClosingKey(string(ownerType), ownerID, prevStart)
	if value, ok, err := s.closing.Get(ctx, key); err != nil {
		s.log.Warn("closing cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return value, nil
	}

	firstMonth, active, err := s.firstActivityMonth(ctx, ownerType, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	if !active || !firstMonth.Before(monthStart) {
		return decimal.Zero, nil
	}

	carry, err := s.closingBefore(ctx, ownerType, ownerID, prevStart)
	if err != nil {
		return decimal.Zero, err
	}
	prevEnd := monthStart.AddDate(0, 0, -1)
	period, err := s.periodBalance(ctx, ownerType, ownerID, prevStart.Format(dateLayout), prevEnd.Format(dateLayout))
	if err != nil {
		return decimal.Zero, err
	}

	closing := carry.Add(period.Remaining)
	if err := s.closing.Set(ctx, key, closing, s.closingTTL); err != nil {
		s.log.Warn("closing cache write failed", zap.String("key", key), zap.Error(err))
	}
	return closing, nil
}

// firstActivityMonth finds the earliest business date across the owner's
// tickets and ledger entries.
func (s *Service) firstActivityMonth(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64) (time.Time, bool, error) {
	var dates []string

	var ticketMin string
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MIN(business_date), '') FROM tickets
		 WHERE `+ticketOwnerColumn(ownerType)+` = ? AND deleted_at IS NULL`, ownerID,
	).Scan(&ticketMin).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if ticketMin != "" {
		dates = append(dates, ticketMin)
	}

	var entryMin string
	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MIN(e.business_date), '') FROM ledger_entries e
		 JOIN accounts a ON a.id = e.account_id
		 WHERE a.owner_type = ? AND a.owner_id = ?`, ownerType, ownerID,
	).Scan(&entryMin).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if entryMin != "" {
		dates = append(dates, entryMin)
	}

	if len(dates) == 0 {
		return time.Time{}, false, nil
	}
	min := dates[0]
	for _, d := range dates[1:] {
		if d < min {
			min = d
		}
	}
	day, err := time.Parse(dateLayout, min)
	if err != nil {
		return time.Time{}, false, balancedomain.ErrInvalidDateRange
	}
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC), true, nil
}

// sumTickets totals one ticket column over the owner's eligible tickets in
// the period. Summation happens in Go to keep decimal exactness across
// dialects.
func (s *Service) sumTickets(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to, column, extra string) (decimal.Decimal, error) {
	query := `SELECT ` + column + `
		 FROM tickets t
		 JOIN sellers s ON s.id = t.seller_id
		 JOIN outlets o ON o.id = t.outlet_id
		 WHERE t.` + ticketOwnerColumn(ownerType) + ` = ?
		   AND t.status = 'active' AND t.deleted_at IS NULL
		   AND s.active AND s.deleted_at IS NULL
		   AND o.active AND o.deleted_at IS NULL
		   AND t.business_date >= ? AND t.business_date <= ?` +
		extra + notExcludedClause

	var values []decimal.Decimal
	if err := s.db.WithContext(ctx).Raw(query, ownerID, from, to).Scan(&values).Error; err != nil {
		return decimal.Zero, err
	}
	return sum(values), nil
}

// sumCommission totals the commission tier matching the owner's role:
// sellers earn the seller tier, outlets the outlet tier.
func (s *Service) sumCommission(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to string) (decimal.Decimal, error) {
	column := "b.outlet_commission"
	if ownerType == ledgerdomain.OwnerTypeSeller {
		column = "b.seller_commission"
	}
	query := `SELECT ` + column + `
		 FROM bets b
		 JOIN tickets t ON t.id = b.ticket_id
		 JOIN sellers s ON s.id = t.seller_id
		 JOIN outlets o ON o.id = t.outlet_id
		 WHERE t.` + ticketOwnerColumn(ownerType) + ` = ?
		   AND t.status = 'active' AND t.deleted_at IS NULL
		   AND s.active AND s.deleted_at IS NULL
		   AND o.active AND o.deleted_at IS NULL
		   AND t.business_date >= ? AND t.business_date <= ?` +
		notExcludedClause

	var values []decimal.Decimal
	if err := s.db.WithContext(ctx).Raw(query, ownerID, from, to).Scan(&values).Error; err != nil {
		return decimal.Zero, err
	}
	return sum(values), nil
}

// sumEntries totals entries of one type against the owner's accounts,
// folding in reversals of entries of that type so a reversed collection
// nets out of the period.
func (s *Service) sumEntries(ctx context.Context, ownerType ledgerdomain.OwnerType, ownerID int64, from, to string, entryType ledgerdomain.EntryType) (decimal.Decimal, error) {
	query := `SELECT e.value
		 FROM ledger_entries e
		 JOIN accounts a ON a.id = e.account_id
		 WHERE a.owner_type = ? AND a.owner_id = ?
		   AND e.business_date >= ? AND e.business_date <= ?
		   AND (e.type = ?
		     OR (e.type = ? AND e.reversal_of IN (
		           SELECT id FROM ledger_entries WHERE type = ?)))`

	var values []decimal.Decimal
	err := s.db.WithContext(ctx).Raw(query,
		ownerType, ownerID, from, to,
		entryType, ledgerdomain.EntryTypeReversal, entryType,
	).Scan(&values).Error
	if err != nil {
		return decimal.Zero, err
	}
	return sum(values), nil
}

func ticketOwnerColumn(ownerType ledgerdomain.OwnerType) string {
	if ownerType == ledgerdomain.OwnerTypeSeller {
		return "seller_id"
	}
	return "outlet_id"
}

func validateOwner(ownerType ledgerdomain.OwnerType, ownerID int64) error {
	if ownerType != ledgerdomain.OwnerTypeOutlet && ownerType != ledgerdomain.OwnerTypeSeller {
		return balancedomain.ErrInvalidOwnerType
	}
	if ownerID <= 0 {
		return balancedomain.ErrInvalidOwner
	}
	return nil
}

func sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
