package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	lotterydomain "github.com/tiemposla/bancaledger/internal/lottery/domain"
	"gorm.io/gorm"
)

const (
	defaultLotteryName = "Tiempos"
	defaultDigitCount  = 2
	defaultBonusLabel  = "reventado"
)

var defaultBonusValue = decimal.NewFromInt(2)

// EnsureDefaultLottery seeds a two-digit lottery with a reventado bonus
// multiplier so a fresh install can open and settle drawings immediately.
func EnsureDefaultLottery(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lottery, err := ensureLotteryTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureBonusMultiplierTx(ctx, tx, node, lottery.ID)
	})
}

func ensureLotteryTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*lotterydomain.Lottery, error) {
	var lottery lotterydomain.Lottery
	err := tx.WithContext(ctx).
		Where("name = ? AND active", defaultLotteryName).
		Limit(1).
		Find(&lottery).Error
	if err != nil {
		return nil, err
	}
	if lottery.ID != 0 {
		return &lottery, nil
	}

	lottery = lotterydomain.Lottery{
		ID:         node.Generate(),
		Name:       defaultLotteryName,
		DigitCount: defaultDigitCount,
		Active:     true,
	}
	if err := tx.WithContext(ctx).Create(&lottery).Error; err != nil {
		return nil, err
	}
	return &lottery, nil
}

func ensureBonusMultiplierTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, lotteryID snowflake.ID) error {
	var multiplier lotterydomain.Multiplier
	err := tx.WithContext(ctx).
		Where("lottery_id = ? AND kind = ? AND active", lotteryID, lotterydomain.MultiplierKindBonus).
		Limit(1).
		Find(&multiplier).Error
	if err != nil {
		return err
	}
	if multiplier.ID != 0 {
		return nil
	}

	multiplier = lotterydomain.Multiplier{
		ID:        node.Generate(),
		LotteryID: lotteryID,
		Kind:      lotterydomain.MultiplierKindBonus,
		Label:     defaultBonusLabel,
		Value:     defaultBonusValue,
		Active:    true,
	}
	return tx.WithContext(ctx).Create(&multiplier).Error
}
