package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	lotterydomain "github.com/tiemposla/bancaledger/internal/lottery/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) lotterydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("lottery.service"),
	}
}

func (s *Service) GetLottery(ctx context.Context, id snowflake.ID) (*lotterydomain.Lottery, error) {
	var lottery lotterydomain.Lottery
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, name, digit_count, active, created_at FROM lotteries WHERE id = ?`, id,
	).Scan(&lottery).Error
	if err != nil {
		return nil, err
	}
	if lottery.ID == 0 {
		return nil, lotterydomain.ErrLotteryNotFound
	}
	return &lottery, nil
}

func (s *Service) GetMultiplier(ctx context.Context, id snowflake.ID) (*lotterydomain.Multiplier, error) {
	var multiplier lotterydomain.Multiplier
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, lottery_id, kind, label, value, active, drawing_id, created_at
		 FROM multipliers WHERE id = ?`, id,
	).Scan(&multiplier).Error
	if err != nil {
		return nil, err
	}
	if multiplier.ID == 0 {
		return nil, lotterydomain.ErrMultiplierNotFound
	}
	return &multiplier, nil
}

func (s *Service) ListActiveMultipliers(ctx context.Context, lotteryID snowflake.ID, kind lotterydomain.MultiplierKind) ([]*lotterydomain.Multiplier, error) {
	var multipliers []*lotterydomain.Multiplier
	err := s.db.WithContext(ctx).
		Where("lottery_id = ? AND kind = ? AND active", lotteryID, kind).
		Order("value asc, id asc").
		Find(&multipliers).Error
	return multipliers, err
}
