package ranking

import (
	"context"
	"errors"
	"time"

	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/errutil"
	"fanpulse-engine/pkg/notifier"
	"fanpulse-engine/pkg/repository"
	"fanpulse-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// TableActivity is the notifier channel for new activity events.
const TableActivity = "activity_events"

var ErrUnknownCategory = errutil.BadRequest("unknown leaderboard category", nil)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	notifier *notifier.Notifier

	events repository.Repository[ActivityEvent]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Notifier *notifier.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		notifier: p.Notifier,

		events: repository.ProvideStore[ActivityEvent](p.DB),
	}
}

type RecordActivityParams struct {
	CreatorID string
	FanID     string
	Kind      ActivityKind
	Amount    int64
}

// RecordActivity appends a raw activity event. Leaderboards pick it up on
// the next recompute; reads until then serve the previous snapshot.
func (s *Service) RecordActivity(ctx context.Context, p RecordActivityParams) error {
	if !validKind(p.Kind) {
		return ErrUnknownCategory
	}
	if p.Amount <= 0 {
		return errutil.BadRequest("activity amount must be > 0", nil)
	}

	evt := &ActivityEvent{
		ID:        s.node.Generate().String(),
		CreatorID: p.CreatorID,
		FanID:     p.FanID,
		Kind:      p.Kind,
		Amount:    p.Amount,
	}
	if err := s.events.Create(ctx, evt); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.Publish(TableActivity, notifier.EventInsert, p.CreatorID, evt)
	}
	return nil
}

func validKind(kind ActivityKind) bool {
	for _, k := range Categories {
		if k == kind {
			return true
		}
	}
	return false
}

// RecomputeGlobal rebuilds the global leaderboard snapshot from lifetime XP
// in a single transaction. Ties break on user id so repeated runs over the
// same data produce identical rankings.
func (s *Service) RecomputeGlobal(ctx context.Context) error {
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		var balances []*ledger.Balance
		if err := tx.WithContext(ctx).
			Order("total_earned_xp desc, user_id asc").
			Find(&balances).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Where("1 = 1").Delete(&GlobalRank{}).Error; err != nil {
			return err
		}

		now := time.Now()
		ranks := make([]*GlobalRank, 0, len(balances))
		for i, balance := range balances {
			ranks = append(ranks, &GlobalRank{
				ID:           s.node.Generate().String(),
				UserID:       balance.UserID,
				TotalXP:      balance.TotalEarnedXP,
				RankPosition: int64(i + 1),
				Tier:         TierFor(balance.TotalEarnedXP),
				UpdatedAt:    now,
			})
		}
		if len(ranks) == 0 {
			return nil
		}
		return tx.WithContext(ctx).CreateInBatches(ranks, 500).Error
	})
	if err != nil {
		zap.L().Error("global rank recompute failed", zap.Error(err))
		return err
	}
	return nil
}

type categoryTotal struct {
	FanID string       `gorm:"column:fan_id"`
	Kind  ActivityKind `gorm:"column:kind"`
	Total int64        `gorm:"column:total"`
}

// RecomputeCreator rebuilds all four category leaderboards for one creator
// from the raw activity feed, in a single transaction.
func (s *Service) RecomputeCreator(ctx context.Context, creatorID string) error {
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		var totals []categoryTotal
		if err := tx.WithContext(ctx).Model(&ActivityEvent{}).
			Select("fan_id, kind, SUM(amount) AS total").
			Where("creator_id = ?", creatorID).
			Group("fan_id, kind").
			Having("SUM(amount) > 0").
			Order("kind asc, total desc, fan_id asc").
			Scan(&totals).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).
			Where("creator_id = ?", creatorID).
			Delete(&CreatorRank{}).Error; err != nil {
			return err
		}

		now := time.Now()
		ranks := make([]*CreatorRank, 0, len(totals))
		positions := make(map[ActivityKind]int64, len(Categories))
		for _, row := range totals {
			positions[row.Kind]++
			ranks = append(ranks, &CreatorRank{
				ID:           s.node.Generate().String(),
				CreatorID:    creatorID,
				FanID:        row.FanID,
				Category:     row.Kind,
				Total:        row.Total,
				RankPosition: positions[row.Kind],
				UpdatedAt:    now,
			})
		}
		if len(ranks) == 0 {
			return nil
		}
		return tx.WithContext(ctx).CreateInBatches(ranks, 500).Error
	})
	if err != nil {
		zap.L().Error("creator rank recompute failed",
			zap.String("creator_id", creatorID), zap.Error(err))
		return err
	}
	return nil
}

// RebuildAll recomputes the global leaderboard plus every creator that has
// activity. Runs on worker startup and behind the rebuild task.
func (s *Service) RebuildAll(ctx context.Context) error {
	if err := s.RecomputeGlobal(ctx); err != nil {
		return err
	}

	var creatorIDs []string
	if err := s.db.WithContext(ctx).Model(&ActivityEvent{}).
		Distinct("creator_id").
		Pluck("creator_id", &creatorIDs).Error; err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, creatorID := range creatorIDs {
		creatorID := creatorID
		g.Go(func() error {
			return s.RecomputeCreator(gctx, creatorID)
		})
	}
	return g.Wait()
}

// GlobalLeaderboard returns the top entries of the current global snapshot.
func (s *Service) GlobalLeaderboard(ctx context.Context, limit int) ([]*GlobalRank, error) {
	if limit <= 0 {
		limit = 100
	}
	var ranks []*GlobalRank
	err := s.db.WithContext(ctx).
		Order("rank_position asc").
		Limit(limit).
		Find(&ranks).Error
	return ranks, err
}

// CreatorLeaderboard returns one category leaderboard for a creator from the
// current snapshot.
func (s *Service) CreatorLeaderboard(ctx context.Context, creatorID string, category ActivityKind) ([]*CreatorRank, error) {
	if !validKind(category) {
		return nil, ErrUnknownCategory
	}
	var ranks []*CreatorRank
	err := s.db.WithContext(ctx).
		Where("creator_id = ? AND category = ?", creatorID, category).
		Order("rank_position asc").
		Find(&ranks).Error
	return ranks, err
}

// UserRank returns a user's row in the global snapshot, or nil if they are
// unranked.
func (s *Service) UserRank(ctx context.Context, userID string) (*GlobalRank, error) {
	var rank GlobalRank
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rank).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rank, nil
}
