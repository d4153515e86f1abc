package reward

import (
	"context"
	"fmt"
	"time"

	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/db/option"
	"fanpulse-engine/pkg/errutil"
	"fanpulse-engine/pkg/notifier"
	"fanpulse-engine/pkg/repository"
	"fanpulse-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableRewards is the notifier channel for reward row changes.
const TableRewards = "rewards"

var (
	ErrRewardNotFound           = errutil.NotFound("reward not found", nil)
	ErrRewardInactive           = errutil.UnprocessableEntity("reward is not active", nil)
	ErrOutOfStock               = errutil.UnprocessableEntity("reward is out of stock", nil)
	ErrUnsupportedPaymentMethod = errutil.UnprocessableEntity("payment method not supported for this reward", nil)
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	notifier *notifier.Notifier
	ledger   *ledger.Service

	rewards     repository.Repository[Reward]
	redemptions repository.Repository[Redemption]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Notifier *notifier.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		notifier: p.Notifier,
		ledger:   p.Ledger,

		rewards:     repository.ProvideStore[Reward](p.DB),
		redemptions: repository.ProvideStore[Redemption](p.DB),
	}
}

type CreateRewardParams struct {
	CreatorID         string
	Name              string
	Description       string
	QuantityAvailable int64
	XPCost            *int64
	CashPrice         *int64
}

func (s *Service) CreateReward(ctx context.Context, p CreateRewardParams) (*Reward, error) {
	if p.QuantityAvailable < 0 {
		return nil, errutil.BadRequest("quantity must be >= 0", nil)
	}
	if p.XPCost == nil && p.CashPrice == nil {
		return nil, errutil.BadRequest("reward needs at least one price", nil)
	}
	if p.XPCost != nil && *p.XPCost < 0 {
		return nil, errutil.BadRequest("xp cost must be >= 0", nil)
	}
	if p.CashPrice != nil && *p.CashPrice < 0 {
		return nil, errutil.BadRequest("cash price must be >= 0", nil)
	}

	reward := &Reward{
		ID:                s.node.Generate().String(),
		CreatorID:         p.CreatorID,
		Name:              p.Name,
		Description:       p.Description,
		QuantityAvailable: p.QuantityAvailable,
		XPCost:            p.XPCost,
		CashPrice:         p.CashPrice,
		IsActive:          true,
	}
	if err := s.rewards.Create(ctx, reward); err != nil {
		return nil, err
	}

	s.publish(notifier.EventInsert, reward)
	return reward, nil
}

func (s *Service) GetReward(ctx context.Context, rewardID string) (*Reward, error) {
	reward, err := s.rewards.FindOne(ctx, &Reward{ID: rewardID})
	if err != nil {
		return nil, err
	}
	if reward == nil {
		return nil, ErrRewardNotFound
	}
	return reward, nil
}

func (s *Service) ListRewards(ctx context.Context, creatorID string, onlyActive bool) ([]*Reward, error) {
	query := &Reward{CreatorID: creatorID}
	if onlyActive {
		query.IsActive = true
	}
	return s.rewards.Find(ctx, query)
}

// SetActive toggles whether a reward can be redeemed. Deactivation hides it
// from the redeem path without touching existing redemptions.
func (s *Service) SetActive(ctx context.Context, rewardID string, active bool) error {
	res := s.db.WithContext(ctx).Model(&Reward{}).
		Where("id = ?", rewardID).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRewardNotFound
	}
	return nil
}

type RedeemParams struct {
	UserID        string
	RewardID      string
	PaymentMethod PaymentMethod
}

// Redeem claims one unit of a reward. Stock is decremented with a guarded
// update so two fans racing for the last unit can never both win, and the
// XP charge commits in the same transaction as the claim.
func (s *Service) Redeem(ctx context.Context, p RedeemParams) (*Redemption, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
		zap.String("reward_id", p.RewardID),
	}

	var redemption *Redemption
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		reward, err := s.rewards.WithTrx(tx).FindOne(ctx, &Reward{ID: p.RewardID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if reward == nil {
			return ErrRewardNotFound
		}
		if !reward.IsActive {
			return ErrRewardInactive
		}

		var xpCharged, cashCharged int64
		switch p.PaymentMethod {
		case PaymentXP:
			if reward.XPCost == nil {
				return ErrUnsupportedPaymentMethod
			}
			xpCharged = *reward.XPCost
		case PaymentCash:
			if reward.CashPrice == nil {
				return ErrUnsupportedPaymentMethod
			}
			cashCharged = *reward.CashPrice
		default:
			return ErrUnsupportedPaymentMethod
		}

		// the guard re-checks stock and active state at write time, so a
		// stale read above cannot oversell the last unit
		res := tx.WithContext(ctx).Model(&Reward{}).
			Where("id = ? AND is_active = ? AND quantity_redeemed < quantity_available", p.RewardID, true).
			Updates(map[string]any{
				"quantity_redeemed": gorm.Expr("quantity_redeemed + 1"),
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOutOfStock
		}

		redemption = &Redemption{
			ID:            s.node.Generate().String(),
			RewardID:      p.RewardID,
			UserID:        p.UserID,
			PaymentMethod: p.PaymentMethod,
			XPCharged:     xpCharged,
			CashCharged:   cashCharged,
		}

		if xpCharged > 0 {
			if err := s.ledger.DebitTx(ctx, tx, ledger.DebitParams{
				UserID:  p.UserID,
				Amount:  xpCharged,
				Reason:  fmt.Sprintf("redeem reward %s", reward.Name),
				EventID: fmt.Sprintf("redeem:%s", redemption.ID),
			}); err != nil {
				return err
			}
		}

		return s.redemptions.WithTrx(tx).Create(ctx, redemption)
	})
	if err != nil {
		zap.L().With(opts...).Warn("redemption rejected", zap.Error(err))
		return nil, err
	}

	zap.L().With(opts...).Info("reward redeemed", zap.String("redemption_id", redemption.ID))

	if redemption.XPCharged > 0 {
		s.ledger.PublishBalance(ctx, p.UserID)
	}
	if reward, ferr := s.rewards.FindOne(ctx, &Reward{ID: p.RewardID}); ferr == nil && reward != nil {
		s.publish(notifier.EventUpdate, reward)
	}
	return redemption, nil
}

// Redemptions lists a user's claims.
func (s *Service) Redemptions(ctx context.Context, userID string) ([]*Redemption, error) {
	return s.redemptions.Find(ctx, &Redemption{UserID: userID})
}

func (s *Service) publish(eventType notifier.EventType, reward *Reward) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(TableRewards, eventType, reward.ID, reward)
}
