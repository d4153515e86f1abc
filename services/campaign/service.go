package campaign

import (
	"context"
	"fmt"
	"time"

	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/errutil"
	"fanpulse-engine/pkg/repository"
	"fanpulse-engine/services/ledger"
	"fanpulse-engine/services/ranking"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrCampaignNotFound = errutil.NotFound("campaign not found", nil)
	ErrCampaignInactive = errutil.UnprocessableEntity("campaign is not active", nil)
	ErrNotParticipating = errutil.NotFound("user is not participating in this campaign", nil)
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	ledger  *ledger.Service
	ranking *ranking.Service

	campaigns    repository.Repository[Campaign]
	participants repository.Repository[Participant]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Ledger  *ledger.Service
	Ranking *ranking.Service `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		ledger:  p.Ledger,
		ranking: p.Ranking,

		campaigns:    repository.ProvideStore[Campaign](p.DB),
		participants: repository.ProvideStore[Participant](p.DB),
	}
}

type CreateCampaignParams struct {
	CreatorID   string
	Name        string
	Description string
	Goal        int64
	RewardXP    int64
}

func (s *Service) CreateCampaign(ctx context.Context, p CreateCampaignParams) (*Campaign, error) {
	if p.Goal <= 0 {
		return nil, errutil.BadRequest("campaign goal must be > 0", nil)
	}
	if p.RewardXP < 0 {
		return nil, errutil.BadRequest("reward xp must be >= 0", nil)
	}

	campaign := &Campaign{
		ID:          s.node.Generate().String(),
		CreatorID:   p.CreatorID,
		Name:        p.Name,
		Description: p.Description,
		Goal:        p.Goal,
		RewardXP:    p.RewardXP,
		IsActive:    true,
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	campaign, err := s.campaigns.FindOne(ctx, &Campaign{ID: campaignID})
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context, creatorID string) ([]*Campaign, error) {
	return s.campaigns.Find(ctx, &Campaign{CreatorID: creatorID})
}

// Join enrolls a user. Re-joining is a success no-op and never resets
// progress.
func (s *Service) Join(ctx context.Context, campaignID, userID string) error {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.IsActive {
		return ErrCampaignInactive
	}

	err = s.participants.Create(ctx, &Participant{
		ID:         s.node.Generate().String(),
		CampaignID: campaignID,
		UserID:     userID,
		Status:     ParticipantActive,
	})
	if err != nil && db.IsUniqueViolation(err) {
		return nil
	}
	return err
}

// UpdateProgress advances a participant and pays the completion reward when
// the goal is reached. The payout is keyed to the participant row, so
// replays and duplicate completion signals credit at most once.
func (s *Service) UpdateProgress(ctx context.Context, campaignID, userID string, delta int64) (*Participant, error) {
	if delta <= 0 {
		return nil, errutil.BadRequest("progress delta must be > 0", nil)
	}

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive {
		return nil, ErrCampaignInactive
	}

	var participant *Participant
	completed := false
	err = db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		completed = false

		res := tx.WithContext(ctx).Model(&Participant{}).
			Where("campaign_id = ? AND user_id = ?", campaignID, userID).
			Updates(map[string]any{
				"progress":   gorm.Expr("progress + ?", delta),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotParticipating
		}

		var err error
		participant, err = s.participants.WithTrx(tx).FindOne(ctx, &Participant{
			CampaignID: campaignID,
			UserID:     userID,
		})
		if err != nil {
			return err
		}

		if participant.Progress < campaign.Goal || participant.Status != ParticipantActive {
			return nil
		}

		// the status guard makes the payout single-shot even when two
		// progress updates cross the goal concurrently
		res = tx.WithContext(ctx).Model(&Participant{}).
			Where("id = ? AND status = ?", participant.ID, ParticipantActive).
			Updates(map[string]any{"status": ParticipantCompleted, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		participant.Status = ParticipantCompleted
		completed = true

		if campaign.RewardXP > 0 {
			return s.ledger.CreditTx(ctx, tx, ledger.CreditParams{
				UserID:  userID,
				Amount:  campaign.RewardXP,
				Reason:  fmt.Sprintf("completed campaign %s", campaign.Name),
				EventID: fmt.Sprintf("campaign:%s", participant.ID),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		zap.L().Info("campaign completed",
			zap.String("campaign_id", campaignID),
			zap.String("user_id", userID))

		if campaign.RewardXP > 0 {
			s.ledger.PublishBalance(ctx, userID)
		}

		if s.ranking != nil && campaign.RewardXP > 0 {
			if err := s.ranking.RecordActivity(ctx, ranking.RecordActivityParams{
				CreatorID: campaign.CreatorID,
				FanID:     userID,
				Kind:      ranking.ActivityXP,
				Amount:    campaign.RewardXP,
			}); err != nil {
				zap.L().Warn("failed to record campaign activity", zap.Error(err))
			}
		}
	}
	return participant, nil
}

// Progress returns a user's participant row.
func (s *Service) Progress(ctx context.Context, campaignID, userID string) (*Participant, error) {
	participant, err := s.participants.FindOne(ctx, &Participant{CampaignID: campaignID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipating
	}
	return participant, nil
}

// Close deactivates a campaign so no further progress is accepted.
func (s *Service) Close(ctx context.Context, campaignID string) error {
	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}
