package campaign

import (
	"time"
)

// Campaign is a creator-run challenge. Completing it pays RewardXP once per
// participant.
type Campaign struct {
	ID          string    `gorm:"column:id;primaryKey"`
	CreatorID   string    `gorm:"column:creator_id;index;not null"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description;type:text"`
	Goal        int64     `gorm:"column:goal;not null"`
	RewardXP    int64     `gorm:"column:reward_xp;not null"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantCompleted ParticipantStatus = "completed"
)

// Participant tracks one user's progress in a campaign. The status column
// guards the completion payout: the active-to-completed transition happens
// at most once, so the reward credit fires at most once.
type Participant struct {
	ID         string            `gorm:"column:id;primaryKey"`
	CampaignID string            `gorm:"column:campaign_id;uniqueIndex:idx_campaign_user;not null"`
	UserID     string            `gorm:"column:user_id;uniqueIndex:idx_campaign_user;not null"`
	Progress   int64             `gorm:"column:progress;not null;default:0"`
	Status     ParticipantStatus `gorm:"column:status;type:varchar(10);not null;default:active"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at"`
}

func (Participant) TableName() string { return "campaign_participants" }
