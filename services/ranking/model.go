package ranking

import (
	"time"
)

type ActivityKind string

const (
	ActivityListen   ActivityKind = "listen"
	ActivityPurchase ActivityKind = "purchase"
	ActivityShare    ActivityKind = "share"
	ActivityXP       ActivityKind = "xp"
)

// Categories are the per-creator leaderboard dimensions, one per activity
// kind.
var Categories = []ActivityKind{ActivityListen, ActivityPurchase, ActivityShare, ActivityXP}

// ActivityEvent is the append-only raw feed the per-creator leaderboards are
// derived from. Rows are never mutated after insert.
type ActivityEvent struct {
	ID        string       `gorm:"column:id;primaryKey"`
	CreatorID string       `gorm:"column:creator_id;index;not null"`
	FanID     string       `gorm:"column:fan_id;index;not null"`
	Kind      ActivityKind `gorm:"column:kind;type:varchar(10);not null"`
	Amount    int64        `gorm:"column:amount;not null"`
	CreatedAt time.Time    `gorm:"column:created_at"`
}

func (ActivityEvent) TableName() string { return "activity_events" }

// GlobalRank is one row of the global leaderboard snapshot, rebuilt as a
// whole on recompute so readers always see a consistent ranking.
type GlobalRank struct {
	ID           string    `gorm:"column:id;primaryKey"`
	UserID       string    `gorm:"column:user_id;uniqueIndex;not null"`
	TotalXP      int64     `gorm:"column:total_xp;not null"`
	RankPosition int64     `gorm:"column:rank_position;not null"`
	Tier         Tier      `gorm:"column:tier;type:varchar(10);not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (GlobalRank) TableName() string { return "global_ranks" }

// CreatorRank is one row of a creator's category leaderboard snapshot. Fans
// with no activity in a category never get a row.
type CreatorRank struct {
	ID           string       `gorm:"column:id;primaryKey"`
	CreatorID    string       `gorm:"column:creator_id;uniqueIndex:idx_creator_fan_cat;not null"`
	FanID        string       `gorm:"column:fan_id;uniqueIndex:idx_creator_fan_cat;not null"`
	Category     ActivityKind `gorm:"column:category;type:varchar(10);uniqueIndex:idx_creator_fan_cat;not null"`
	Total        int64        `gorm:"column:total;not null"`
	RankPosition int64        `gorm:"column:rank_position;not null"`
	UpdatedAt    time.Time    `gorm:"column:updated_at"`
}

func (CreatorRank) TableName() string { return "creator_ranks" }
