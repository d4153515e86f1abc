package reward

import (
	"time"
)

// Reward is a creator-owned perk with finite stock. XPCost and CashPrice are
// nullable; a nil price means the reward cannot be bought with that method.
type Reward struct {
	ID                string    `gorm:"column:id;primaryKey"`
	CreatorID         string    `gorm:"column:creator_id;index;not null"`
	Name              string    `gorm:"column:name;not null"`
	Description       string    `gorm:"column:description;type:text"`
	QuantityAvailable int64     `gorm:"column:quantity_available;not null"`
	QuantityRedeemed  int64     `gorm:"column:quantity_redeemed;not null;default:0"`
	XPCost            *int64    `gorm:"column:xp_cost"`
	CashPrice         *int64    `gorm:"column:cash_price"`
	IsActive          bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (Reward) TableName() string { return "rewards" }

// Remaining reports units still claimable.
func (r *Reward) Remaining() int64 { return r.QuantityAvailable - r.QuantityRedeemed }

type PaymentMethod string

const (
	PaymentXP   PaymentMethod = "xp"
	PaymentCash PaymentMethod = "cash"
)

// Redemption is an immutable claim record written in the same transaction
// that decrements stock.
type Redemption struct {
	ID            string        `gorm:"column:id;primaryKey"`
	RewardID      string        `gorm:"column:reward_id;index;not null"`
	UserID        string        `gorm:"column:user_id;index;not null"`
	PaymentMethod PaymentMethod `gorm:"column:payment_method;type:varchar(10);not null"`
	XPCharged     int64         `gorm:"column:xp_charged;not null;default:0"`
	CashCharged   int64         `gorm:"column:cash_charged;not null;default:0"`
	CreatedAt     time.Time     `gorm:"column:created_at"`
}

func (Redemption) TableName() string { return "reward_redemptions" }
