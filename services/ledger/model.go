package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// Balance is the per-user XP row. CurrentXP is spendable and never goes
// negative; TotalEarnedXP only ever grows. Rows are created lazily on the
// first earning event and never hard-deleted.
type Balance struct {
	ID            string    `gorm:"column:id;primaryKey"`
	UserID        string    `gorm:"column:user_id;uniqueIndex;not null"`
	CurrentXP     int64     `gorm:"column:current_xp;not null;default:0"`
	TotalEarnedXP int64     `gorm:"column:total_earned_xp;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "xp_balances" }

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Entry is an append-only ledger record. EventID carries the upstream
// event identity; its unique index is what makes credits idempotent under
// at-least-once delivery.
type Entry struct {
	ID        string         `gorm:"column:id;primaryKey"`
	UserID    string         `gorm:"column:user_id;index;not null"`
	Type      EntryType      `gorm:"column:type;type:varchar(10);not null"`
	Amount    int64          `gorm:"column:amount;not null"`
	Reason    string         `gorm:"column:reason;type:text"`
	EventID   string         `gorm:"column:event_id;uniqueIndex;not null"`
	Metadata  datatypes.JSON `gorm:"column:metadata"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Entry) TableName() string { return "xp_ledger_entries" }
