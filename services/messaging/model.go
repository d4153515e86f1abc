package messaging

import (
	"time"
)

// FollowEdge is a directed follow relationship. Toll exemption treats the
// edge as undirected: either direction between two users waives the tariff.
type FollowEdge struct {
	ID         string    `gorm:"column:id;primaryKey"`
	FollowerID string    `gorm:"column:follower_id;uniqueIndex:idx_follow_pair;not null"`
	CreatorID  string    `gorm:"column:creator_id;uniqueIndex:idx_follow_pair;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (FollowEdge) TableName() string { return "follow_edges" }

type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageApproved MessageStatus = "approved"
	MessageDenied   MessageStatus = "denied"
)

// Message records a fan-to-creator message and the toll charged when it was
// sent. XPCost stays on the row so a later refund pays back exactly what was
// charged, even if the tariff changes in between.
type Message struct {
	ID          string        `gorm:"column:id;primaryKey"`
	SenderID    string        `gorm:"column:sender_id;index;not null"`
	RecipientID string        `gorm:"column:recipient_id;index;not null"`
	Content     string        `gorm:"column:content;type:text;not null"`
	XPCost      int64         `gorm:"column:xp_cost;not null;default:0"`
	Status      MessageStatus `gorm:"column:status;type:varchar(10);not null;default:pending"`
	// PendingKey holds "<sender>:<recipient>" while the message is pending
	// and is cleared on resolution. Its unique index is the database-level
	// guard for the one-pending-message-per-pair invariant; resolved rows
	// are NULL and never collide, which works on every supported dialect.
	PendingKey *string   `gorm:"column:pending_key;uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Message) TableName() string { return "messages" }
