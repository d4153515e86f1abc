package messaging

import (
	"context"
	"fmt"
	"time"

	"fanpulse-engine/pkg/config"
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

// TableMessages is the notifier channel for message row changes.
const TableMessages = "messages"

var (
	ErrMessageNotFound      = errutil.NotFound("message not found", nil)
	ErrMessageNotPending    = errutil.UnprocessableEntity("message is not pending", nil)
	ErrPendingMessageExists = errutil.Conflict("a pending message to this recipient already exists", nil)
	ErrSelfMessage          = errutil.BadRequest("cannot message yourself", nil)
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	notifier *notifier.Notifier
	ledger   *ledger.Service

	follows  repository.Repository[FollowEdge]
	messages repository.Repository[Message]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Ledger   *ledger.Service
	Notifier *notifier.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config,
		notifier: p.Notifier,
		ledger:   p.Ledger,

		follows:  repository.ProvideStore[FollowEdge](p.DB),
		messages: repository.ProvideStore[Message](p.DB),
	}
}

// Follow records a follow edge. Re-following is a success no-op.
func (s *Service) Follow(ctx context.Context, followerID, creatorID string) error {
	if followerID == creatorID {
		return errutil.BadRequest("cannot follow yourself", nil)
	}
	err := s.follows.Create(ctx, &FollowEdge{
		ID:         s.node.Generate().String(),
		FollowerID: followerID,
		CreatorID:  creatorID,
	})
	if err != nil && db.IsUniqueViolation(err) {
		return nil
	}
	return err
}

// Unfollow removes a follow edge. Messages already sent keep the cost they
// were charged.
func (s *Service) Unfollow(ctx context.Context, followerID, creatorID string) error {
	return s.db.WithContext(ctx).
		Where("follower_id = ? AND creator_id = ?", followerID, creatorID).
		Delete(&FollowEdge{}).Error
}

// ComputeCost resolves the toll for a message from sender to recipient at
// this moment: free if a follow edge exists in either direction, otherwise
// the configured tariff.
func (s *Service) ComputeCost(ctx context.Context, senderID, recipientID string) (int64, error) {
	return s.computeCost(ctx, s.db, senderID, recipientID)
}

func (s *Service) computeCost(ctx context.Context, tx *gorm.DB, senderID, recipientID string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&FollowEdge{}).
		Where("(follower_id = ? AND creator_id = ?) OR (follower_id = ? AND creator_id = ?)",
			senderID, recipientID, recipientID, senderID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	return s.cfg.Engine.MessageTariff, nil
}

type SendParams struct {
	SenderID    string
	RecipientID string
	Content     string
}

// Send charges the toll and creates a pending message in one transaction, so
// a fan is never charged for a message that was rejected and never gets a
// free message that was charged for. Only one pending message per
// sender/recipient pair is allowed at a time.
func (s *Service) Send(ctx context.Context, p SendParams) (*Message, error) {
	if p.SenderID == p.RecipientID {
		return nil, ErrSelfMessage
	}
	if p.Content == "" {
		return nil, errutil.BadRequest("message content is required", nil)
	}

	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("sender_id", p.SenderID),
		zap.String("recipient_id", p.RecipientID),
	}

	var message *Message
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		pending, err := s.messages.WithTrx(tx).FindOne(ctx, &Message{
			SenderID:    p.SenderID,
			RecipientID: p.RecipientID,
			Status:      MessagePending,
		}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if pending != nil {
			return ErrPendingMessageExists
		}

		cost, err := s.computeCost(ctx, tx, p.SenderID, p.RecipientID)
		if err != nil {
			return err
		}

		message = &Message{
			ID:          s.node.Generate().String(),
			SenderID:    p.SenderID,
			RecipientID: p.RecipientID,
			Content:     p.Content,
			XPCost:      cost,
			Status:      MessagePending,
			PendingKey:  pendingKey(p.SenderID, p.RecipientID),
		}

		if err := s.ledger.DebitTx(ctx, tx, ledger.DebitParams{
			UserID:  p.SenderID,
			Amount:  cost,
			Reason:  "message toll",
			EventID: fmt.Sprintf("msg:%s", message.ID),
		}); err != nil {
			return err
		}

		if err := s.messages.WithTrx(tx).Create(ctx, message); err != nil {
			// the pre-check read takes no lock on an absent row, so two
			// concurrent sends can both pass it; the pending_key index is
			// the authoritative guard and rolls the debit back with us
			if db.IsUniqueViolation(err) {
				return ErrPendingMessageExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		zap.L().With(opts...).Warn("message rejected", zap.Error(err))
		return nil, err
	}

	zap.L().With(opts...).Info("message sent",
		zap.String("message_id", message.ID),
		zap.Int64("xp_cost", message.XPCost))

	if message.XPCost > 0 {
		s.ledger.PublishBalance(ctx, p.SenderID)
	}
	s.publish(notifier.EventInsert, message)
	return message, nil
}

// Approve moves a pending message to approved. The toll is kept.
func (s *Service) Approve(ctx context.Context, messageID string) error {
	if err := s.transition(ctx, s.db, messageID, MessageApproved); err != nil {
		return err
	}
	s.publishByID(ctx, messageID)
	return nil
}

// Deny moves a pending message to denied. When refunds are enabled the toll
// is credited back in the same transaction, keyed to the message so retries
// can never refund twice.
func (s *Service) Deny(ctx context.Context, messageID string) error {
	var refundedSender string
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		refundedSender = ""

		message, err := s.messages.WithTrx(tx).FindOne(ctx, &Message{ID: messageID})
		if err != nil {
			return err
		}
		if message == nil {
			return ErrMessageNotFound
		}

		if err := s.transition(ctx, tx, messageID, MessageDenied); err != nil {
			return err
		}

		if s.cfg.Engine.RefundDeniedMessages && message.XPCost > 0 {
			refundedSender = message.SenderID
			return s.ledger.CreditTx(ctx, tx, ledger.CreditParams{
				UserID:  message.SenderID,
				Amount:  message.XPCost,
				Reason:  "message toll refund",
				EventID: fmt.Sprintf("msg-refund:%s", message.ID),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if refundedSender != "" {
		s.ledger.PublishBalance(ctx, refundedSender)
	}
	s.publishByID(ctx, messageID)
	return nil
}

func pendingKey(senderID, recipientID string) *string {
	key := senderID + ":" + recipientID
	return &key
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, messageID string, to MessageStatus) error {
	res := tx.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", messageID, MessagePending).
		Updates(map[string]any{"status": to, "pending_key": nil, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		exist, err := s.messages.WithTrx(tx).FindOne(ctx, &Message{ID: messageID})
		if err != nil {
			return err
		}
		if exist == nil {
			return ErrMessageNotFound
		}
		return ErrMessageNotPending
	}
	return nil
}

// Inbox lists messages addressed to a recipient, newest first.
func (s *Service) Inbox(ctx context.Context, recipientID string) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at desc").
		Find(&messages).Error
	return messages, err
}

func (s *Service) publish(eventType notifier.EventType, message *Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(TableMessages, eventType, message.ID, message)
}

func (s *Service) publishByID(ctx context.Context, messageID string) {
	if s.notifier == nil {
		return
	}
	message, err := s.messages.FindOne(ctx, &Message{ID: messageID})
	if err != nil || message == nil {
		return
	}
	s.publish(notifier.EventUpdate, message)
}
