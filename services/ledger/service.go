package ledger

import (
	"context"
	"encoding/json"
	"time"

	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/db/option"
	"fanpulse-engine/pkg/errutil"
	"fanpulse-engine/pkg/notifier"
	"fanpulse-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TableBalances is the notifier channel for balance row changes.
const TableBalances = "xp_balances"

var ErrInsufficientBalance = errutil.UnprocessableEntity("insufficient xp balance", nil)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	notifier *notifier.Notifier

	balances repository.Repository[Balance]
	entries  repository.Repository[Entry]
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

		balances: repository.ProvideStore[Balance](p.DB),
		entries:  repository.ProvideStore[Entry](p.DB),
	}
}

type CreditParams struct {
	UserID   string
	Amount   int64
	Reason   string
	EventID  string
	Metadata map[string]string
}

type DebitParams struct {
	UserID  string
	Amount  int64
	Reason  string
	EventID string
}

// Credit increases both current and lifetime XP in its own transaction.
// Replaying the same EventID is a success no-op.
func (s *Service) Credit(ctx context.Context, p CreditParams) error {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
		zap.String("event_id", p.EventID),
	}

	if err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		return s.CreditTx(ctx, tx, p)
	}); err != nil {
		zap.L().With(opts...).Error("failed to credit ledger", zap.Error(err))
		return err
	}

	s.PublishBalance(ctx, p.UserID)
	return nil
}

// CreditTx applies a credit inside a caller-owned transaction.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, p CreditParams) error {
	if p.Amount <= 0 {
		return errutil.BadRequest("credit amount must be > 0", nil)
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = s.node.Generate().String()
	}

	entriesTx := s.entries.WithTrx(tx)
	if exist, err := entriesTx.FindOne(ctx, &Entry{EventID: eventID}); err != nil {
		return err
	} else if exist != nil {
		zap.L().Warn("credit event already applied", zap.String("event_id", eventID))
		return nil
	}

	var meta datatypes.JSON
	if len(p.Metadata) > 0 {
		b, _ := json.Marshal(p.Metadata)
		meta = datatypes.JSON(b)
	}

	entry := &Entry{
		ID:       s.node.Generate().String(),
		UserID:   p.UserID,
		Type:     EntryCredit,
		Amount:   p.Amount,
		Reason:   p.Reason,
		EventID:  eventID,
		Metadata: meta,
	}
	if err := entriesTx.Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err) {
			// lost the insert race against a concurrent replay of the
			// same event; the credit is already applied
			zap.L().Warn("credit event already applied", zap.String("event_id", eventID))
			return nil
		}
		return err
	}

	return s.incrementBalance(ctx, tx, p.UserID, p.Amount)
}

func (s *Service) incrementBalance(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	updates := map[string]any{
		"current_xp":      gorm.Expr("current_xp + ?", amount),
		"total_earned_xp": gorm.Expr("total_earned_xp + ?", amount),
		"updated_at":      time.Now(),
	}

	res := tx.WithContext(ctx).Model(&Balance{}).Where("user_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// first earning event for this user
	if err := s.balances.WithTrx(tx).Create(ctx, &Balance{
		ID:            s.node.Generate().String(),
		UserID:        userID,
		CurrentXP:     amount,
		TotalEarnedXP: amount,
	}); err != nil {
		if db.IsUniqueViolation(err) {
			// row appeared under us; fall back to the increment
			return tx.WithContext(ctx).Model(&Balance{}).Where("user_id = ?", userID).Updates(updates).Error
		}
		return err
	}
	return nil
}

// Debit decreases current XP only, in its own transaction. It fails with
// ErrInsufficientBalance rather than ever driving the balance negative.
func (s *Service) Debit(ctx context.Context, p DebitParams) error {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
	}

	if err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		return s.DebitTx(ctx, tx, p)
	}); err != nil {
		zap.L().With(opts...).Warn("failed to debit ledger", zap.Error(err))
		return err
	}

	s.PublishBalance(ctx, p.UserID)
	return nil
}

// DebitTx applies a debit inside a caller-owned transaction so the debit
// commits iff the action it pays for commits. A zero amount is a no-op so
// toll-free paths can call it unconditionally.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, p DebitParams) error {
	if p.Amount < 0 {
		return errutil.BadRequest("debit amount must be >= 0", nil)
	}
	if p.Amount == 0 {
		return nil
	}

	// guard and decrement in one statement; a missing row counts as a
	// zero balance
	res := tx.WithContext(ctx).Model(&Balance{}).
		Where("user_id = ? AND current_xp >= ?", p.UserID, p.Amount).
		Updates(map[string]any{
			"current_xp": gorm.Expr("current_xp - ?", p.Amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = s.node.Generate().String()
	}

	return s.entries.WithTrx(tx).Create(ctx, &Entry{
		ID:      s.node.Generate().String(),
		UserID:  p.UserID,
		Type:    EntryDebit,
		Amount:  p.Amount,
		Reason:  p.Reason,
		EventID: eventID,
	})
}

// Get returns (current, lifetime) XP, defaulting to (0, 0) for users who
// have never earned.
func (s *Service) Get(ctx context.Context, userID string) (int64, int64, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{UserID: userID})
	if err != nil {
		return 0, 0, err
	}
	if balance == nil {
		return 0, 0, nil
	}
	return balance.CurrentXP, balance.TotalEarnedXP, nil
}

// Entries lists a user's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, userID string) ([]*Entry, error) {
	return s.entries.Find(ctx, &Entry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(500),
	)
}

// PublishBalance emits the user's current balance row as a change event.
// Credit and Debit call it themselves; callers composing CreditTx/DebitTx
// into their own transactions must call it after commit, so that events are
// never emitted for writes that rolled back.
func (s *Service) PublishBalance(ctx context.Context, userID string) {
	if s.notifier == nil {
		return
	}
	balance, err := s.balances.FindOne(ctx, &Balance{UserID: userID})
	if err != nil || balance == nil {
		return
	}
	s.notifier.Publish(TableBalances, notifier.EventUpdate, userID, balance)
}
