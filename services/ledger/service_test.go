package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fanpulse-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Balance{}, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreditIncreasesBothFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 250, Reason: "campaign completion", EventID: "evt-1"}))
	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 50, Reason: "share", EventID: "evt-2"}))

	current, lifetime, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), current)
	require.Equal(t, int64(300), lifetime)
}

func TestCreditIdempotentPerEventID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 100, Reason: "campaign completion", EventID: "campaign:part-1"}))
	}

	current, lifetime, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), current)
	require.Equal(t, int64(100), lifetime)

	entries, err := svc.Entries(ctx, "fan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(t)

	require.Error(t, svc.Credit(context.Background(), CreditParams{UserID: "fan-1", Amount: 0, EventID: "evt-0"}))
	require.Error(t, svc.Credit(context.Background(), CreditParams{UserID: "fan-1", Amount: -5, EventID: "evt-neg"}))
}

func TestDebitReducesCurrentOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 500, EventID: "evt-1"}))
	require.NoError(t, svc.Debit(ctx, DebitParams{UserID: "fan-1", Amount: 200, Reason: "message toll"}))

	current, lifetime, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), current)
	require.Equal(t, int64(500), lifetime)
}

func TestDebitInsufficientBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 50, EventID: "evt-1"}))

	err := svc.Debit(ctx, DebitParams{UserID: "fan-1", Amount: 100})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	current, _, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(50), current)
}

func TestDebitUnknownUserInsufficient(t *testing.T) {
	svc := newTestService(t)

	err := svc.Debit(context.Background(), DebitParams{UserID: "nobody", Amount: 1})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestDebitZeroIsNoOp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 10, EventID: "evt-1"}))
	require.NoError(t, svc.Debit(ctx, DebitParams{UserID: "fan-1", Amount: 0}))

	current, _, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), current)

	entries, err := svc.Entries(ctx, "fan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetDefaultsToZero(t *testing.T) {
	svc := newTestService(t)

	current, lifetime, err := svc.Get(context.Background(), "never-earned")
	require.NoError(t, err)
	require.Zero(t, current)
	require.Zero(t, lifetime)
}

func TestConcurrentCreditsAndDebitsConserveBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 1000, EventID: "seed"}))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var debited int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 10}); err != nil {
				t.Errorf("credit: %v", err)
			}
			if err := svc.Debit(ctx, DebitParams{UserID: "fan-1", Amount: 5}); err == nil {
				mu.Lock()
				debited += 5
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	current, lifetime, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000+workers*10)-debited, current)
	require.Equal(t, int64(1000+workers*10), lifetime)
	require.GreaterOrEqual(t, current, int64(0))
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, CreditParams{UserID: "fan-1", Amount: 30, EventID: "seed"}))

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Debit(ctx, DebitParams{UserID: "fan-1", Amount: 10}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, successes)

	current, _, err := svc.Get(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), current)
}
