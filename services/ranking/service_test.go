package ranking

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fanpulse-engine/services/ledger"
	"fanpulse-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &ActivityEvent{}, &GlobalRank{}, &CreatorRank{}, &ledger.Balance{}, &ledger.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	return NewService(ServiceParams{DB: db, Node: node}), ledgerSvc
}

func TestRecordActivityValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.Error(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "c", FanID: "f", Kind: "dance", Amount: 1}))
	require.Error(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "c", FanID: "f", Kind: ActivityListen, Amount: 0}))
}

func TestGlobalLeaderboardOrderAndTiers(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	seed := map[string]int64{
		"fan-bronze":   400,
		"fan-silver":   1500,
		"fan-gold":     3000,
		"fan-platinum": 7000,
		"fan-diamond":  12000,
	}
	for user, amount := range seed {
		require.NoError(t, ledgerSvc.Credit(ctx, ledger.CreditParams{UserID: user, Amount: amount, EventID: "seed:" + user}))
	}

	require.NoError(t, svc.RecomputeGlobal(ctx))

	ranks, err := svc.GlobalLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ranks, 5)

	require.Equal(t, "fan-diamond", ranks[0].UserID)
	require.Equal(t, TierDiamond, ranks[0].Tier)
	require.Equal(t, int64(1), ranks[0].RankPosition)

	require.Equal(t, "fan-platinum", ranks[1].UserID)
	require.Equal(t, TierPlatinum, ranks[1].Tier)
	require.Equal(t, "fan-gold", ranks[2].UserID)
	require.Equal(t, TierGold, ranks[2].Tier)
	require.Equal(t, "fan-silver", ranks[3].UserID)
	require.Equal(t, TierSilver, ranks[3].Tier)
	require.Equal(t, "fan-bronze", ranks[4].UserID)
	require.Equal(t, TierBronze, ranks[4].Tier)

	for i, rank := range ranks {
		require.Equal(t, int64(i+1), rank.RankPosition)
	}
}

func TestGlobalLeaderboardTieBreakDeterministic(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	for _, user := range []string{"fan-b", "fan-a", "fan-c"} {
		require.NoError(t, ledgerSvc.Credit(ctx, ledger.CreditParams{UserID: user, Amount: 1000, EventID: "seed:" + user}))
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecomputeGlobal(ctx))

		ranks, err := svc.GlobalLeaderboard(ctx, 10)
		require.NoError(t, err)
		require.Len(t, ranks, 3)
		require.Equal(t, "fan-a", ranks[0].UserID)
		require.Equal(t, "fan-b", ranks[1].UserID)
		require.Equal(t, "fan-c", ranks[2].UserID)
	}
}

func TestGlobalLeaderboardReflectsDebitsInTier(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, ledgerSvc.Credit(ctx, ledger.CreditParams{UserID: "fan-1", Amount: 600, EventID: "seed"}))
	require.NoError(t, ledgerSvc.Debit(ctx, ledger.DebitParams{UserID: "fan-1", Amount: 550}))

	require.NoError(t, svc.RecomputeGlobal(ctx))

	rank, err := svc.UserRank(ctx, "fan-1")
	require.NoError(t, err)
	require.NotNil(t, rank)

	// tiers follow lifetime earnings, not spendable balance
	require.Equal(t, int64(600), rank.TotalXP)
	require.Equal(t, TierSilver, rank.Tier)
}

func TestCreatorLeaderboardPerCategory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-1", Kind: ActivityListen, Amount: 30}))
	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-1", Kind: ActivityListen, Amount: 20}))
	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-2", Kind: ActivityListen, Amount: 40}))
	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-2", Kind: ActivityPurchase, Amount: 3}))

	require.NoError(t, svc.RecomputeCreator(ctx, "creator-1"))

	listens, err := svc.CreatorLeaderboard(ctx, "creator-1", ActivityListen)
	require.NoError(t, err)
	require.Len(t, listens, 2)
	require.Equal(t, "fan-1", listens[0].FanID)
	require.Equal(t, int64(50), listens[0].Total)
	require.Equal(t, int64(1), listens[0].RankPosition)
	require.Equal(t, "fan-2", listens[1].FanID)
	require.Equal(t, int64(40), listens[1].Total)

	// only fans with activity in a category appear in it
	purchases, err := svc.CreatorLeaderboard(ctx, "creator-1", ActivityPurchase)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, "fan-2", purchases[0].FanID)

	shares, err := svc.CreatorLeaderboard(ctx, "creator-1", ActivityShare)
	require.NoError(t, err)
	require.Empty(t, shares)
}

func TestCreatorLeaderboardIsolatedPerCreator(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-1", Kind: ActivityShare, Amount: 5}))
	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-2", FanID: "fan-1", Kind: ActivityShare, Amount: 9}))

	require.NoError(t, svc.RebuildAll(ctx))

	one, err := svc.CreatorLeaderboard(ctx, "creator-1", ActivityShare)
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, int64(5), one[0].Total)

	two, err := svc.CreatorLeaderboard(ctx, "creator-2", ActivityShare)
	require.NoError(t, err)
	require.Len(t, two, 1)
	require.Equal(t, int64(9), two[0].Total)
}

func TestCreatorLeaderboardUnknownCategory(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatorLeaderboard(context.Background(), "creator-1", ActivityKind("dance"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestRecomputeCreatorRepeatedIsStable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-b", Kind: ActivityXP, Amount: 10}))
	require.NoError(t, svc.RecordActivity(ctx, RecordActivityParams{CreatorID: "creator-1", FanID: "fan-a", Kind: ActivityXP, Amount: 10}))

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecomputeCreator(ctx, "creator-1"))

		ranks, err := svc.CreatorLeaderboard(ctx, "creator-1", ActivityXP)
		require.NoError(t, err)
		require.Len(t, ranks, 2)
		require.Equal(t, "fan-a", ranks[0].FanID)
		require.Equal(t, "fan-b", ranks[1].FanID)
	}
}

func TestUserRankUnranked(t *testing.T) {
	svc, _ := newTestService(t)

	rank, err := svc.UserRank(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rank)
}
