package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fanpulse-engine/pkg/config"
	"fanpulse-engine/services/campaign"
	"fanpulse-engine/services/ledger"
	"fanpulse-engine/services/messaging"
	"fanpulse-engine/services/ranking"
	"fanpulse-engine/services/reward"
	"fanpulse-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	handler http.Handler
	ledger  *ledger.Service
	reward  *reward.Service
	ranking *ranking.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Balance{}, &ledger.Entry{},
		&reward.Reward{}, &reward.Redemption{},
		&messaging.FollowEdge{}, &messaging.Message{},
		&ranking.ActivityEvent{}, &ranking.GlobalRank{}, &ranking.CreatorRank{},
		&campaign.Campaign{}, &campaign.Participant{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engine.MessageTariff = config.DefaultMessageTariff

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	rewardSvc := reward.NewService(reward.ServiceParams{DB: db, Node: node, Ledger: ledgerSvc})
	messagingSvc := messaging.NewService(messaging.ServiceParams{DB: db, Node: node, Config: cfg, Ledger: ledgerSvc})
	rankingSvc := ranking.NewService(ranking.ServiceParams{DB: db, Node: node})
	campaignSvc := campaign.NewService(campaign.ServiceParams{DB: db, Node: node, Ledger: ledgerSvc, Ranking: rankingSvc})

	return &fixture{
		handler: NewHandler(Params{
			Config:    cfg,
			Ledger:    ledgerSvc,
			Reward:    rewardSvc,
			Messaging: messagingSvc,
			Ranking:   rankingSvc,
			Campaign:  campaignSvc,
		}),
		ledger:  ledgerSvc,
		reward:  rewardSvc,
		ranking: rankingSvc,
	}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingUserHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.Credit(ctx, ledger.CreditParams{UserID: "fan-1", Amount: 300, EventID: "seed"}))

	rec := f.do(t, http.MethodGet, "/v1/balance", "fan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CurrentXP     int64 `json:"current_xp"`
		TotalEarnedXP int64 `json:"total_earned_xp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(300), body.CurrentXP)
	require.Equal(t, int64(300), body.TotalEarnedXP)
}

func TestRedeemFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.Credit(ctx, ledger.CreditParams{UserID: "fan-1", Amount: 500, EventID: "seed"}))

	rec := f.do(t, http.MethodPost, "/v1/rewards", "creator-1", map[string]any{
		"name": "signed poster", "quantity_available": 1, "xp_cost": 200,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created reward.Reward
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/v1/rewards/"+created.ID+"/redeem", "fan-1", map[string]any{
		"payment_method": "xp",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// stock exhausted
	rec = f.do(t, http.MethodPost, "/v1/rewards/"+created.ID+"/redeem", "fan-1", map[string]any{
		"payment_method": "xp",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRedeemUnknownRewardIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/rewards/missing/redeem", "fan-1", map[string]any{
		"payment_method": "xp",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageInsufficientBalanceIs422(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages", "fan-1", map[string]any{
		"recipient_id": "creator-1", "content": "hi",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSendMessageConflictOnPending(t *testing.T) {
	f := newFixture(t)

	// following makes the message free, so no balance is needed
	rec := f.do(t, http.MethodPost, "/v1/follows/creator-1", "fan-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/messages", "fan-1", map[string]any{
		"recipient_id": "creator-1", "content": "first",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/messages", "fan-1", map[string]any{
		"recipient_id": "creator-1", "content": "second",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMessageCost(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/messages/cost/creator-1", "fan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		XPCost int64 `json:"xp_cost"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(100), body.XPCost)
}

func TestGlobalLeaderboardEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.Credit(ctx, ledger.CreditParams{UserID: "fan-1", Amount: 600, EventID: "seed"}))
	require.NoError(t, f.ranking.RecomputeGlobal(ctx))

	rec := f.do(t, http.MethodGet, "/v1/leaderboards/global?limit=10", "fan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Leaderboard []ranking.GlobalRank `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Leaderboard, 1)
	require.Equal(t, ranking.TierSilver, body.Leaderboard[0].Tier)
}

func TestRecordActivityAndCreatorLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/v1/activity", "fan-1", map[string]any{
		"creator_id": "creator-1", "kind": "listen", "amount": 25,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, f.ranking.RecomputeCreator(ctx, "creator-1"))

	rec = f.do(t, http.MethodGet, "/v1/creators/creator-1/leaderboards/listen", "fan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Leaderboard []ranking.CreatorRank `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Leaderboard, 1)
	require.Equal(t, int64(25), body.Leaderboard[0].Total)

	rec = f.do(t, http.MethodGet, "/v1/creators/creator-1/leaderboards/dance", "fan-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCampaignFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/campaigns", "creator-1", map[string]any{
		"name": "listen streak", "goal": 2, "reward_xp": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created campaign.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/v1/campaigns/"+created.ID+"/join", "fan-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/campaigns/"+created.ID+"/progress", "fan-1", map[string]any{"delta": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var participant campaign.Participant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &participant))
	require.Equal(t, campaign.ParticipantCompleted, participant.Status)

	rec = f.do(t, http.MethodGet, "/v1/balance", "fan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var balance struct {
		CurrentXP int64 `json:"current_xp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, int64(50), balance.CurrentXP)
}
