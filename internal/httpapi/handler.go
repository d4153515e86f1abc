package httpapi

import (
	"net/http"
	"strconv"

	"fanpulse-engine/pkg/config"
	"fanpulse-engine/pkg/errutil"
	"fanpulse-engine/services/campaign"
	"fanpulse-engine/services/ledger"
	"fanpulse-engine/services/messaging"
	"fanpulse-engine/services/ranking"
	"fanpulse-engine/services/reward"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
)

type Handler struct {
	ledger    *ledger.Service
	reward    *reward.Service
	messaging *messaging.Service
	ranking   *ranking.Service
	campaign  *campaign.Service
}

type Params struct {
	fx.In
	Config    *config.Config
	Ledger    *ledger.Service
	Reward    *reward.Service
	Messaging *messaging.Service
	Ranking   *ranking.Service
	Campaign  *campaign.Service
}

// NewHandler builds the engine's HTTP surface. The caller identity comes
// from the X-User-ID header, which the API gateway in front of this service
// sets after authentication.
func NewHandler(p Params) http.Handler {
	h := &Handler{
		ledger:    p.Ledger,
		reward:    p.Reward,
		messaging: p.Messaging,
		ranking:   p.Ranking,
		campaign:  p.Campaign,
	}

	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", requireUser)
	{
		v1.GET("/balance", h.getBalance)
		v1.GET("/ledger/entries", h.listEntries)

		v1.POST("/rewards", h.createReward)
		v1.GET("/rewards", h.listRewards)
		v1.GET("/rewards/:id", h.getReward)
		v1.PATCH("/rewards/:id/active", h.setRewardActive)
		v1.POST("/rewards/:id/redeem", h.redeem)
		v1.GET("/redemptions", h.listRedemptions)

		v1.POST("/follows/:creator_id", h.follow)
		v1.DELETE("/follows/:creator_id", h.unfollow)

		v1.POST("/messages", h.sendMessage)
		v1.GET("/messages/inbox", h.inbox)
		v1.GET("/messages/cost/:recipient_id", h.messageCost)
		v1.POST("/messages/:id/approve", h.approveMessage)
		v1.POST("/messages/:id/deny", h.denyMessage)

		v1.POST("/activity", h.recordActivity)
		v1.GET("/leaderboards/global", h.globalLeaderboard)
		v1.GET("/leaderboards/rank", h.userRank)
		v1.GET("/creators/:creator_id/leaderboards/:category", h.creatorLeaderboard)

		v1.POST("/campaigns", h.createCampaign)
		v1.GET("/campaigns", h.listCampaigns)
		v1.GET("/campaigns/:id", h.getCampaign)
		v1.POST("/campaigns/:id/join", h.joinCampaign)
		v1.POST("/campaigns/:id/progress", h.updateProgress)
		v1.GET("/campaigns/:id/progress", h.getProgress)
		v1.POST("/campaigns/:id/close", h.closeCampaign)
	}

	return r
}

const userIDKey = "user_id"

func requireUser(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		abortErr(c, errutil.Unauthorized("missing X-User-ID header", nil))
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func callerID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func abortErr(c *gin.Context, err error) {
	status, body := errutil.ToHTTP(err)
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) getBalance(c *gin.Context) {
	current, lifetime, err := h.ledger.Get(c.Request.Context(), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":         callerID(c),
		"current_xp":      current,
		"total_earned_xp": lifetime,
	})
}

func (h *Handler) listEntries(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context(), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type createRewardRequest struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	QuantityAvailable int64  `json:"quantity_available"`
	XPCost            *int64 `json:"xp_cost"`
	CashPrice         *int64 `json:"cash_price"`
}

func (h *Handler) createReward(c *gin.Context) {
	var req createRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.reward.CreateReward(c.Request.Context(), reward.CreateRewardParams{
		CreatorID:         callerID(c),
		Name:              req.Name,
		Description:       req.Description,
		QuantityAvailable: req.QuantityAvailable,
		XPCost:            req.XPCost,
		CashPrice:         req.CashPrice,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listRewards(c *gin.Context) {
	creatorID := c.Query("creator_id")
	if creatorID == "" {
		creatorID = callerID(c)
	}
	onlyActive := c.Query("active") == "true"
	rewards, err := h.reward.ListRewards(c.Request.Context(), creatorID, onlyActive)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": rewards})
}

func (h *Handler) getReward(c *gin.Context) {
	found, err := h.reward.GetReward(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) setRewardActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}
	if err := h.reward.SetActive(c.Request.Context(), c.Param("id"), req.Active); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type redeemRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

func (h *Handler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	redemption, err := h.reward.Redeem(c.Request.Context(), reward.RedeemParams{
		UserID:        callerID(c),
		RewardID:      c.Param("id"),
		PaymentMethod: reward.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, redemption)
}

func (h *Handler) listRedemptions(c *gin.Context) {
	redemptions, err := h.reward.Redemptions(c.Request.Context(), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": redemptions})
}

func (h *Handler) follow(c *gin.Context) {
	if err := h.messaging.Follow(c.Request.Context(), callerID(c), c.Param("creator_id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unfollow(c *gin.Context) {
	if err := h.messaging.Unfollow(c.Request.Context(), callerID(c), c.Param("creator_id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	message, err := h.messaging.Send(c.Request.Context(), messaging.SendParams{
		SenderID:    callerID(c),
		RecipientID: req.RecipientID,
		Content:     req.Content,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *Handler) inbox(c *gin.Context) {
	messages, err := h.messaging.Inbox(c.Request.Context(), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) messageCost(c *gin.Context) {
	cost, err := h.messaging.ComputeCost(c.Request.Context(), callerID(c), c.Param("recipient_id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"xp_cost": cost})
}

func (h *Handler) approveMessage(c *gin.Context) {
	if err := h.messaging.Approve(c.Request.Context(), c.Param("id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) denyMessage(c *gin.Context) {
	if err := h.messaging.Deny(c.Request.Context(), c.Param("id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type recordActivityRequest struct {
	CreatorID string `json:"creator_id" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
	Amount    int64  `json:"amount"`
}

func (h *Handler) recordActivity(c *gin.Context) {
	var req recordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	err := h.ranking.RecordActivity(c.Request.Context(), ranking.RecordActivityParams{
		CreatorID: req.CreatorID,
		FanID:     callerID(c),
		Kind:      ranking.ActivityKind(req.Kind),
		Amount:    req.Amount,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) globalLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ranks, err := h.ranking.GlobalLeaderboard(c.Request.Context(), limit)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": ranks})
}

func (h *Handler) userRank(c *gin.Context) {
	rank, err := h.ranking.UserRank(c.Request.Context(), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	if rank == nil {
		abortErr(c, errutil.NotFound("user is not ranked yet", nil))
		return
	}
	c.JSON(http.StatusOK, rank)
}

func (h *Handler) creatorLeaderboard(c *gin.Context) {
	ranks, err := h.ranking.CreatorLeaderboard(
		c.Request.Context(),
		c.Param("creator_id"),
		ranking.ActivityKind(c.Param("category")),
	)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": ranks})
}

type createCampaignRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Goal        int64  `json:"goal"`
	RewardXP    int64  `json:"reward_xp"`
}

func (h *Handler) createCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.campaign.CreateCampaign(c.Request.Context(), campaign.CreateCampaignParams{
		CreatorID:   callerID(c),
		Name:        req.Name,
		Description: req.Description,
		Goal:        req.Goal,
		RewardXP:    req.RewardXP,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listCampaigns(c *gin.Context) {
	creatorID := c.Query("creator_id")
	if creatorID == "" {
		creatorID = callerID(c)
	}
	campaigns, err := h.campaign.ListCampaigns(c.Request.Context(), creatorID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (h *Handler) getCampaign(c *gin.Context) {
	found, err := h.campaign.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *Handler) joinCampaign(c *gin.Context) {
	if err := h.campaign.Join(c.Request.Context(), c.Param("id"), callerID(c)); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type progressRequest struct {
	Delta int64 `json:"delta"`
}

func (h *Handler) updateProgress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errutil.BadRequest("invalid request body", err))
		return
	}

	participant, err := h.campaign.UpdateProgress(c.Request.Context(), c.Param("id"), callerID(c), req.Delta)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func (h *Handler) getProgress(c *gin.Context) {
	participant, err := h.campaign.Progress(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func (h *Handler) closeCampaign(c *gin.Context) {
	if err := h.campaign.Close(c.Request.Context(), c.Param("id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
