package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chitfund/chit"
	"chitfund/models"
)

// ActorHeader names the acting operator for audit entries.
const ActorHeader = "X-Actor"

func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.Use(BodyLimit(impl.maxBodySize))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(impl.registry, promhttp.HandlerOpts{})))

	groups := router.Group("/groups")
	groups.POST("", impl.PostGroup)
	groups.GET("", impl.GetGroups)
	groups.GET("/:groupID", impl.GetGroup)
	groups.POST("/:groupID/activate", impl.PostGroupActivate)
	groups.POST("/:groupID/advance", impl.PostGroupAdvance)
	groups.POST("/:groupID/close", impl.PostGroupClose)
	groups.POST("/:groupID/cancel", impl.PostGroupCancel)
	groups.POST("/:groupID/members", impl.PostGroupMember)
	groups.GET("/:groupID/members", impl.GetGroupMembers)
	groups.GET("/:groupID/cycles/:cycle/bidders", impl.GetCycleBidders)
	groups.GET("/:groupID/cycles/:cycle/summary", impl.GetCycleSummary)
	groups.GET("/:groupID/cycles/:cycle/payout", impl.GetCyclePayout)
	groups.POST("/:groupID/auctions", impl.PostGroupAuction)
	groups.GET("/:groupID/auctions", impl.GetGroupAuctions)
	groups.GET("/:groupID/audit", impl.GetGroupAudit)
	groups.GET("/:groupID/events", SSEHeadersMiddleware(), impl.GetGroupEvents)

	members := router.Group("/members")
	members.GET("/:memberID", impl.GetMember)
	members.DELETE("/:memberID", impl.DeleteMember)
	members.POST("/:memberID/contributions", impl.PostMemberContribution)
	members.POST("/:memberID/pledges", impl.PostMemberPledge)
	members.GET("/:memberID/balance", impl.GetMemberBalance)

	router.POST("/contributions/:contributionID/settle", impl.PostContributionSettle)

	auctions := router.Group("/auctions")
	auctions.GET("/:auctionID", impl.GetAuction)
	auctions.POST("/:auctionID/open", impl.PostAuctionOpen)
	auctions.POST("/:auctionID/close", impl.PostAuctionClose)
	auctions.POST("/:auctionID/finalize", impl.PostAuctionFinalize)
	auctions.POST("/:auctionID/cancel", impl.PostAuctionCancel)
	auctions.POST("/:auctionID/bids", impl.PostAuctionBid)
	auctions.GET("/:auctionID/bids", impl.GetAuctionBids)
}

// actorContext carries the X-Actor header into the engine for audit entries.
func actorContext(c *gin.Context) context.Context {
	return chit.WithActor(c.Request.Context(), c.GetHeader(ActorHeader))
}

func (impl *ServerImpl) fail(c *gin.Context, op string, err error) {
	status, code := statusOf(err)
	// the events route presets an event-stream content type
	c.Writer.Header().Del("Content-Type")
	if status >= http.StatusInternalServerError {
		impl.logger.Error("Request failed", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: "internal error"})
		return
	}
	impl.logger.Debug("Request rejected", slog.String("op", op), slog.String("code", code), slog.Any("error", err))
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: err.Error()})
}

func (impl *ServerImpl) badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_ARGUMENT", Message: message})
}

func (impl *ServerImpl) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		impl.badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (impl *ServerImpl) cycleParam(c *gin.Context) (int, bool) {
	cycle, err := strconv.Atoi(c.Param("cycle"))
	if err != nil {
		impl.badRequest(c, "invalid cycle")
		return 0, false
	}
	return cycle, true
}

func (impl *ServerImpl) bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		var limitErr *ReachLimitError
		if errors.As(err, &limitErr) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Code: "PAYLOAD_TOO_LARGE", Message: limitErr.Error()})
			return false
		}
		impl.badRequest(c, err.Error())
		return false
	}
	return true
}

// Create a group
// (POST /groups)
func (impl *ServerImpl) PostGroup(c *gin.Context) {
	const op = "PostGroup"
	var body CreateGroupRequest
	if !impl.bind(c, &body) {
		return
	}
	group, err := impl.engine.CreateGroup(actorContext(c), chit.GroupParams{
		Name:        impl.textChecker.Sanitize(body.Name),
		Description: impl.htmlChecker.Sanitize(body.Description),
		ChitValue:   body.ChitValue,
		Installment: body.Installment,
		MaxMembers:  body.MaxMembers,
		MinMembers:  body.MinMembers,
		Duration:    body.Duration,
	})
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.Header("Location", "/groups/"+group.ID.String())
	c.JSON(http.StatusCreated, toGroup(*group))
}

// List groups, optionally by status
// (GET /groups)
func (impl *ServerImpl) GetGroups(c *gin.Context) {
	const op = "GetGroups"
	groups, err := impl.engine.ListGroups(c.Request.Context(), models.GroupStatus(strings.ToLower(c.Query("status"))))
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(groups, toGroup))
}

// (GET /groups/{groupID})
func (impl *ServerImpl) GetGroup(c *gin.Context) {
	const op = "GetGroup"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	group, err := impl.engine.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toGroup(*group))
}

// groupTransition runs one of the group lifecycle operations and renders the group.
func (impl *ServerImpl) groupTransition(c *gin.Context, op string, fn func(context.Context, uuid.UUID) (*models.Group, error)) {
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	group, err := fn(actorContext(c), groupID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toGroup(*group))
}

// (POST /groups/{groupID}/activate)
func (impl *ServerImpl) PostGroupActivate(c *gin.Context) {
	impl.groupTransition(c, "PostGroupActivate", impl.engine.ActivateGroup)
}

// (POST /groups/{groupID}/advance)
func (impl *ServerImpl) PostGroupAdvance(c *gin.Context) {
	impl.groupTransition(c, "PostGroupAdvance", impl.engine.AdvanceCycle)
}

// (POST /groups/{groupID}/close)
func (impl *ServerImpl) PostGroupClose(c *gin.Context) {
	impl.groupTransition(c, "PostGroupClose", impl.engine.CloseGroup)
}

// (POST /groups/{groupID}/cancel)
func (impl *ServerImpl) PostGroupCancel(c *gin.Context) {
	impl.groupTransition(c, "PostGroupCancel", impl.engine.CancelGroup)
}

// Enroll a candidate
// (POST /groups/{groupID}/members)
func (impl *ServerImpl) PostGroupMember(c *gin.Context) {
	const op = "PostGroupMember"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	var body EnrollRequest
	if !impl.bind(c, &body) {
		return
	}
	member, err := impl.engine.Enroll(actorContext(c), groupID, body.CandidateID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.Header("Location", "/members/"+member.ID.String())
	c.JSON(http.StatusCreated, toMember(*member))
}

// (GET /groups/{groupID}/members)
func (impl *ServerImpl) GetGroupMembers(c *gin.Context) {
	const op = "GetGroupMembers"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	members, err := impl.engine.ListMembers(c.Request.Context(), groupID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(members, toMember))
}

// (GET /groups/{groupID}/cycles/{cycle}/bidders)
func (impl *ServerImpl) GetCycleBidders(c *gin.Context) {
	const op = "GetCycleBidders"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	cycle, ok := impl.cycleParam(c)
	if !ok {
		return
	}
	bidders, err := impl.engine.ListEligibleBidders(c.Request.Context(), groupID, cycle)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, bidders)
}

// (GET /groups/{groupID}/cycles/{cycle}/summary)
func (impl *ServerImpl) GetCycleSummary(c *gin.Context) {
	const op = "GetCycleSummary"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	cycle, ok := impl.cycleParam(c)
	if !ok {
		return
	}
	summary, err := impl.engine.CycleSummary(c.Request.Context(), groupID, cycle)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// (GET /groups/{groupID}/cycles/{cycle}/payout)
func (impl *ServerImpl) GetCyclePayout(c *gin.Context) {
	const op = "GetCyclePayout"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	cycle, ok := impl.cycleParam(c)
	if !ok {
		return
	}
	record, err := impl.engine.GetPayout(c.Request.Context(), groupID, cycle)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toPayout(*record))
}

// Schedule the auction of a cycle
// (POST /groups/{groupID}/auctions)
func (impl *ServerImpl) PostGroupAuction(c *gin.Context) {
	const op = "PostGroupAuction"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	var body ScheduleAuctionRequest
	if !impl.bind(c, &body) {
		return
	}
	auction, err := impl.engine.ScheduleAuction(actorContext(c), groupID, body.Cycle, body.OpenAt, body.CloseAt)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.Header("Location", "/auctions/"+auction.ID.String())
	c.JSON(http.StatusCreated, toAuction(*auction))
}

// (GET /groups/{groupID}/auctions)
func (impl *ServerImpl) GetGroupAuctions(c *gin.Context) {
	const op = "GetGroupAuctions"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	auctions, err := impl.engine.ListAuctions(c.Request.Context(), groupID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(auctions, toAuction))
}

// (GET /groups/{groupID}/audit)
func (impl *ServerImpl) GetGroupAudit(c *gin.Context) {
	const op = "GetGroupAudit"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	records, err := impl.AuditRecords(c.Request.Context(), groupID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(records, func(r models.AuditRecord) chit.AuditEntry {
		return chit.AuditEntry{
			Operation:  r.Operation,
			Actor:      r.Actor,
			GroupID:    r.GroupID,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Before:     r.Before,
			After:      r.After,
			OccurredAt: r.OccurredAt,
		}
	}))
}

// Track group events
// (GET /groups/{groupID}/events)
func (impl *ServerImpl) GetGroupEvents(c *gin.Context) {
	const op = "GetGroupEvents"
	groupID, ok := impl.uuidParam(c, "groupID")
	if !ok {
		return
	}
	if _, err := impl.engine.GetGroup(c.Request.Context(), groupID); err != nil {
		impl.fail(c, op, err)
		return
	}

	channel := eventChannel(groupID)
	ch, err := impl.sseManager.Subscribe(channel)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	defer impl.sseManager.Unsubscribe(channel, ch)

	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(impl.keepAlive)
	defer keepAlive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		// an idle comment line keeps proxies from dropping the connection
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

// (GET /members/{memberID})
func (impl *ServerImpl) GetMember(c *gin.Context) {
	const op = "GetMember"
	memberID, ok := impl.uuidParam(c, "memberID")
	if !ok {
		return
	}
	member, err := impl.engine.GetMember(c.Request.Context(), memberID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toMember(*member))
}

// Remove a member from its group
// (DELETE /members/{memberID})
func (impl *ServerImpl) DeleteMember(c *gin.Context) {
	const op = "DeleteMember"
	memberID, ok := impl.uuidParam(c, "memberID")
	if !ok {
		return
	}
	if err := impl.engine.Remove(actorContext(c), memberID); err != nil {
		impl.fail(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (impl *ServerImpl) contribution(c *gin.Context, op string, fn func(context.Context, uuid.UUID, int, int64) (*models.Contribution, error)) {
	memberID, ok := impl.uuidParam(c, "memberID")
	if !ok {
		return
	}
	var body ContributionRequest
	if !impl.bind(c, &body) {
		return
	}
	contribution, err := fn(actorContext(c), memberID, body.Cycle, body.Amount)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, toContribution(*contribution))
}

// Record a settled installment
// (POST /members/{memberID}/contributions)
func (impl *ServerImpl) PostMemberContribution(c *gin.Context) {
	impl.contribution(c, "PostMemberContribution", impl.engine.RecordContribution)
}

// Record a pledged installment awaiting settlement
// (POST /members/{memberID}/pledges)
func (impl *ServerImpl) PostMemberPledge(c *gin.Context) {
	impl.contribution(c, "PostMemberPledge", impl.engine.PledgeContribution)
}

// (GET /members/{memberID}/balance)
func (impl *ServerImpl) GetMemberBalance(c *gin.Context) {
	const op = "GetMemberBalance"
	memberID, ok := impl.uuidParam(c, "memberID")
	if !ok {
		return
	}
	balance, err := impl.engine.MemberBalance(c.Request.Context(), memberID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// (POST /contributions/{contributionID}/settle)
func (impl *ServerImpl) PostContributionSettle(c *gin.Context) {
	const op = "PostContributionSettle"
	contributionID, ok := impl.uuidParam(c, "contributionID")
	if !ok {
		return
	}
	contribution, err := impl.engine.SettleContribution(actorContext(c), contributionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toContribution(*contribution))
}

// (GET /auctions/{auctionID})
func (impl *ServerImpl) GetAuction(c *gin.Context) {
	const op = "GetAuction"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	auction, err := impl.engine.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toAuction(*auction))
}

// (POST /auctions/{auctionID}/open)
func (impl *ServerImpl) PostAuctionOpen(c *gin.Context) {
	const op = "PostAuctionOpen"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	auction, err := impl.engine.OpenAuction(actorContext(c), auctionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toAuction(*auction))
}

// Close bidding and select the winner
// (POST /auctions/{auctionID}/close)
func (impl *ServerImpl) PostAuctionClose(c *gin.Context) {
	const op = "PostAuctionClose"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	selection, err := impl.engine.CloseAuction(actorContext(c), auctionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, selection)
}

// Settle the closed auction; repeating it returns the stored payout
// (POST /auctions/{auctionID}/finalize)
func (impl *ServerImpl) PostAuctionFinalize(c *gin.Context) {
	const op = "PostAuctionFinalize"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	record, err := impl.engine.FinalizeAuction(actorContext(c), auctionID)
	if err != nil && !(chit.IsBenign(err) && record != nil) {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toPayout(*record))
}

// (POST /auctions/{auctionID}/cancel)
func (impl *ServerImpl) PostAuctionCancel(c *gin.Context) {
	const op = "PostAuctionCancel"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	auction, err := impl.engine.CancelAuction(actorContext(c), auctionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toAuction(*auction))
}

// Place or revise a bid
// (POST /auctions/{auctionID}/bids)
func (impl *ServerImpl) PostAuctionBid(c *gin.Context) {
	const op = "PostAuctionBid"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	var body BidRequest
	if !impl.bind(c, &body) {
		return
	}
	bid, err := impl.engine.SubmitBid(actorContext(c), auctionID, body.MemberID, body.Amount)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	impl.logger.Info("Bid accepted", slog.String("auctionID", auctionID.String()), slog.String("memberID", body.MemberID.String()), slog.Int64("amount", body.Amount))
	c.JSON(http.StatusOK, toBid(*bid))
}

// (GET /auctions/{auctionID}/bids)
func (impl *ServerImpl) GetAuctionBids(c *gin.Context) {
	const op = "GetAuctionBids"
	auctionID, ok := impl.uuidParam(c, "auctionID")
	if !ok {
		return
	}
	bids, err := impl.engine.ListBids(c.Request.Context(), auctionID)
	if err != nil {
		impl.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(bids, toBid))
}

// NoRoute renders unknown paths in the API error shape.
func (impl *ServerImpl) NoRoute(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "route not found"})
}
