package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	invitedomain "github.com/tallyhq/tally/internal/invite/domain"
)

type registerInviteRequest struct {
	InviterID    string `json:"inviter_id"`
	RewardAmount *int64 `json:"reward_amount,omitempty"`
}

// RegisterInvite binds the calling user to the inviter who referred them.
func (s *Server) RegisterInvite(c *gin.Context) {
	c.Set("operation", "invites.register")

	var req registerInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	relation, err := s.inviteSvc.Register(c.Request.Context(), invitedomain.RegisterRequest{
		InviterID:    req.InviterID,
		InviteeID:    s.currentUserID(c),
		RewardAmount: req.RewardAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "relation": relation})
}

type rewardInviteRequest struct {
	InviterID string         `json:"inviter_id"`
	InviteeID string         `json:"invitee_id"`
	Amount    int64          `json:"amount"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RewardInvite pays out one referral on behalf of an internal caller.
func (s *Server) RewardInvite(c *gin.Context) {
	c.Set("operation", "invites.reward")

	var req rewardInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.inviteSvc.Reward(c.Request.Context(), invitedomain.RewardRequest{
		InviterID: req.InviterID,
		InviteeID: req.InviteeID,
		Amount:    req.Amount,
		Actor:     req.InviteeID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "relation": result.Relation})
}

func (s *Server) ListInvites(c *gin.Context) {
	c.Set("operation", "invites.list")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	relations, err := s.inviteSvc.ListByUser(c.Request.Context(), s.currentUserID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invites": relations})
}
