package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/tallyhq/tally/internal/usage/domain"
)

type deductRequest struct {
	UserID    string         `json:"user_id"`
	Operation string         `json:"operation"`
	Units     int64          `json:"units"`
	UnitPrice *float64       `json:"unit_price,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type deductResponse struct {
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
	TotalCost int64  `json:"total_cost"`
}

// DeductBalance charges metered usage on behalf of an internal caller.
func (s *Server) DeductBalance(c *gin.Context) {
	c.Set("operation", "billing.deduct")

	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Units == 0 {
		req.Units = 1
	}

	result, err := s.usageSvc.Charge(c.Request.Context(), usagedomain.ChargeRequest{
		UserID:    req.UserID,
		Operation: req.Operation,
		Units:     req.Units,
		UnitPrice: req.UnitPrice,
		Actor:     req.UserID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, deductResponse{
		Balance:   result.Balance,
		Currency:  s.cfg.Currency,
		TotalCost: result.TotalCost,
	})
}

// BillingSummary is the account landing view: balance plus recent activity
// across usage, payments and invites.
func (s *Server) BillingSummary(c *gin.Context) {
	c.Set("operation", "billing.summary")

	userID := s.currentUserID(c)
	ctx := c.Request.Context()

	balance, err := s.ledgerSvc.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	usageLogs, err := s.usageSvc.List(ctx, usagedomain.ListFilter{UserID: userID, Limit: 20})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions, err := s.paymentSvc.ListByUser(ctx, userID, 20, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invites, err := s.inviteSvc.ListByUser(ctx, userID, 20)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var inviteLink string
	if s.cfg.SiteURL != "" {
		inviteLink = fmt.Sprintf("%s/login?inviter=%s", s.cfg.SiteURL, userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"balance":      balance,
		"currency":     s.cfg.Currency,
		"usage_logs":   usageLogs,
		"transactions": transactions,
		"invites":      invites,
		"invite_link":  inviteLink,
	})
}
