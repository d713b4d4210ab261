package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/tallyhq/tally/internal/payment/domain"
)

const webhookBodyLimit = 1 << 20

type createPaymentRequest struct {
	Provider string         `json:"provider"`
	Amount   int64          `json:"amount"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreatePayment opens a pending top-up with the chosen provider.
func (s *Server) CreatePayment(c *gin.Context) {
	c.Set("operation", "payments.create")

	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.Create(c.Request.Context(), paymentdomain.CreateRequest{
		UserID:   s.currentUserID(c),
		Provider: req.Provider,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListPayments(c *gin.Context) {
	c.Set("operation", "payments.list")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := s.paymentSvc.ListByUser(c.Request.Context(), s.currentUserID(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) GetPayment(c *gin.Context) {
	c.Set("operation", "payments.get")

	tx, err := s.paymentSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tx.UserID != s.currentUserID(c) {
		AbortWithError(c, paymentdomain.ErrTransactionNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// PaymentWebhook hands the raw provider notification to the reconciler.
// Replays of settled notifications are acknowledged with the stored
// transaction so providers stop retrying.
func (s *Server) PaymentWebhook(c *gin.Context) {
	c.Set("operation", "payments.webhook")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	header := map[string]string{}
	for name := range c.Request.Header {
		header[name] = c.GetHeader(name)
	}

	tx, err := s.reconciler.Reconcile(c.Request.Context(), c.Param("provider"), body, header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "transaction": tx})
}
