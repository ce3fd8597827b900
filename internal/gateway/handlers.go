package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
	"github.com/payoutpipeline/payout-pipeline/internal/authn"
	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
)

// Handler adapts Service and the read-side stores to gin, matching the
// teacher's GameHandler shape: a thin struct wrapping service
// collaborators, one method per route. Like Service, it depends on the
// narrow store/cache capability interfaces rather than concrete types.
type Handler struct {
	service   *Service
	txStore   store.TransactionStore
	userStore store.UserStore
	cache     balancecache.BalanceCache
	verifier  *authn.Verifier
	tokenTTL  time.Duration
}

func NewHandler(service *Service, txStore store.TransactionStore, userStore store.UserStore, cache balancecache.BalanceCache, verifier *authn.Verifier, tokenTTL time.Duration) *Handler {
	return &Handler{service: service, txStore: txStore, userStore: userStore, cache: cache, verifier: verifier, tokenTTL: tokenTTL}
}

type tokenRequestBody struct {
	UserID string `json:"user_id" binding:"required"`
}

// IssueToken handles POST /auth/token. It stands in for the handoff from
// the external identity provider spec.md §1 places out of scope: given an
// already-verified user id, it mints the bearer token the rest of the
// gateway's routes require, the way the teacher's AuthHandler.Authenticate
// mints a session JWT after validating a Telegram login payload.
func (h *Handler) IssueToken(c *gin.Context) {
	var body tokenRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "details": err.Error()})
		return
	}

	if _, err := h.userStore.GetByID(c.Request.Context(), body.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	sessionID := uuid.New().String()
	token, err := h.verifier.Issue(body.UserID, sessionID, h.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOKEN_ISSUE_FAILED"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"session_id": sessionID,
		"expires_in": int(h.tokenTTL.Seconds()),
	})
}

type payoutRequestBody struct {
	Amount      model.Money    `json:"amount" binding:"required"`
	Currency    model.Currency `json:"currency" binding:"required"`
	Description string         `json:"description"`
}

// CreatePayout handles POST /api/payout.
func (h *Handler) CreatePayout(c *gin.Context) {
	userID := c.GetString("user_id")

	var body payoutRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "details": err.Error()})
		return
	}

	result, err := h.service.InitiatePayout(c.Request.Context(), PayoutRequest{
		UserID:      userID,
		AmountCents: body.Amount.Cents(),
		Currency:    body.Currency,
		Description: body.Description,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Source:      "api",
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"transaction_id": result.TransactionID,
		"status":         result.Status,
		"amount":         model.Money(result.AmountCents),
		"currency":       result.Currency,
	})
}

// transactionResponse is the wire shape for a transaction: the decimal
// amount/balance strings spec.md §4.6 documents, over the int64-cents
// fields internal/model and the store keep for GORM columns and
// arithmetic.
type transactionResponse struct {
	TransactionID string                  `json:"transaction_id"`
	UserID        string                  `json:"user_id"`
	Amount        model.Money             `json:"amount"`
	Currency      model.Currency          `json:"currency"`
	Status        model.TransactionStatus `json:"status"`
	Type          model.TransactionType   `json:"type"`
	BalanceBefore model.Money             `json:"balance_before"`
	BalanceAfter  model.Money             `json:"balance_after"`
	ErrorCode     string                  `json:"error_code,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	ProcessingAt  *time.Time              `json:"processing_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	FailedAt      *time.Time              `json:"failed_at,omitempty"`
}

func newTransactionResponse(tx *model.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        model.Money(tx.AmountCents),
		Currency:      tx.Currency,
		Status:        tx.Status,
		Type:          tx.Type,
		BalanceBefore: model.Money(tx.BalanceBefore),
		BalanceAfter:  model.Money(tx.BalanceAfter),
		ErrorCode:     tx.ErrorCode,
		ErrorMessage:  tx.ErrorMessage,
		CreatedAt:     tx.CreatedAt,
		ProcessingAt:  tx.ProcessingAt,
		CompletedAt:   tx.CompletedAt,
		FailedAt:      tx.FailedAt,
	}
}

// GetTransaction handles GET /api/payout/:tx.
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.txStore.GetByID(c.Request.Context(), c.Param("tx"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "TRANSACTION_NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, newTransactionResponse(tx))
}

// GetBalance handles GET /api/payout/user/:uid/balance. It prefers the
// cached balance (the source of truth for admission decisions per
// spec.md §3) and falls back to the durable balance on a cold miss; the
// user record is always loaded, since the cache holds only a bare number
// and the currency tag the response documents lives on the durable user.
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("uid")

	user, err := h.userStore.GetByID(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	balance, ok, err := h.cache.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "CACHE_ERROR"})
		return
	}
	if !ok {
		balance = user.BalanceCents
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": model.Money(balance), "currency": user.Currency})
}

// ListUserTransactions handles GET /api/payout/user/:uid/history.
func (h *Handler) ListUserTransactions(c *gin.Context) {
	status := model.TransactionStatus(c.Query("status"))
	limit := 50

	txs, err := h.txStore.ListByUser(c.Request.Context(), c.Param("uid"), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	resp := make([]transactionResponse, len(txs))
	for i := range txs {
		resp[i] = newTransactionResponse(&txs[i])
	}
	c.JSON(http.StatusOK, gin.H{"transactions": resp})
}

func writeError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}
	c.JSON(apperr.HTTPStatus(ae.Kind), gin.H{"error": string(ae.Kind), "details": ae.Message})
}
