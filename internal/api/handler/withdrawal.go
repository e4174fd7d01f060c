package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/service"
)

// WithdrawalHandler handles withdrawal requests and cancellations.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
	ledger      *service.LedgerService
	limits      *service.LimitService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService, ledger *service.LedgerService, limits *service.LimitService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, ledger: ledger, limits: limits}
}

// CreateWithdrawalRequest represents the request body for creating a withdrawal.
type CreateWithdrawalRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Address  string `json:"address"`
	Memo     string `json:"memo,omitempty"`
	Network  string `json:"network,omitempty"`
}

// CreateWithdrawal handles POST /v1/withdrawals. Funds are locked and the
// transaction is queued for broadcast; the response is 202 Accepted.
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Address = strings.TrimSpace(req.Address)
	if req.Currency == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-currency", "currency is required")
		return
	}
	if req.Address == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-address", "address is required")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a decimal string")
		return
	}

	tx, err := h.withdrawals.RequestWithdrawal(r.Context(), service.RequestWithdrawalInput{
		UserID:   actorID,
		Currency: req.Currency,
		Amount:   amount,
		Address:  req.Address,
		Memo:     req.Memo,
		Network:  req.Network,
	})
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create withdrawal failed", zap.Error(err), zap.String("currency", req.Currency))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/create-failed", "Failed to create withdrawal")
		return
	}

	RespondJSON(w, http.StatusAccepted, tx)
}

// CancelWithdrawal handles POST /v1/withdrawals/{id}/cancel. Only PENDING
// withdrawals can be canceled; anything later returns 409.
func (h *WithdrawalHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	tx, err := h.withdrawals.CancelWithdrawal(r.Context(), actorID, txID)
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("cancel withdrawal failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/cancel-failed", "Failed to cancel withdrawal")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *WithdrawalHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	tx, err := h.ledger.GetTransaction(r.Context(), txID)
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("get transaction failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "transaction/read-failed", "Failed to get transaction")
		return
	}
	if !isAdmin && tx.UserID != actorID {
		RespondError(w, r, http.StatusNotFound, "transaction/not-found", "transaction not found")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

// ListTransactions handles GET /v1/transactions.
func (h *WithdrawalHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-pagination", err.Error())
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), actorID, limit, offset)
	if err != nil {
		zap.L().Error("list transactions failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "transaction/list-failed", "Failed to list transactions")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  txs,
		"limit":  limit,
		"offset": offset,
		"count":  len(txs),
	})
}

// GetLimits handles GET /v1/withdrawals/limits/{currency}.
func (h *WithdrawalHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	currency := strings.ToUpper(chi.URLParam(r, "currency"))
	remaining, windows, err := h.limits.Remaining(r.Context(), actorID, currency)
	if err != nil {
		zap.L().Error("limit lookup failed", zap.Error(err), zap.String("currency", currency))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/limit-read-failed", "Failed to read withdrawal limits")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"currency":  currency,
		"remaining": remaining,
		"windows":   windows,
	})
}
