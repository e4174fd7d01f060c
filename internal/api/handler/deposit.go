package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/service"
)

// DepositHandler issues and lists deposit addresses.
type DepositHandler struct {
	deposits *service.DepositService
}

func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

// CreateAddress handles POST /v1/deposit-addresses. Generates a fresh chain
// address for the user and registers it with the deposit poller.
func (h *DepositHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Currency string `json:"currency"`
		Label    string `json:"label,omitempty"`
		Reusable *bool  `json:"reusable,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-currency", "currency is required")
		return
	}
	reusable := true
	if req.Reusable != nil {
		reusable = *req.Reusable
	}

	addr, err := h.deposits.CreateAddress(r.Context(), service.CreateAddressInput{
		UserID:   actorID,
		Currency: req.Currency,
		Label:    req.Label,
		Reusable: reusable,
	})
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create deposit address failed", zap.Error(err), zap.String("currency", req.Currency))
		RespondError(w, r, http.StatusInternalServerError, "deposit-address/create-failed", "Failed to create deposit address")
		return
	}

	RespondJSON(w, http.StatusCreated, addr)
}

// ListAddresses handles GET /v1/deposit-addresses. An optional ?currency=
// query narrows the result to one asset.
func (h *DepositHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	addrs, err := h.deposits.ListAddresses(r.Context(), actorID, currency)
	if err != nil {
		zap.L().Error("list deposit addresses failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "deposit-address/list-failed", "Failed to list deposit addresses")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items": addrs,
		"count": len(addrs),
	})
}
