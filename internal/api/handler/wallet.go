package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/service"
)

// WalletHandler handles wallet creation, balances, and portfolio valuation.
type WalletHandler struct {
	ledger *service.LedgerService
	rates  *service.RateService
}

func NewWalletHandler(ledger *service.LedgerService, rates *service.RateService) *WalletHandler {
	return &WalletHandler{ledger: ledger, rates: rates}
}

// CreateWallet handles POST /v1/wallets. Creating an existing wallet is a
// no-op and returns the current row.
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Currency string `json:"currency"`
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

	wallet, err := h.ledger.CreateWallet(r.Context(), actorID, req.Currency)
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create wallet failed", zap.Error(err), zap.String("currency", req.Currency))
		RespondError(w, r, http.StatusInternalServerError, "wallet/create-failed", "Failed to create wallet")
		return
	}

	RespondJSON(w, http.StatusCreated, wallet)
}

// GetWallet handles GET /v1/wallets/{currency}.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	currency := strings.ToUpper(chi.URLParam(r, "currency"))
	wallet, err := h.ledger.GetWallet(r.Context(), actorID, currency)
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("get wallet failed", zap.Error(err), zap.String("currency", currency))
		RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to get wallet")
		return
	}

	RespondJSON(w, http.StatusOK, wallet)
}

// ListWallets handles GET /v1/wallets.
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	wallets, err := h.ledger.ListWallets(r.Context(), actorID)
	if err != nil {
		zap.L().Error("list wallets failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "wallet/list-failed", "Failed to list wallets")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items": wallets,
		"count": len(wallets),
	})
}

// GetRate handles GET /v1/rates/{currency}. Quotes are display rates from
// the cached feed, never used for settlement.
func (h *WalletHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	currency := strings.ToUpper(chi.URLParam(r, "currency"))
	rate, err := h.rates.GetRate(r.Context(), currency)
	if err != nil {
		RespondError(w, r, http.StatusNotFound, "rate/not-found", "No rate available for currency")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"currency": currency,
		"usd_rate": rate,
	})
}

// GetPortfolio handles GET /v1/portfolio. Balances are valued in USD using
// the cached rate feed; currencies without a quote are listed at zero value.
func (h *WalletHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	wallets, err := h.ledger.ListWallets(r.Context(), actorID)
	if err != nil {
		zap.L().Error("portfolio wallet lookup failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "portfolio/read-failed", "Failed to load portfolio")
		return
	}

	entries, total, err := h.rates.Portfolio(r.Context(), actorID, wallets)
	if err != nil {
		zap.L().Error("portfolio valuation failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "portfolio/valuation-failed", "Failed to value portfolio")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"entries":         entries,
		"total_value_usd": total,
	})
}
