package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/repository"
)

// CurrencyHandler serves the supported-asset catalog.
type CurrencyHandler struct {
	queries *repository.Queries
}

func NewCurrencyHandler(queries *repository.Queries) *CurrencyHandler {
	return &CurrencyHandler{queries: queries}
}

func (h *CurrencyHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.queries.ListCurrencies(r.Context())
	if err != nil {
		zap.L().Error("list currencies failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "currency/list-failed", "Failed to list currencies")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": currencies,
		"count": len(currencies),
	})
}

func (h *CurrencyHandler) GetCurrency(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	currency, err := h.queries.GetCurrency(r.Context(), code)
	if err != nil {
		if status, pType, msg, ok := mapDomainError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("get currency failed", zap.Error(err), zap.String("code", code))
		RespondError(w, r, http.StatusInternalServerError, "currency/read-failed", "Failed to get currency")
		return
	}
	RespondJSON(w, http.StatusOK, currency)
}
