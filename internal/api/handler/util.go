package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seyilabs/chainvault/internal/api/middleware"
	"github.com/seyilabs/chainvault/internal/api/problem"
	"github.com/seyilabs/chainvault/internal/domain"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

func parsePagination(r *http.Request) (limit, offset int32, err error) {
	limit, offset = 50, 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, perr := strconv.Atoi(v)
		if perr != nil || parsed <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, perr := strconv.Atoi(v)
		if perr != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = int32(parsed)
	}
	return limit, offset, nil
}

// mapDomainError translates ledger and validation errors into problem
// responses. Returns ok=false for errors the caller should treat as internal.
func mapDomainError(err error) (status int, problemType, message string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "wallet/insufficient-balance", err.Error(), true
	case errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusUnprocessableEntity, "withdrawal/limit-exceeded", err.Error(), true
	case errors.Is(err, domain.ErrTooLateToCancel):
		return http.StatusConflict, "withdrawal/too-late-to-cancel", err.Error(), true
	case errors.Is(err, domain.ErrBelowMinimum):
		return http.StatusBadRequest, "request/amount-below-minimum", err.Error(), true
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "request/invalid-amount", err.Error(), true
	case errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusBadRequest, "request/invalid-address", err.Error(), true
	case errors.Is(err, domain.ErrInvalidNetwork):
		return http.StatusBadRequest, "request/invalid-network", err.Error(), true
	case errors.Is(err, domain.ErrDepositDisabled):
		return http.StatusUnprocessableEntity, "deposit/disabled", err.Error(), true
	case errors.Is(err, domain.ErrWithdrawalOff):
		return http.StatusUnprocessableEntity, "withdrawal/disabled", err.Error(), true
	case errors.Is(err, domain.ErrCurrencyNotFound):
		return http.StatusNotFound, "currency/not-found", err.Error(), true
	case errors.Is(err, domain.ErrWalletNotFound):
		return http.StatusNotFound, "wallet/not-found", err.Error(), true
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction/not-found", err.Error(), true
	case errors.Is(err, domain.ErrAddressNotFound):
		return http.StatusNotFound, "deposit-address/not-found", err.Error(), true
	default:
		return 0, "", "", false
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
