package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/seyilabs/chainvault/internal/repository"
)

var transactionTransitions = map[string]map[string]struct{}{
	"PENDING": {
		"PROCESSING": {},
		"FAILED":     {},
		"CANCELED":   {},
	},
	"PROCESSING": {
		"PENDING":   {},
		"COMPLETED": {},
		"FAILED":    {},
	},
	"COMPLETED": {},
	"FAILED":    {},
	"CANCELED":  {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionTransactionState moves a transaction to nextState under the row
// lock. A same-state write is a no-op and reports changed=false so callers
// skip their ledger side effects; retried work must never apply funds twice.
func transitionTransactionState(ctx context.Context, qtx repository.Querier, transactionID uuid.UUID, nextState, errorMessage string) (bool, error) {
	currentState, err := qtx.GetTransactionStatusForUpdate(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("get current transaction state: %w", err)
	}

	if normalizeState(currentState) == normalizeState(nextState) {
		return false, nil
	}
	if !canTransition(currentState, nextState) {
		return false, fmt.Errorf("invalid transaction state transition: %s -> %s", currentState, nextState)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		ID:           transactionID,
		Status:       nextState,
		ErrorMessage: errorMessage,
		SetCompleted: normalizeState(nextState) == "COMPLETED",
	})
	if err != nil {
		return false, fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return false, err
	}
	return true, nil
}
