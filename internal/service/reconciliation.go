package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/events"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/repository"
)

// ReconciliationService settles broadcast withdrawals against chain state
// and audits ledger invariants. It is the only component allowed to decide
// the fate of a withdrawal that already has a txid.
type ReconciliationService struct {
	store  QueryStore
	chains *chain.Registry
	events events.Publisher
}

func NewReconciliationService(store QueryStore, chains *chain.Registry, pub events.Publisher) *ReconciliationService {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &ReconciliationService{store: store, chains: chains, events: pub}
}

// Run performs one reconciliation pass.
func (s *ReconciliationService) Run(ctx context.Context, batchSize int32) error {
	if err := s.settleBroadcastWithdrawals(ctx, batchSize); err != nil {
		return err
	}
	return s.auditWalletInvariants(ctx)
}

func (s *ReconciliationService) settleBroadcastWithdrawals(ctx context.Context, batchSize int32) error {
	queries := s.store.Queries()
	txs, err := queries.ListBroadcastWithdrawals(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("list broadcast withdrawals: %w", err)
	}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.settleOne(ctx, tx); err != nil {
			zap.L().Warn("withdrawal reconciliation failed",
				zap.Error(err),
				zap.String("transaction_id", tx.ID.String()),
				zap.String("txid", tx.TxID),
			)
		}
	}
	return nil
}

func (s *ReconciliationService) settleOne(ctx context.Context, tx models.Transaction) error {
	queries := s.store.Queries()

	currency, err := queries.GetCurrency(ctx, tx.Currency)
	if err != nil {
		return err
	}
	adapter, err := s.chains.ForCurrency(currency)
	if err != nil {
		return err
	}

	status, err := adapter.TxStatus(ctx, currency, tx.TxID)
	if err != nil {
		observability.IncrementChainCallError(currency.Chain, "transient")
		return err
	}

	switch status.State {
	case chain.TxConfirmed:
		return s.complete(ctx, tx, status.Confirmations)
	case chain.TxFailed:
		return s.fail(ctx, tx)
	default:
		if status.Confirmations != tx.Confirmations {
			if _, err := queries.UpdateTransactionConfirmations(ctx, tx.ID, status.Confirmations); err != nil {
				return fmt.Errorf("update confirmations: %w", err)
			}
		}
		return nil
	}
}

func (s *ReconciliationService) complete(ctx context.Context, tx models.Transaction, confirmations uint32) error {
	_, err := settleConfirmedWithdrawal(ctx, s.store, s.events, tx, confirmations)
	return err
}

// settleConfirmedWithdrawal finishes a broadcast withdrawal whose transfer is
// final on chain: the transaction completes and the locked funds leave the
// wallet for good. Safe to repeat; a COMPLETED row is never touched again.
// Shared by the reconciler and the broadcast worker's fast-settle path.
func settleConfirmedWithdrawal(ctx context.Context, store QueryStore, pub events.Publisher, tx models.Transaction, confirmations uint32) (bool, error) {
	var changed bool
	err := store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		changed, err = transitionTransactionState(ctx, qtx, tx.ID, domain.TxStatusCompleted, "")
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := settleLockedFunds(ctx, qtx, tx.WalletID, tx.Amount.Add(tx.Fee)); err != nil {
			return err
		}
		if _, err := qtx.UpdateTransactionConfirmations(ctx, tx.ID, confirmations); err != nil {
			return fmt.Errorf("update confirmations: %w", err)
		}
		return nil
	})
	if err != nil || !changed {
		return changed, err
	}

	observability.IncrementWithdrawalOutcome(tx.Currency, "completed")
	if err := pub.Publish(ctx, events.Event{
		Type:          events.TypeWithdrawalCompleted,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		TxID:          tx.TxID,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("event publish failed", zap.Error(err), zap.String("type", events.TypeWithdrawalCompleted))
	}

	zap.L().Info("withdrawal completed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("txid", tx.TxID),
		zap.Uint32("confirmations", confirmations),
	)
	return true, nil
}

// fail handles a chain-rejected broadcast, e.g. a conflicted transaction.
// Funds return to the available balance.
func (s *ReconciliationService) fail(ctx context.Context, tx models.Transaction) error {
	var changed bool
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		changed, err = transitionTransactionState(ctx, qtx, tx.ID, domain.TxStatusFailed, "rejected on chain")
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return releaseLockedFunds(ctx, qtx, tx.WalletID, tx.Amount.Add(tx.Fee))
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	observability.IncrementWithdrawalOutcome(tx.Currency, "failed")
	if err := s.events.Publish(ctx, events.Event{
		Type:          events.TypeWithdrawalFailed,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		TxID:          tx.TxID,
		Detail:        "rejected on chain",
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("event publish failed", zap.Error(err), zap.String("type", events.TypeWithdrawalFailed))
	}

	zap.L().Warn("withdrawal rejected on chain",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("txid", tx.TxID),
	)
	return nil
}

// auditWalletInvariants scans for wallets violating balance >= locked >= 0.
// Violations are alarmed, never silently corrected.
func (s *ReconciliationService) auditWalletInvariants(ctx context.Context) error {
	wallets, err := s.store.Queries().ListInconsistentWallets(ctx, 100)
	if err != nil {
		return fmt.Errorf("audit wallet invariants: %w", err)
	}
	if len(wallets) == 0 {
		zap.L().Debug("ledger invariants hold")
		return nil
	}

	for _, w := range wallets {
		observability.IncrementLedgerInconsistency(w.Currency)
		zap.L().Error("CRITICAL: wallet fund invariant violated",
			zap.String("wallet_id", w.ID.String()),
			zap.String("currency", w.Currency),
			zap.String("balance", w.Balance.String()),
			zap.String("locked", w.Locked.String()),
		)
		if err := s.events.Publish(ctx, events.Event{
			Type:       events.TypeLedgerMismatch,
			UserID:     w.UserID,
			Currency:   w.Currency,
			Amount:     w.Balance,
			Detail:     "wallet fund invariant violated",
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			zap.L().Warn("event publish failed", zap.Error(err), zap.String("type", events.TypeLedgerMismatch))
		}
	}
	return nil
}
