package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/events"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/repository"
)

const staleWithdrawalRecoveryWindow = 2 * time.Minute

// WithdrawalService moves user funds off-platform. Requests lock funds and
// queue a PENDING transaction; the background worker broadcasts it and it
// settles once the chain confirms, at broadcast time when the adapter
// already reports finality or through the reconciler otherwise.
type WithdrawalService struct {
	store     QueryStore
	chains    *chain.Registry
	limits    *LimitService
	events    events.Publisher
	attempts  int
	retryBase time.Duration
	retryMax  time.Duration
}

// WithdrawalConfig tunes broadcast retry behavior.
type WithdrawalConfig struct {
	MaxBroadcastAttempts int
	RetryBase            time.Duration
	RetryMax             time.Duration
}

func NewWithdrawalService(store QueryStore, chains *chain.Registry, limits *LimitService, pub events.Publisher, cfg WithdrawalConfig) *WithdrawalService {
	if cfg.MaxBroadcastAttempts <= 0 {
		cfg.MaxBroadcastAttempts = 3
	}
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &WithdrawalService{
		store:     store,
		chains:    chains,
		limits:    limits,
		events:    pub,
		attempts:  cfg.MaxBroadcastAttempts,
		retryBase: cfg.RetryBase,
		retryMax:  cfg.RetryMax,
	}
}

// RequestWithdrawalInput holds the parameters for creating a withdrawal.
type RequestWithdrawalInput struct {
	UserID   uuid.UUID
	Currency string
	Amount   decimal.Decimal
	Address  string
	Memo     string
	Network  string
}

// RequestWithdrawal validates the request, locks amount plus fee, charges
// the user's limits and queues the withdrawal for the broadcast worker.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, req RequestWithdrawalInput) (*models.Transaction, error) {
	queries := s.store.Queries()

	currency, err := queries.GetCurrency(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	if !currency.WithdrawEnabled {
		return nil, domain.ErrWithdrawalOff
	}
	if !currency.SupportsNetwork(req.Network) {
		return nil, domain.ErrInvalidNetwork
	}

	amount := domain.Quantize(req.Amount, currency.Precision)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if amount.LessThan(currency.MinWithdrawal) {
		return nil, domain.ErrBelowMinimum
	}

	adapter, err := s.chains.ForCurrency(currency)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateAddress(currency, req.Address); err != nil {
		return nil, err
	}

	fee, err := domain.WithdrawalFee(amount, currency.WithdrawalFee, currency.FeeType, currency.Precision)
	if err != nil {
		return nil, err
	}
	total := amount.Add(fee)

	tx := &models.Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Currency:      currency.Code,
		Amount:        amount,
		Fee:           fee,
		Type:          domain.TxTypeWithdrawal,
		Status:        domain.TxStatusPending,
		Address:       req.Address,
		Memo:          req.Memo,
		Network:       req.Network,
		RequiredConfs: currency.Confirmations,
	}

	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		wallet, err := qtx.GetWalletForUpdate(ctx, req.UserID, currency.Code)
		if err != nil {
			return err
		}
		if err := lockWalletFunds(ctx, qtx, wallet.ID, total); err != nil {
			return err
		}
		if err := s.limits.Consume(ctx, qtx, req.UserID, currency.Code, amount); err != nil {
			return err
		}
		tx.WalletID = wallet.ID
		return qtx.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal queued",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("currency", tx.Currency),
		zap.String("amount", tx.Amount.String()),
		zap.String("fee", tx.Fee.String()),
	)
	return tx, nil
}

// CancelWithdrawal aborts a withdrawal the worker has not picked up yet.
// Locked funds and limit usage both come back.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error) {
	var canceled *models.Transaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.UserID != userID || tx.Type != domain.TxTypeWithdrawal {
			return domain.ErrTransactionNotFound
		}

		status, err := qtx.GetTransactionStatusForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if normalizeState(status) != domain.TxStatusPending {
			return domain.ErrTooLateToCancel
		}

		changed, err := transitionTransactionState(ctx, qtx, transactionID, domain.TxStatusCanceled, "")
		if err != nil {
			return err
		}
		if changed {
			if err := releaseLockedFunds(ctx, qtx, tx.WalletID, tx.Amount.Add(tx.Fee)); err != nil {
				return err
			}
			if err := s.limits.Refund(ctx, qtx, userID, tx.Currency, tx.Amount); err != nil {
				return err
			}
		}
		canceled = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:          events.TypeWithdrawalCanceled,
		UserID:        canceled.UserID,
		TransactionID: canceled.ID,
		Currency:      canceled.Currency,
		Amount:        canceled.Amount,
		Fee:           canceled.Fee,
	})
	observability.IncrementWithdrawalOutcome(canceled.Currency, "canceled")
	return s.store.Queries().GetTransaction(ctx, transactionID)
}

// PendingBacklog reports how many withdrawals are waiting for broadcast.
func (s *WithdrawalService) PendingBacklog(ctx context.Context) (int64, error) {
	return s.store.Queries().CountPendingWithdrawals(ctx)
}

// ProcessWithdrawals drains a batch of pending withdrawals: recover stale
// claims, claim fresh work, broadcast each transaction.
func (s *WithdrawalService) ProcessWithdrawals(ctx context.Context, batchSize int32) error {
	if err := s.recoverStaleProcessing(ctx, batchSize); err != nil {
		return err
	}

	claimed, err := s.claimPending(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	for i, tx := range claimed {
		if err := ctx.Err(); err != nil {
			if requeueErr := s.requeueClaimed(context.Background(), claimed[i:]); requeueErr != nil {
				zap.L().Error("failed to requeue claimed withdrawals on shutdown", zap.Error(requeueErr))
			}
			return err
		}
		s.broadcast(ctx, tx)
	}
	return nil
}

func (s *WithdrawalService) claimPending(ctx context.Context, batchSize int32) ([]models.Transaction, error) {
	var claimed []models.Transaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		claimed, err = qtx.ClaimPendingWithdrawals(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("claim pending withdrawals: %w", err)
		}
		for i := range claimed {
			changed, err := transitionTransactionState(ctx, qtx, claimed[i].ID, domain.TxStatusProcessing, "")
			if err != nil {
				return err
			}
			if !changed {
				return fmt.Errorf("claimed withdrawal %s was not pending", claimed[i].ID)
			}
			claimed[i].Status = domain.TxStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// recoverStaleProcessing requeues withdrawals a crashed worker claimed but
// never broadcast. Anything with a txid is out of scope here: the chain may
// have the transfer, so only the reconciler may decide its fate.
func (s *WithdrawalService) recoverStaleProcessing(ctx context.Context, batchSize int32) error {
	cutoff := time.Now().Add(-staleWithdrawalRecoveryWindow)
	var recovered int
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		stale, err := qtx.ListStaleProcessingWithdrawals(ctx, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("load stale processing withdrawals: %w", err)
		}
		for _, tx := range stale {
			changed, err := transitionTransactionState(ctx, qtx, tx.ID, domain.TxStatusPending, "")
			if err != nil {
				return fmt.Errorf("requeue stale withdrawal %s: %w", tx.ID, err)
			}
			if changed {
				recovered++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if recovered > 0 {
		zap.L().Warn("recovered stale processing withdrawals", zap.Int("count", recovered))
	}
	return nil
}

func (s *WithdrawalService) requeueClaimed(ctx context.Context, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	return s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		for _, tx := range txs {
			if _, err := transitionTransactionState(ctx, qtx, tx.ID, domain.TxStatusPending, ""); err != nil {
				return fmt.Errorf("requeue withdrawal %s: %w", tx.ID, err)
			}
		}
		return nil
	})
}

// broadcast signs and sends one withdrawal, retrying transient chain
// failures with backoff. A successful broadcast settles right away when the
// adapter already reports the transfer final; otherwise the row stays
// PROCESSING and the reconciler completes it once confirmed.
func (s *WithdrawalService) broadcast(ctx context.Context, tx models.Transaction) {
	queries := s.store.Queries()

	currency, err := queries.GetCurrency(ctx, tx.Currency)
	if err != nil {
		s.failWithdrawal(ctx, tx, fmt.Sprintf("load currency: %v", err))
		return
	}
	adapter, err := s.chains.ForCurrency(currency)
	if err != nil {
		s.failWithdrawal(ctx, tx, err.Error())
		return
	}

	var receipt *chain.Receipt
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			observability.IncrementBroadcastRetry(currency.Chain)
			select {
			case <-ctx.Done():
				if requeueErr := s.requeueClaimed(context.Background(), []models.Transaction{tx}); requeueErr != nil {
					zap.L().Error("failed to requeue withdrawal after cancellation",
						zap.Error(requeueErr), zap.String("transaction_id", tx.ID.String()))
				}
				return
			case <-time.After(retryBackoff(s.retryBase, s.retryMax, attempt-1)):
			}
		}

		receipt, err = adapter.Send(ctx, chain.SendRequest{
			Currency: currency,
			To:       tx.Address,
			Amount:   tx.Amount,
			Memo:     tx.Memo,
		})
		if err == nil {
			break
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if requeueErr := s.requeueClaimed(context.Background(), []models.Transaction{tx}); requeueErr != nil {
				zap.L().Error("failed to requeue withdrawal after chain cancellation",
					zap.Error(requeueErr), zap.String("transaction_id", tx.ID.String()))
			}
			return
		}
		if chain.IsPermanent(err) {
			observability.IncrementChainCallError(currency.Chain, "permanent")
			s.failWithdrawal(ctx, tx, err.Error())
			return
		}
		observability.IncrementChainCallError(currency.Chain, "transient")
		zap.L().Warn("withdrawal broadcast attempt failed",
			zap.Error(err),
			zap.String("transaction_id", tx.ID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		s.failWithdrawal(ctx, tx, fmt.Sprintf("broadcast retries exhausted: %v", err))
		return
	}

	if err := s.markBroadcast(ctx, tx, receipt); err != nil {
		// The funds are on the chain. Leave the row PROCESSING with its
		// txid missing locally and let the reconciler resolve it by hash.
		zap.L().Error("withdrawal broadcast succeeded but txid persist failed",
			zap.Error(err),
			zap.String("transaction_id", tx.ID.String()),
			zap.String("txid", receipt.TxID),
		)
		return
	}

	s.publish(ctx, events.Event{
		Type:          events.TypeWithdrawalSent,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		TxID:          receipt.TxID,
	})
	zap.L().Info("withdrawal broadcast",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("txid", receipt.TxID),
	)

	// Fast settle: some chains report finality at broadcast time. Anything
	// short of confirmed is left for the reconciler.
	tx.TxID = receipt.TxID
	status, statusErr := adapter.TxStatus(ctx, currency, receipt.TxID)
	if statusErr != nil || status.State != chain.TxConfirmed {
		return
	}
	if _, err := settleConfirmedWithdrawal(ctx, s.store, s.events, tx, status.Confirmations); err != nil {
		zap.L().Warn("immediate settlement failed, deferring to reconciler",
			zap.Error(err), zap.String("transaction_id", tx.ID.String()))
	}
}

func (s *WithdrawalService) markBroadcast(ctx context.Context, tx models.Transaction, receipt *chain.Receipt) error {
	rows, err := s.store.Queries().SetTransactionTxID(ctx, tx.ID, receipt.TxID)
	if err != nil {
		return fmt.Errorf("persist txid: %w", err)
	}
	return requireExactlyOne(rows, "persist txid")
}

// failWithdrawal marks the transaction FAILED and returns the locked funds.
// Limit usage is kept: the request consumed its quota when it was accepted.
func (s *WithdrawalService) failWithdrawal(ctx context.Context, tx models.Transaction, reason string) {
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		changed, err := transitionTransactionState(ctx, qtx, tx.ID, domain.TxStatusFailed, reason)
		if err != nil {
			return err
		}
		if changed {
			if err := releaseLockedFunds(ctx, qtx, tx.WalletID, tx.Amount.Add(tx.Fee)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		zap.L().Error("failed to mark withdrawal failed",
			zap.Error(err), zap.String("transaction_id", tx.ID.String()), zap.String("reason", reason))
		return
	}

	observability.IncrementWithdrawalOutcome(tx.Currency, "failed")
	s.publish(ctx, events.Event{
		Type:          events.TypeWithdrawalFailed,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Detail:        reason,
	})
	zap.L().Warn("withdrawal failed",
		zap.String("transaction_id", tx.ID.String()), zap.String("reason", reason))
}

func (s *WithdrawalService) publish(ctx context.Context, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		zap.L().Warn("event publish failed", zap.Error(err), zap.String("type", ev.Type))
	}
}
