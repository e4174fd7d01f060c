package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/events"
	"github.com/seyilabs/chainvault/internal/keystore"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/repository"
)

// failedPollBackoff stretches the recheck delay after a failed poll so a
// struggling node gets queried less often than a healthy one.
const failedPollBackoff = 4

// DepositService issues watched deposit addresses and credits wallets from
// observed chain balances. Crediting is delta-based against a persisted
// checkpoint, so a poll repeated after a crash never double-credits.
type DepositService struct {
	store          QueryStore
	chains         *chain.Registry
	ledger         *LedgerService
	keys           *keystore.Keystore
	events         events.Publisher
	pollInterval   time.Duration
	chainIntervals map[string]time.Duration
}

func NewDepositService(store QueryStore, chains *chain.Registry, ledger *LedgerService, keys *keystore.Keystore, pub events.Publisher, pollInterval time.Duration) *DepositService {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &DepositService{
		store:          store,
		chains:         chains,
		ledger:         ledger,
		keys:           keys,
		events:         pub,
		pollInterval:   pollInterval,
		chainIntervals: make(map[string]time.Duration),
	}
}

// WithChainInterval overrides the poll interval for one chain. Slow chains
// like bitcoin mint blocks far apart; polling them at the default cadence
// only burns node calls.
func (s *DepositService) WithChainInterval(chainName string, interval time.Duration) *DepositService {
	if interval > 0 {
		s.chainIntervals[chainName] = interval
	}
	return s
}

func (s *DepositService) intervalFor(chainName string) time.Duration {
	if d, ok := s.chainIntervals[chainName]; ok {
		return d
	}
	return s.pollInterval
}

// CreateAddressInput holds the parameters for provisioning an address.
type CreateAddressInput struct {
	UserID   uuid.UUID
	Currency string
	Label    string
	Reusable bool
}

// CreateAddress generates fresh key material on the currency's chain,
// encrypts the private key and starts watching the address. The first
// address a wallet gets becomes its primary deposit address.
func (s *DepositService) CreateAddress(ctx context.Context, req CreateAddressInput) (*models.DepositAddress, error) {
	queries := s.store.Queries()

	currency, err := queries.GetCurrency(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	if !currency.DepositEnabled {
		return nil, domain.ErrDepositDisabled
	}

	wallet, err := s.ledger.CreateWallet(ctx, req.UserID, currency.Code)
	if err != nil {
		return nil, err
	}

	adapter, err := s.chains.ForCurrency(currency)
	if err != nil {
		return nil, err
	}
	generated, err := adapter.GenerateAddress(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("generate address: %w", err)
	}

	var keyBlob []byte
	if len(generated.PrivateKey) > 0 {
		if keyBlob, err = s.keys.Seal(generated.PrivateKey); err != nil {
			return nil, err
		}
	}

	addr := &models.DepositAddress{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Currency:       currency.Code,
		Address:        generated.Address,
		Memo:           generated.Memo,
		KeyBlob:        keyBlob,
		DerivationPath: generated.DerivationPath,
		Label:          req.Label,
		Reusable:       req.Reusable,
		IsActive:       true,
		NextCheckAt:    time.Now().Add(s.intervalFor(currency.Chain)),
	}
	if err := queries.CreateDepositAddress(ctx, addr); err != nil {
		return nil, err
	}

	if wallet.Address == "" {
		if _, err := queries.SetWalletAddress(ctx, wallet.ID, generated.Address); err != nil {
			zap.L().Warn("failed to set wallet primary address",
				zap.Error(err), zap.String("wallet_id", wallet.ID.String()))
		}
	}

	zap.L().Info("deposit address created",
		zap.String("currency", currency.Code),
		zap.String("address", generated.Address),
		zap.Bool("reusable", req.Reusable),
	)
	return addr, nil
}

func (s *DepositService) ListAddresses(ctx context.Context, userID uuid.UUID, currency string) ([]models.DepositAddress, error) {
	return s.store.Queries().ListUserDepositAddresses(ctx, userID, currency)
}

// PollDeposits checks every watched address that is due and credits any new
// funds. Address checkpoints advance even on no-op polls so one slow chain
// cannot starve the rest of the queue.
func (s *DepositService) PollDeposits(ctx context.Context, batchSize int32) error {
	due, err := s.store.Queries().ListDueDepositAddresses(ctx, time.Now(), batchSize)
	if err != nil {
		return fmt.Errorf("list due deposit addresses: %w", err)
	}

	for _, addr := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pollOne(ctx, addr); err != nil {
			zap.L().Warn("deposit poll failed",
				zap.Error(err),
				zap.String("currency", addr.Currency),
				zap.String("address", addr.Address),
			)
		}
	}
	return nil
}

func (s *DepositService) pollOne(ctx context.Context, addr models.DepositAddress) error {
	queries := s.store.Queries()

	currency, err := queries.GetCurrency(ctx, addr.Currency)
	if err != nil {
		return err
	}
	adapter, err := s.chains.ForCurrency(currency)
	if err != nil {
		return err
	}

	balance, err := adapter.Balance(ctx, currency, addr.Address)
	if err != nil {
		observability.IncrementChainCallError(currency.Chain, "transient")
		// Reschedule with a longer backoff so a dead node neither pins the
		// address at the head of the due queue nor gets hammered.
		return s.checkpoint(ctx, addr.ID, addr.ObservedBalance,
			s.intervalFor(currency.Chain)*failedPollBackoff)
	}

	delta := balance.Sub(addr.ObservedBalance)
	if !delta.IsPositive() || delta.LessThan(currency.MinDeposit) {
		return s.checkpoint(ctx, addr.ID, addr.ObservedBalance, s.intervalFor(currency.Chain))
	}

	credit := domain.Quantize(delta, currency.Precision)
	txID := uuid.New()
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		wallet, err := qtx.GetWalletForUpdate(ctx, addr.UserID, currency.Code)
		if err != nil {
			return err
		}
		if err := creditWalletBalance(ctx, qtx, wallet.ID, credit); err != nil {
			return err
		}

		tx := &models.Transaction{
			ID:            txID,
			UserID:        addr.UserID,
			WalletID:      wallet.ID,
			Currency:      currency.Code,
			Amount:        credit,
			Type:          domain.TxTypeDeposit,
			Status:        domain.TxStatusPending,
			Address:       addr.Address,
			Memo:          addr.Memo,
			Confirmations: currency.Confirmations,
			RequiredConfs: currency.Confirmations,
		}
		if err := qtx.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if _, err := transitionTransactionState(ctx, qtx, txID, domain.TxStatusProcessing, ""); err != nil {
			return err
		}
		if _, err := transitionTransactionState(ctx, qtx, txID, domain.TxStatusCompleted, ""); err != nil {
			return err
		}

		// The checkpoint moves in the same transaction as the credit.
		if _, err := qtx.UpdateDepositAddressCheckpoint(ctx, repository.UpdateAddressCheckpointParams{
			ID:              addr.ID,
			ObservedBalance: balance,
			LastChecked:     time.Now(),
			NextCheckAt:     time.Now().Add(s.intervalFor(currency.Chain)),
		}); err != nil {
			return err
		}
		if !addr.Reusable {
			if _, err := qtx.DeactivateDepositAddress(ctx, addr.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	observability.IncrementDepositCredited(currency.Code)
	if err := s.events.Publish(ctx, events.Event{
		Type:          events.TypeDepositCredited,
		UserID:        addr.UserID,
		TransactionID: txID,
		Currency:      currency.Code,
		Amount:        credit,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("event publish failed", zap.Error(err), zap.String("type", events.TypeDepositCredited))
	}

	zap.L().Info("deposit credited",
		zap.String("currency", currency.Code),
		zap.String("address", addr.Address),
		zap.String("amount", credit.String()),
	)
	return nil
}

func (s *DepositService) checkpoint(ctx context.Context, id uuid.UUID, observed decimal.Decimal, wait time.Duration) error {
	_, err := s.store.Queries().UpdateDepositAddressCheckpoint(ctx, repository.UpdateAddressCheckpointParams{
		ID:              id,
		ObservedBalance: observed,
		LastChecked:     time.Now(),
		NextCheckAt:     time.Now().Add(wait),
	})
	return err
}
