package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/repository"
)

// fakeStore is an in-memory repository.Querier with the same guarded-update
// semantics as the SQL layer. RunInTx snapshots state and restores it when
// the callback fails, and serializes transactions the way row locks do.
type fakeStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	currencies map[string]models.Currency
	users      map[uuid.UUID]models.User
	wallets    map[uuid.UUID]models.Wallet
	txs        map[uuid.UUID]models.Transaction
	txOrder    []uuid.UUID
	addrs      map[uuid.UUID]models.DepositAddress
	addrOrder  []uuid.UUID
	limits     map[uuid.UUID]models.WithdrawalLimit
	limitOrder []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		currencies: make(map[string]models.Currency),
		users:      make(map[uuid.UUID]models.User),
		wallets:    make(map[uuid.UUID]models.Wallet),
		txs:        make(map[uuid.UUID]models.Transaction),
		addrs:      make(map[uuid.UUID]models.DepositAddress),
		limits:     make(map[uuid.UUID]models.WithdrawalLimit),
	}
}

func (f *fakeStore) Queries() repository.Querier { return f }

func (f *fakeStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

type fakeSnapshot struct {
	wallets    map[uuid.UUID]models.Wallet
	txs        map[uuid.UUID]models.Transaction
	txOrder    []uuid.UUID
	addrs      map[uuid.UUID]models.DepositAddress
	addrOrder  []uuid.UUID
	limits     map[uuid.UUID]models.WithdrawalLimit
	limitOrder []uuid.UUID
}

func (f *fakeStore) snapshot() fakeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := fakeSnapshot{
		wallets: make(map[uuid.UUID]models.Wallet, len(f.wallets)),
		txs:     make(map[uuid.UUID]models.Transaction, len(f.txs)),
		addrs:   make(map[uuid.UUID]models.DepositAddress, len(f.addrs)),
		limits:  make(map[uuid.UUID]models.WithdrawalLimit, len(f.limits)),
	}
	for k, v := range f.wallets {
		s.wallets[k] = v
	}
	for k, v := range f.txs {
		s.txs[k] = v
	}
	for k, v := range f.addrs {
		s.addrs[k] = v
	}
	for k, v := range f.limits {
		s.limits[k] = v
	}
	s.txOrder = append([]uuid.UUID(nil), f.txOrder...)
	s.addrOrder = append([]uuid.UUID(nil), f.addrOrder...)
	s.limitOrder = append([]uuid.UUID(nil), f.limitOrder...)
	return s
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets = s.wallets
	f.txs = s.txs
	f.txOrder = s.txOrder
	f.addrs = s.addrs
	f.addrOrder = s.addrOrder
	f.limits = s.limits
	f.limitOrder = s.limitOrder
}

// Seed helpers.

func (f *fakeStore) seedCurrency(c models.Currency) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currencies[c.Code] = c
}

func (f *fakeStore) seedWallet(userID uuid.UUID, currency string, balance decimal.Decimal) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := models.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: currency,
		Balance:  balance,
	}
	f.wallets[w.ID] = w
	return w.ID
}

func (f *fakeStore) seedLimit(userID uuid.UUID, currency, period string, limit decimal.Decimal, resetAt time.Time) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := models.WithdrawalLimit{
		ID:          uuid.New(),
		UserID:      userID,
		Currency:    currency,
		Period:      period,
		Tier:        1,
		LimitAmount: limit,
		ResetAt:     resetAt,
	}
	f.limits[l.ID] = l
	f.limitOrder = append(f.limitOrder, l.ID)
	return l.ID
}

func (f *fakeStore) wallet(id uuid.UUID) models.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[id]
}

func (f *fakeStore) transaction(id uuid.UUID) models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[id]
}

func (f *fakeStore) limit(id uuid.UUID) models.WithdrawalLimit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limits[id]
}

func (f *fakeStore) depositAddress(id uuid.UUID) models.DepositAddress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrs[id]
}

// Currencies.

func (f *fakeStore) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.currencies[code]
	if !ok || !c.IsActive {
		return nil, domain.ErrCurrencyNotFound
	}
	out := c
	return &out, nil
}

func (f *fakeStore) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Currency
	for _, c := range f.currencies {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// Users.

func (f *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := u
	return &out, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.CreatedAt = time.Now()
	f.users[user.ID] = *user
	return nil
}

// Wallets.

func (f *fakeStore) CreateWallet(ctx context.Context, w *models.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	f.wallets[w.ID] = *w
	return nil
}

func (f *fakeStore) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.UserID == userID && w.Currency == currency {
			out := w
			return &out, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (f *fakeStore) GetWalletForUpdate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return f.GetWallet(ctx, userID, currency)
}

func (f *fakeStore) ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) SetWalletAddress(ctx context.Context, id uuid.UUID, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[id]
	if !ok {
		return 0, nil
	}
	w.Address = address
	f.wallets[id] = w
	return 1, nil
}

func (f *fakeStore) AddWalletBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[id]
	if !ok || !amount.IsPositive() {
		return 0, nil
	}
	w.Balance = w.Balance.Add(amount)
	f.wallets[id] = w
	return 1, nil
}

func (f *fakeStore) LockWalletFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[id]
	if !ok || w.Balance.Sub(w.Locked).LessThan(amount) {
		return 0, nil
	}
	w.Locked = w.Locked.Add(amount)
	f.wallets[id] = w
	return 1, nil
}

func (f *fakeStore) SettleLockedFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[id]
	if !ok || w.Locked.LessThan(amount) || w.Balance.LessThan(amount) {
		return 0, nil
	}
	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Sub(amount)
	f.wallets[id] = w
	return 1, nil
}

func (f *fakeStore) ReleaseLockedToBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[id]
	if !ok || w.Locked.LessThan(amount) {
		return 0, nil
	}
	w.Locked = w.Locked.Sub(amount)
	f.wallets[id] = w
	return 1, nil
}

func (f *fakeStore) ListInconsistentWallets(ctx context.Context, limit int32) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.Balance.IsNegative() || w.Locked.IsNegative() || w.Balance.LessThan(w.Locked) {
			out = append(out, w)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Transactions.

func (f *fakeStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	f.txs[tx.ID] = *tx
	f.txOrder = append(f.txOrder, tx.ID)
	return nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := tx
	return &out, nil
}

func (f *fakeStore) GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return "", domain.ErrTransactionNotFound
	}
	return tx.Status, nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[arg.ID]
	if !ok {
		return 0, nil
	}
	tx.Status = arg.Status
	tx.ErrorMessage = arg.ErrorMessage
	tx.UpdatedAt = time.Now()
	if arg.SetCompleted {
		now := time.Now()
		tx.CompletedAt = &now
	}
	f.txs[arg.ID] = tx
	return 1, nil
}

func (f *fakeStore) SetTransactionTxID(ctx context.Context, id uuid.UUID, txid string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return 0, nil
	}
	tx.TxID = txid
	tx.UpdatedAt = time.Now()
	f.txs[id] = tx
	return 1, nil
}

func (f *fakeStore) UpdateTransactionConfirmations(ctx context.Context, id uuid.UUID, confirmations uint32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return 0, nil
	}
	tx.Confirmations = confirmations
	tx.UpdatedAt = time.Now()
	f.txs[id] = tx
	return 1, nil
}

func (f *fakeStore) ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, id := range f.txOrder {
		tx := f.txs[id]
		if tx.Type == domain.TxTypeWithdrawal && tx.Status == domain.TxStatusPending {
			out = append(out, tx)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, tx := range f.txs {
		if tx.Type == domain.TxTypeWithdrawal && tx.Status == domain.TxStatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListStaleProcessingWithdrawals(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, id := range f.txOrder {
		tx := f.txs[id]
		if tx.Type == domain.TxTypeWithdrawal && tx.Status == domain.TxStatusProcessing &&
			tx.TxID == "" && tx.UpdatedAt.Before(cutoff) {
			out = append(out, tx)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListBroadcastWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, id := range f.txOrder {
		tx := f.txs[id]
		if tx.Type == domain.TxTypeWithdrawal && tx.Status == domain.TxStatusProcessing && tx.TxID != "" {
			out = append(out, tx)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListUserTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.Transaction
	for i := len(f.txOrder) - 1; i >= 0; i-- {
		tx := f.txs[f.txOrder[i]]
		if tx.UserID == userID {
			all = append(all, tx)
		}
	}
	if int(offset) >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if int32(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Deposit addresses.

func (f *fakeStore) CreateDepositAddress(ctx context.Context, a *models.DepositAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	f.addrs[a.ID] = *a
	f.addrOrder = append(f.addrOrder, a.ID)
	return nil
}

func (f *fakeStore) GetDepositAddress(ctx context.Context, id uuid.UUID) (*models.DepositAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addrs[id]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	out := a
	return &out, nil
}

func (f *fakeStore) ListDueDepositAddresses(ctx context.Context, now time.Time, limit int32) ([]models.DepositAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DepositAddress
	for _, id := range f.addrOrder {
		a := f.addrs[id]
		if a.IsActive && !a.NextCheckAt.After(now) {
			out = append(out, a)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListUserDepositAddresses(ctx context.Context, userID uuid.UUID, currency string) ([]models.DepositAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DepositAddress
	for _, id := range f.addrOrder {
		a := f.addrs[id]
		if a.UserID == userID && a.IsActive && (currency == "" || a.Currency == currency) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateDepositAddressCheckpoint(ctx context.Context, arg repository.UpdateAddressCheckpointParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addrs[arg.ID]
	if !ok {
		return 0, nil
	}
	a.ObservedBalance = arg.ObservedBalance
	lc := arg.LastChecked
	a.LastChecked = &lc
	a.NextCheckAt = arg.NextCheckAt
	a.UpdatedAt = time.Now()
	f.addrs[arg.ID] = a
	return 1, nil
}

func (f *fakeStore) DeactivateDepositAddress(ctx context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addrs[id]
	if !ok {
		return 0, nil
	}
	a.IsActive = false
	a.UpdatedAt = time.Now()
	f.addrs[id] = a
	return 1, nil
}

// Withdrawal limits.

func (f *fakeStore) ListLimitsForUpdate(ctx context.Context, userID uuid.UUID, currency string) ([]models.WithdrawalLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WithdrawalLimit
	for _, id := range f.limitOrder {
		l := f.limits[id]
		if l.UserID == userID && l.Currency == currency {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateLimitUsage(ctx context.Context, id uuid.UUID, used decimal.Decimal, resetAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limits[id]
	if !ok {
		return 0, nil
	}
	l.UsedAmount = used
	l.ResetAt = resetAt
	l.UpdatedAt = time.Now()
	f.limits[id] = l
	return 1, nil
}

var _ repository.Querier = (*fakeStore)(nil)
var _ QueryStore = (*fakeStore)(nil)

// mockCurrency is the asset used throughout the service tests: precision 8,
// fixed 0.0001 fee, 0.001 minimums, riding the mock chain.
func mockCurrency() models.Currency {
	return models.Currency{
		Code:            "MCK",
		Name:            "Mock Coin",
		Kind:            "crypto",
		Chain:           domain.ChainMock,
		Network:         "mock",
		Precision:       8,
		MinWithdrawal:   decimal.RequireFromString("0.001"),
		MinDeposit:      decimal.RequireFromString("0.001"),
		WithdrawalFee:   decimal.RequireFromString("0.0001"),
		FeeType:         domain.FeeTypeFixed,
		DepositEnabled:  true,
		WithdrawEnabled: true,
		Confirmations:   3,
		IsActive:        true,
	}
}

func mockAddress() string {
	return "mock1" + "00112233445566778899aabbccddeeff00112233"
}
