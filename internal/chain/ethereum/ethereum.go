// Package ethereum drives ethereum-type networks. Ether and ERC20 tokens
// share one adapter; the currency's contract address selects the token path.
package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/shopspring/decimal"
	"github.com/tarancss/ethcli"
	"github.com/tarancss/hd"
	"golang.org/x/crypto/sha3"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var _ chain.Adapter = (*Ethereum)(nil)

// Config connects the adapter to a node and a signing wallet.
type Config struct {
	Node     string
	Secret   string // node auth, empty for open RPC
	Seed     []byte // hot wallet HD seed
	GasPrice uint64 // wei per gas, 0 lets the node price the transaction
}

// Ethereum is a chain.Adapter over a single ethereum JSON-RPC node.
type Ethereum struct {
	cli      *ethcli.EthCli
	wallet   *hd.HdWallet
	hotAddr  string
	hotKey   string
	gasPrice uint64
	locks    *chain.AccountLock
}

// New dials the node and derives the hot wallet signing account from the
// seed (account 0, external chain, index 0).
func New(cfg Config, locks *chain.AccountLock) (*Ethereum, error) {
	cli := ethcli.Init(cfg.Node, cfg.Secret)
	if cli == nil {
		return nil, fmt.Errorf("cannot connect to ethereum node %s", cfg.Node)
	}

	wallet, err := hd.Init(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("init hd wallet: %w", err)
	}
	addr, key, _, err := wallet.Address(0, hd.External, 0)
	if err != nil {
		return nil, fmt.Errorf("derive hot wallet account: %w", err)
	}

	return &Ethereum{
		cli:      cli,
		wallet:   wallet,
		hotAddr:  "0x" + hex.EncodeToString(addr),
		hotKey:   hex.EncodeToString(key),
		gasPrice: cfg.GasPrice,
		locks:    locks,
	}, nil
}

func (e *Ethereum) Chain() string { return domain.ChainEthereum }

func (e *Ethereum) Close() { e.cli.End() }

// HotWalletAddress is exposed for operational tooling.
func (e *Ethereum) HotWalletAddress() string { return e.hotAddr }

// GenerateAddress creates a standalone deposit account. Keys are random
// rather than HD-derived so a leaked key exposes exactly one address.
func (e *Ethereum) GenerateAddress(ctx context.Context, currency *models.Currency) (*chain.NewAddress, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate deposit key: %w", err)
	}
	return &chain.NewAddress{
		Address:    pubkeyToAddress(priv.PubKey().SerializeUncompressed()),
		PrivateKey: priv.Serialize(),
	}, nil
}

func (e *Ethereum) Balance(ctx context.Context, currency *models.Currency, address string) (decimal.Decimal, error) {
	ethBal, tokBal, err := e.cli.GetBalance(address, currency.ContractAddress)
	if err != nil {
		return decimal.Zero, chain.Transient(fmt.Errorf("get balance %s: %w", address, err))
	}
	raw := ethBal
	if currency.ContractAddress != "" {
		raw = tokBal
	}
	return decimal.NewFromBigInt(raw, -currency.Precision), nil
}

func (e *Ethereum) Send(ctx context.Context, req chain.SendRequest) (*chain.Receipt, error) {
	release := e.locks.Lock(domain.ChainEthereum)
	defer release()

	amount := req.Amount.Shift(req.Currency.Precision).BigInt().String()
	price, gas, hash, err := e.cli.SendTrx(e.hotAddr, req.To, req.Currency.ContractAddress,
		amount, nil, e.hotKey, e.gasPrice, false)
	if err != nil {
		return nil, classifySendError(err)
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(price), new(big.Int).SetUint64(gas))
	return &chain.Receipt{
		TxID: "0x" + hex.EncodeToString(hash),
		Fee:  decimal.NewFromBigInt(fee, -18), // gas is always paid in ether
	}, nil
}

func (e *Ethereum) TxStatus(ctx context.Context, currency *models.Currency, txid string) (*chain.Status, error) {
	trx, err := e.cli.GetTrx(txid)
	if err != nil {
		return nil, chain.Transient(fmt.Errorf("get transaction %s: %w", txid, err))
	}

	switch trx.Status {
	case ethcli.TrxFailed:
		return &chain.Status{State: chain.TxFailed}, nil
	case ethcli.TrxPending:
		return &chain.Status{State: chain.TxPending}, nil
	}

	confs := e.countConfirmations(trx.Blk, currency.Confirmations)
	st := &chain.Status{State: chain.TxPending, Confirmations: confs}
	if confs >= currency.Confirmations {
		st.State = chain.TxConfirmed
	}
	return st, nil
}

// countConfirmations probes block existence from the target height
// downwards. The chain tip is not directly exposed by the node client, and
// need is small enough that a linear probe is fine.
func (e *Ethereum) countConfirmations(minedAt uint64, need uint32) uint32 {
	if need == 0 {
		need = 1
	}
	for n := need; n >= 1; n-- {
		var resp map[string]interface{}
		err := e.cli.GetBlockByNumber(minedAt+uint64(n)-1, false, &resp)
		if err == nil {
			return n
		}
		if !errors.Is(err, ethcli.ErrNoBlock) {
			return 0
		}
	}
	return 0
}

// GetRate is unsupported: an execution node serves chain state, not market
// quotes. Callers fall back to their configured rate source.
func (e *Ethereum) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return decimal.Zero, chain.ErrNoRate
}

func (e *Ethereum) ValidateAddress(currency *models.Currency, address string) error {
	if !addressRe.MatchString(address) {
		return chain.Permanent(domain.ErrInvalidAddress)
	}
	return nil
}

func classifySendError(err error) error {
	if errors.Is(err, ethcli.ErrBadAmt) {
		return chain.Permanent(fmt.Errorf("broadcast rejected: %w", err))
	}
	return chain.Transient(fmt.Errorf("broadcast failed: %w", err))
}

// pubkeyToAddress hashes the uncompressed public key per the ethereum
// address scheme: keccak-256 of the 64 key bytes, last 20 bytes.
func pubkeyToAddress(uncompressed []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:]) // drop the 0x04 prefix
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}
