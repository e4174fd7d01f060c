// Package bitcoin drives a bitcoind node over its JSON-RPC wallet API. The
// node's own wallet holds the hot funds; deposit addresses are generated
// locally and watched via importaddress.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

// bitcoind RPC error codes that retrying cannot fix.
const (
	rpcInvalidAddress    = -5
	rpcInvalidParam      = -8
	rpcWalletError       = -4
	rpcInsufficientFunds = -6
)

// Config points the adapter at a bitcoind wallet node.
type Config struct {
	URL      string // e.g. http://127.0.0.1:8332
	User     string
	Password string
	Network  string // mainnet | testnet | regtest
	Timeout  time.Duration
}

// Bitcoin is a chain.Adapter over bitcoind.
type Bitcoin struct {
	url    string
	user   string
	pass   string
	params *chaincfg.Params
	client *http.Client
	locks  *chain.AccountLock
	seq    atomic.Uint64
}

var _ chain.Adapter = (*Bitcoin)(nil)

func New(cfg Config, locks *chain.AccountLock) (*Bitcoin, error) {
	params, err := networkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Bitcoin{
		url:    cfg.URL,
		user:   cfg.User,
		pass:   cfg.Password,
		params: params,
		client: &http.Client{Timeout: timeout},
		locks:  locks,
	}, nil
}

func (b *Bitcoin) Chain() string { return domain.ChainBitcoin }

// GenerateAddress creates a P2PKH deposit address from a fresh random key
// and registers it with the node as watch-only so balance queries work.
func (b *Bitcoin) GenerateAddress(ctx context.Context, currency *models.Currency) (*chain.NewAddress, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate deposit key: %w", err)
	}

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, b.params)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}

	wif, err := btcutil.NewWIF(priv, b.params, true)
	if err != nil {
		return nil, fmt.Errorf("encode wif: %w", err)
	}

	encoded := addr.EncodeAddress()
	// rescan=false: the address cannot have any history yet.
	if err := b.call(ctx, "importaddress", []interface{}{encoded, "", false}, nil); err != nil {
		return nil, fmt.Errorf("import watch address: %w", err)
	}

	return &chain.NewAddress{
		Address:    encoded,
		PrivateKey: []byte(wif.String()),
	}, nil
}

func (b *Bitcoin) Balance(ctx context.Context, currency *models.Currency, address string) (decimal.Decimal, error) {
	var received json.Number
	params := []interface{}{address, int(currency.Confirmations)}
	if err := b.call(ctx, "getreceivedbyaddress", params, &received); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(received.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", received, err)
	}
	return bal, nil
}

func (b *Bitcoin) Send(ctx context.Context, req chain.SendRequest) (*chain.Receipt, error) {
	release := b.locks.Lock(domain.ChainBitcoin)
	defer release()

	if err := b.ValidateAddress(req.Currency, req.To); err != nil {
		return nil, err
	}

	var txid string
	params := []interface{}{req.To, req.Amount.StringFixed(8), req.Memo}
	if err := b.call(ctx, "sendtoaddress", params, &txid); err != nil {
		return nil, err
	}

	fee, _ := b.txFee(ctx, txid)
	return &chain.Receipt{TxID: txid, Fee: fee}, nil
}

func (b *Bitcoin) TxStatus(ctx context.Context, currency *models.Currency, txid string) (*chain.Status, error) {
	var res struct {
		Confirmations int64 `json:"confirmations"`
	}
	if err := b.call(ctx, "gettransaction", []interface{}{txid}, &res); err != nil {
		return nil, err
	}

	// A conflicted transaction reports negative confirmations.
	if res.Confirmations < 0 {
		return &chain.Status{State: chain.TxFailed}, nil
	}
	st := &chain.Status{State: chain.TxPending, Confirmations: uint32(res.Confirmations)}
	if uint32(res.Confirmations) >= currency.Confirmations {
		st.State = chain.TxConfirmed
	}
	return st, nil
}

// GetRate is unsupported: bitcoind has no market data RPC. Callers fall back
// to their configured rate source.
func (b *Bitcoin) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return decimal.Zero, chain.ErrNoRate
}

func (b *Bitcoin) ValidateAddress(currency *models.Currency, address string) error {
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil || !addr.IsForNet(b.params) {
		return chain.Permanent(domain.ErrInvalidAddress)
	}
	return nil
}

func (b *Bitcoin) txFee(ctx context.Context, txid string) (decimal.Decimal, error) {
	var res struct {
		Fee json.Number `json:"fee"`
	}
	if err := b.call(ctx, "gettransaction", []interface{}{txid}, &res); err != nil {
		return decimal.Zero, err
	}
	fee, err := decimal.NewFromString(res.Fee.String())
	if err != nil {
		return decimal.Zero, err
	}
	// bitcoind reports the fee as a negative debit.
	return fee.Abs(), nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (b *Bitcoin) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      b.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.SetBasicAuth(b.user, b.pass)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return chain.Transient(fmt.Errorf("bitcoind %s: %w", method, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chain.Transient(fmt.Errorf("read rpc response: %w", err))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return chain.Transient(fmt.Errorf("decode rpc response: %w", err))
	}
	if rpcResp.Error != nil {
		return classifyRPCError(method, rpcResp.Error)
	}
	if out != nil {
		dec := json.NewDecoder(bytes.NewReader(rpcResp.Result))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func classifyRPCError(method string, e *rpcError) error {
	err := fmt.Errorf("bitcoind %s: %s (code %d)", method, e.Message, e.Code)
	switch e.Code {
	case rpcInvalidAddress, rpcInvalidParam, rpcWalletError, rpcInsufficientFunds:
		return chain.Permanent(err)
	}
	return chain.Transient(err)
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unsupported bitcoin network: %s", network)
}
