// Package chain verifies ERC-20 transfers against a blockchain node.
// It is pure verification: given a transaction hash it decides whether
// a payment of at least the expected amount reached the expected
// recipient, and never mutates application state.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// transferTopic is the keccak256 hash of the canonical ERC-20
// Transfer event signature.  Topic 1 is the sender, topic 2 the
// recipient, and the log data carries the value.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrNoTransfer is returned when the transaction was mined
// successfully but none of its logs is a Transfer of the expected
// asset to the expected recipient: the hash is real but pays someone
// else, or nothing at all.  Callers treat this as a terminal failure.
var ErrNoTransfer = errors.New("no matching transfer to recipient in transaction")

// assetDecimals maps supported chain families to the decimal places
// of their settlement asset.  USDC uses 6 everywhere it is deployed,
// but keeping this per-chain leaves room for the next family.
var assetDecimals = map[string]int32{
	"base": 6,
}

// RPCClient is the narrow slice of a chain node client the validator
// needs.  *ethclient.Client satisfies it; tests supply fakes.
type RPCClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config fixes the verification target.  All fields are required; an
// unsupported chain or a missing address is a configuration error
// surfaced at construction, not a validation failure.
type Config struct {
	Chain     string          // chain family, e.g. "base"
	Asset     string          // ERC-20 contract address of the settlement asset
	Recipient string          // address payments must be sent to
	Tolerance decimal.Decimal // absolute amount tolerance absorbing conversion rounding
}

// Result is the outcome of validating one transaction hash.
//
// Exactly one of three shapes comes back: Pending (the transaction is
// not observable yet — wait and retry), Valid (a sufficient transfer
// to the recipient was mined), or neither (mined but invalid —
// terminal).  The Pending/terminal distinction is the branch callers
// use to decide between waiting and giving up.
type Result struct {
	Valid       bool
	Pending     bool
	Amount      decimal.Decimal
	From        string
	To          string
	MinedAt     *time.Time
	BlockNumber uint64
	TxHash      string
	Message     string
}

// Validator checks transaction hashes against a single configured
// chain, asset and recipient.
type Validator struct {
	client      RPCClient
	asset       common.Address
	recipient   common.Address
	tolerance   decimal.Decimal
	decimals    int32
	retryDelays []time.Duration
}

// New constructs a Validator.  Only chains listed in assetDecimals
// are supported; anything else is a fatal configuration error.
func New(client RPCClient, cfg Config) (*Validator, error) {
	decimals, ok := assetDecimals[strings.ToLower(cfg.Chain)]
	if !ok {
		return nil, fmt.Errorf("unsupported chain %q", cfg.Chain)
	}
	if cfg.Recipient == "" {
		return nil, errors.New("recipient address not configured")
	}
	if cfg.Asset == "" {
		return nil, errors.New("asset contract address not configured")
	}
	if client == nil {
		return nil, errors.New("nil RPC client")
	}
	return &Validator{
		client:    client,
		asset:     common.HexToAddress(cfg.Asset),
		recipient: common.HexToAddress(cfg.Recipient),
		tolerance: cfg.Tolerance,
		decimals:  decimals,
		// Fixed delays tolerating propagation lag before the node
		// indexes a fresh transaction.
		retryDelays: []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second},
	}, nil
}

// Validate fetches the transaction and its receipt and decides
// whether it pays at least expectedAmount to the configured
// recipient.  A transaction the node cannot find after the retry
// budget is reported as pending, not as a failure.  RPC transport
// errors propagate to the caller, which applies its own escalation
// policy.
func (v *Validator) Validate(ctx context.Context, hash string, expectedAmount decimal.Decimal) (*Result, error) {
	txHash := common.HexToHash(hash)

	receipt, err := v.receiptWithRetry(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return &Result{
			Pending: true,
			TxHash:  txHash.Hex(),
			Message: "transaction not minable yet",
		}, nil
	}

	minedAt, err := v.minedAt(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}

	if receipt.Status == types.ReceiptStatusFailed {
		// Mined but reverted: the timestamp and block are real, the
		// payment is not.
		return &Result{
			Valid:       false,
			MinedAt:     minedAt,
			BlockNumber: receipt.BlockNumber.Uint64(),
			TxHash:      txHash.Hex(),
			Message:     "transaction failed on-chain",
		}, nil
	}

	transfer := v.findTransfer(receipt)
	if transfer == nil {
		return nil, ErrNoTransfer
	}

	amount := decimal.NewFromBigInt(new(big.Int).SetBytes(transfer.Data), -v.decimals)
	from := common.BytesToAddress(transfer.Topics[1].Bytes())

	res := &Result{
		Amount:      amount,
		From:        from.Hex(),
		To:          v.recipient.Hex(),
		MinedAt:     minedAt,
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      txHash.Hex(),
	}
	// Strictly more paid is fine; the tolerance only forgives
	// rounding shortfalls from upstream currency conversion.
	if amount.Add(v.tolerance).GreaterThanOrEqual(expectedAmount) {
		res.Valid = true
		res.Message = "transfer verified"
	} else {
		res.Message = fmt.Sprintf("insufficient amount: paid %s, expected %s", amount, expectedAmount)
	}
	return res, nil
}

// receiptWithRetry fetches the receipt, retrying "not found" with the
// fixed delay schedule.  Returns (nil, nil) when the transaction is
// still unobservable after the budget.
func (v *Validator) receiptWithRetry(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for attempt := 0; ; attempt++ {
		receipt, err := v.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		if attempt >= len(v.retryDelays) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.retryDelays[attempt]):
		}
	}
}

// findTransfer scans receipt logs for a Transfer of the configured
// asset whose destination topic decodes to the configured recipient.
// Address comparison is byte equality on normalized addresses, which
// makes it case-insensitive with respect to the hex input.
func (v *Validator) findTransfer(receipt *types.Receipt) *types.Log {
	for _, lg := range receipt.Logs {
		if lg.Address != v.asset {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != v.recipient {
			continue
		}
		return lg
	}
	return nil
}

// minedAt resolves the block timestamp for a mined transaction.
func (v *Validator) minedAt(ctx context.Context, blockNumber *big.Int) (*time.Time, error) {
	header, err := v.client.HeaderByNumber(ctx, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch block header: %w", err)
	}
	t := time.Unix(int64(header.Time), 0).UTC()
	return &t, nil
}
