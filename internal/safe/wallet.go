// Package safe drives the multi-signature wallet contract: reading its
// configuration, and executing swaps through execTransaction with a
// single-owner threshold-1 signature.
package safe

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/chain"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

const walletABIJSON = `[
	{"name":"getOwners","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]},
	{"name":"getThreshold","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"name":"nonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"name":"getTransactionHash","type":"function","stateMutability":"view","inputs":[
		{"type":"address"},{"type":"uint256"},{"type":"bytes"},{"type":"uint8"},
		{"type":"uint256"},{"type":"uint256"},{"type":"uint256"},{"type":"address"},
		{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bytes32"}]},
	{"name":"execTransaction","type":"function","stateMutability":"payable","inputs":[
		{"type":"address"},{"type":"uint256"},{"type":"bytes"},{"type":"uint8"},
		{"type":"uint256"},{"type":"uint256"},{"type":"uint256"},{"type":"address"},
		{"type":"address"},{"type":"bytes"}],"outputs":[{"type":"bool"}]}
]`

var walletABI = mustABI(walletABIJSON)

func mustABI(j string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return a
}

// Backend is the slice of the chain client the wallet needs. *chain.Client
// satisfies it.
type Backend interface {
	Network() token.NetworkKey
	ChainID() *big.Int
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error)
	SuggestFees(ctx context.Context, opts chain.FeeOptions) (chain.Fees, error)
	SendTx(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Call is an inner transaction routed through the wallet.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Wallet executes calls through one multi-sig deployment with one owner key.
type Wallet struct {
	backend Backend
	address common.Address
	signer  *ecdsa.PrivateKey
	signerA common.Address

	feeOpts        chain.FeeOptions
	confirmTimeout time.Duration
}

func NewWallet(backend Backend, address common.Address, signer *ecdsa.PrivateKey, feeOpts chain.FeeOptions, confirmTimeout time.Duration) *Wallet {
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Wallet{
		backend:        backend,
		address:        address,
		signer:         signer,
		signerA:        crypto.PubkeyToAddress(signer.PublicKey),
		feeOpts:        feeOpts,
		confirmTimeout: confirmTimeout,
	}
}

func (w *Wallet) Address() common.Address       { return w.address }
func (w *Wallet) Network() token.NetworkKey     { return w.backend.Network() }
func (w *Wallet) SignerAddress() common.Address { return w.signerA }

// Owners reads the wallet's owner set.
func (w *Wallet) Owners(ctx context.Context) ([]common.Address, error) {
	return readOwners(ctx, w.backend, w.address)
}

// Threshold reads the confirmation threshold.
func (w *Wallet) Threshold(ctx context.Context) (int, error) {
	return readThreshold(ctx, w.backend, w.address)
}

// Nonce reads the wallet's internal transaction nonce.
func (w *Wallet) Nonce(ctx context.Context) (*big.Int, error) {
	out, err := viewCall(ctx, w.backend, w.address, "nonce")
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, errs.New(errs.SafeInvalidConfiguration, "nonce returned unexpected shape")
	}
	return n, nil
}

// ExecTransaction routes a call through the wallet: hash the inner
// transaction on-chain, sign the digest with the owner key, then broadcast
// execTransaction from the signer EOA and wait for the receipt.
func (w *Wallet) ExecTransaction(ctx context.Context, call Call) (*types.Receipt, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	walletNonce, err := w.Nonce(ctx)
	if err != nil {
		return nil, err
	}

	zero := new(big.Int)
	zeroAddr := common.Address{}
	hashData, err := walletABI.Pack("getTransactionHash",
		call.To, value, call.Data, uint8(0),
		zero, zero, zero, zeroAddr, zeroAddr, walletNonce)
	if err != nil {
		return nil, errs.Wrap(errs.UnknownError, err, "pack getTransactionHash")
	}
	ret, err := w.backend.CallContract(ctx, w.address, hashData)
	if err != nil {
		return nil, err
	}
	if len(ret) < 32 {
		return nil, errs.New(errs.SafeInvalidConfiguration, "short transaction hash return")
	}
	digest := ret[:32]

	sig, err := crypto.Sign(digest, w.signer)
	if err != nil {
		return nil, errs.Wrap(errs.SwapExecutionFailed, err, "sign wallet transaction")
	}
	// contract signature encoding wants v in {27,28}
	sig[64] += 27

	execData, err := walletABI.Pack("execTransaction",
		call.To, value, call.Data, uint8(0),
		zero, zero, zero, zeroAddr, zeroAddr, sig)
	if err != nil {
		return nil, errs.Wrap(errs.UnknownError, err, "pack execTransaction")
	}

	tx, err := w.buildOuterTx(ctx, execData)
	if err != nil {
		return nil, err
	}
	if err := w.backend.SendTx(ctx, tx); err != nil {
		return nil, err
	}

	log.Info().
		Str("network", string(w.backend.Network())).
		Str("wallet", w.address.Hex()).
		Str("tx", tx.Hash().Hex()).
		Str("walletNonce", walletNonce.String()).
		Msg("wallet transaction broadcast")

	receipt, err := w.backend.WaitReceipt(ctx, tx.Hash(), w.confirmTimeout)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (w *Wallet) buildOuterTx(ctx context.Context, execData []byte) (*types.Transaction, error) {
	nonce, err := w.backend.PendingNonce(ctx, w.signerA)
	if err != nil {
		return nil, err
	}
	fees, err := w.backend.SuggestFees(ctx, w.feeOpts)
	if err != nil {
		return nil, err
	}

	gas, err := w.backend.EstimateGas(ctx, w.signerA, w.address, nil, execData)
	if err != nil {
		// Estimation reverting usually means the inner call will revert too,
		// but some RPCs refuse estimation against fresh state. Fall back to a
		// generous fixed limit and let the receipt decide.
		log.Warn().Err(err).Msg("gas estimation failed, using fallback limit")
		gas = 600_000
	} else {
		gas = gas + gas/5
	}

	chainID := w.backend.ChainID()
	var tx *types.Transaction
	if fees.Dynamic {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
			Gas:       gas,
			To:        &w.address,
			Data:      execData,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &w.address,
			Data:     execData,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.signer)
	if err != nil {
		return nil, errs.Wrap(errs.SwapExecutionFailed, err, "sign outer transaction")
	}
	return signed, nil
}
