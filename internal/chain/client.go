// Package chain is the EVM access layer: one Client per configured network,
// plus gas fee selection and hand-packed ERC-20 calls.
package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

const (
	readTimeout     = 10 * time.Second
	receiptPollTick = 1 * time.Second
)

// Client wraps an ethclient connection to one network.
type Client struct {
	network token.NetworkKey
	chainID *big.Int
	eth     *ethclient.Client
}

// Dial connects to an RPC endpoint and verifies the chain id matches the
// configured one.
func Dial(ctx context.Context, network token.NetworkKey, rpcURL string, wantChainID int64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errs.Wrap(errs.RPCConnectionFailed, err, "dial "+string(network)).
			WithContext(errs.Context{Network: string(network)})
	}

	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	chainID, err := eth.ChainID(cctx)
	if err != nil {
		eth.Close()
		return nil, errs.Wrap(errs.RPCConnectionFailed, err, "chain id probe failed").
			WithContext(errs.Context{Network: string(network)})
	}
	if wantChainID != 0 && chainID.Int64() != wantChainID {
		eth.Close()
		return nil, errs.Newf(errs.ConfigurationError, "rpc for %s reports chain id %s, config says %d",
			network, chainID, wantChainID)
	}

	log.Info().Str("network", string(network)).Str("chainId", chainID.String()).Msg("rpc connected")
	return &Client{network: network, chainID: chainID, eth: eth}, nil
}

func (c *Client) Network() token.NetworkKey { return c.network }
func (c *Client) ChainID() *big.Int         { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() {
	c.eth.Close()
}

// Code returns the deployed bytecode at an address. Empty means no contract.
func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, c.rpcErr(err, "read code")
	}
	return code, nil
}

// Balance returns the native balance of an address.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, c.rpcErr(err, "read balance")
	}
	return bal, nil
}

// CallContract performs a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, c.rpcErr(err, "contract call")
	}
	return out, nil
}

// PendingNonce returns the next nonce for an EOA including pending txs.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	n, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, c.rpcErr(err, "read nonce")
	}
	return n, nil
}

// EstimateGas estimates gas for a transaction from the signer EOA.
func (c *Client) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return 0, c.rpcErr(err, "estimate gas")
	}
	return gas, nil
}

// SendTx broadcasts a signed transaction.
func (c *Client) SendTx(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return c.rpcErr(err, "broadcast transaction")
	}
	log.Debug().Str("network", string(c.network)).Str("tx", tx.Hash().Hex()).Msg("transaction broadcast")
	return nil
}

// WaitReceipt polls for a transaction receipt until it lands or the timeout
// elapses.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollTick)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			log.Debug().Str("tx", hash.Hex()).Err(err).Msg("receipt poll error")
		}

		select {
		case <-ctx.Done():
			return nil, errs.Newf(errs.TransactionTimeout, "transaction %s not confirmed within %s", hash.Hex(), timeout).
				WithContext(errs.Context{Network: string(c.network)})
		case <-ticker.C:
		}
	}
}

// rpcErr classifies transport failures. Congestion-style responses map to
// NETWORK_CONGESTION, everything else to RPC_CONNECTION_FAILED.
func (c *Client) rpcErr(err error, op string) *errs.Error {
	msg := strings.ToLower(err.Error())
	code := errs.RPCConnectionFailed
	switch {
	case strings.Contains(msg, "underpriced") || strings.Contains(msg, "fee cap") || strings.Contains(msg, "congest"):
		code = errs.NetworkCongestion
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		code = errs.APIRateLimited
	}
	return errs.Wrap(code, err, op).WithContext(errs.Context{Network: string(c.network)})
}
