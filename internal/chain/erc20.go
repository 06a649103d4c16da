package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"safe-trade-bot/internal/errs"
)

// ERC-20 function selectors, hand-packed. The surface is four calls; pulling
// in abigen bindings for it is not worth the generated code.
var (
	selBalanceOf = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selAllowance = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	selApprove   = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	selDecimals  = crypto.Keccak256([]byte("decimals()"))[:4]

	// TransferTopic is the Transfer(address,address,uint256) event signature.
	TransferTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))
)

func BalanceOfCalldata(owner common.Address) []byte {
	return append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(owner.Bytes(), 32)...)
}

func AllowanceCalldata(owner, spender common.Address) []byte {
	data := append([]byte{}, selAllowance...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
}

func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	data := append([]byte{}, selApprove...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
}

// TokenBalance reads an ERC-20 balance.
func (c *Client) TokenBalance(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error) {
	out, err := c.CallContract(ctx, tokenAddr, BalanceOfCalldata(owner))
	if err != nil {
		return nil, err
	}
	return parseUint256(out, "balanceOf")
}

// Allowance reads the ERC-20 allowance owner has granted spender.
func (c *Client) Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error) {
	out, err := c.CallContract(ctx, tokenAddr, AllowanceCalldata(owner, spender))
	if err != nil {
		return nil, err
	}
	return parseUint256(out, "allowance")
}

// TokenDecimals reads the decimals of an ERC-20 contract.
func (c *Client) TokenDecimals(ctx context.Context, tokenAddr common.Address) (int, error) {
	out, err := c.CallContract(ctx, tokenAddr, append([]byte{}, selDecimals...))
	if err != nil {
		return 0, err
	}
	v, err := parseUint256(out, "decimals")
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func parseUint256(ret []byte, what string) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, errs.Newf(errs.RPCConnectionFailed, "short %s return (%d bytes)", what, len(ret))
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// ParseTransferAmount scans a receipt for Transfer events of tokenAddr paid to
// `to` and returns their sum. Used to read the actual fill of a swap; zero
// means no matching transfer was logged.
func ParseTransferAmount(receipt *types.Receipt, tokenAddr, to common.Address) *big.Int {
	total := new(big.Int)
	if receipt == nil {
		return total
	}
	for _, lg := range receipt.Logs {
		if lg.Address != tokenAddr || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != to {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}
