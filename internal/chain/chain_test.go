package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestSelectors(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	if got := hex.EncodeToString(BalanceOfCalldata(owner)[:4]); got != "70a08231" {
		t.Errorf("balanceOf selector = %s", got)
	}
	if got := hex.EncodeToString(AllowanceCalldata(owner, spender)[:4]); got != "dd62ed3e" {
		t.Errorf("allowance selector = %s", got)
	}
	if got := hex.EncodeToString(ApproveCalldata(spender, big.NewInt(1))[:4]); got != "095ea7b3" {
		t.Errorf("approve selector = %s", got)
	}
	if TransferTopic.Hex() != "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef" {
		t.Errorf("transfer topic = %s", TransferTopic.Hex())
	}
}

func TestApproveCalldataLayout(t *testing.T) {
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data := ApproveCalldata(spender, amount)
	if len(data) != 4+32+32 {
		t.Fatalf("calldata length = %d", len(data))
	}
	// uint256 max is 32 bytes of 0xff
	for _, b := range data[36:] {
		if b != 0xff {
			t.Fatal("max approval not encoded as all-ones")
		}
	}
}

func TestDynamicFees(t *testing.T) {
	fees := DynamicFees(big.NewInt(100), big.NewInt(3))
	if !fees.Dynamic {
		t.Fatal("expected dynamic fees")
	}
	if fees.GasFeeCap.Int64() != 203 {
		t.Errorf("feeCap = %s, want baseFee*2+tip = 203", fees.GasFeeCap)
	}
	if fees.GasTipCap.Int64() != 3 {
		t.Errorf("tipCap = %s", fees.GasTipCap)
	}
}

func TestLegacyFees(t *testing.T) {
	fees := LegacyFees(big.NewInt(100), FeeOptions{GasBumpPercent: 20})
	if fees.Dynamic {
		t.Fatal("expected legacy fees")
	}
	if fees.GasPrice.Int64() != 120 {
		t.Errorf("gasPrice = %s, want 120", fees.GasPrice)
	}

	// floor clamp
	fees = LegacyFees(big.NewInt(1), FeeOptions{GasBumpPercent: 20, MinGasPrice: big.NewInt(50)})
	if fees.GasPrice.Int64() != 50 {
		t.Errorf("gasPrice = %s, want clamped to 50", fees.GasPrice)
	}

	// zero bump falls back to the default 20%
	fees = LegacyFees(big.NewInt(100), FeeOptions{})
	if fees.GasPrice.Int64() != 120 {
		t.Errorf("gasPrice with default bump = %s", fees.GasPrice)
	}
}

func TestParseTransferAmount(t *testing.T) {
	tokenAddr := common.HexToAddress("0xAAAA000000000000000000000000000000000000")
	wallet := common.HexToAddress("0xBBBB000000000000000000000000000000000000")
	other := common.HexToAddress("0xCCCC000000000000000000000000000000000000")

	transfer := func(tok, to common.Address, amount int64) *types.Log {
		return &types.Log{
			Address: tok,
			Topics: []common.Hash{
				TransferTopic,
				common.BytesToHash(other.Bytes()),
				common.BytesToHash(to.Bytes()),
			},
			Data: common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		}
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		transfer(tokenAddr, wallet, 100),
		transfer(tokenAddr, wallet, 50),
		transfer(tokenAddr, other, 999),  // different recipient
		transfer(other, wallet, 777),     // different token
	}}

	if got := ParseTransferAmount(receipt, tokenAddr, wallet); got.Int64() != 150 {
		t.Errorf("fill = %s, want 150", got)
	}
	if got := ParseTransferAmount(nil, tokenAddr, wallet); got.Sign() != 0 {
		t.Errorf("nil receipt fill = %s", got)
	}
}
