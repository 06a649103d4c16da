package trading

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/chain"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/safe"
	"safe-trade-bot/internal/token"
)

// WalletExecutor routes calls through the multi-sig wallet. *safe.Wallet
// satisfies it.
type WalletExecutor interface {
	Address() common.Address
	ExecTransaction(ctx context.Context, call safe.Call) (*types.Receipt, error)
}

// AllowanceReader reads ERC-20 allowances. *chain.Client satisfies it.
type AllowanceReader interface {
	Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error)
}

const allowanceSettleDelay = 2 * time.Second

// AllowanceManager makes sure the aggregator can pull the sell token from the
// wallet. Approvals are unlimited: one approval per (token, spender) for the
// wallet's lifetime instead of one transaction per trade.
type AllowanceManager struct {
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewAllowanceManager() *AllowanceManager {
	return &AllowanceManager{sleep: sleepCtx}
}

// Ensure guarantees every spender can pull at least `needed` of sellToken
// from the wallet. Native sells need no allowance and return immediately.
func (m *AllowanceManager) Ensure(ctx context.Context, reader AllowanceReader, wallet WalletExecutor, sellToken token.Binding, spenders []common.Address, needed *big.Int) error {
	if sellToken.IsNative {
		return nil
	}
	tokenAddr := common.HexToAddress(sellToken.ContractAddress)

	seen := make(map[common.Address]bool, len(spenders))
	for _, spender := range spenders {
		if spender == (common.Address{}) || seen[spender] {
			continue
		}
		seen[spender] = true
		if err := m.ensureOne(ctx, reader, wallet, tokenAddr, sellToken, spender, needed); err != nil {
			return err
		}
	}
	return nil
}

func (m *AllowanceManager) ensureOne(ctx context.Context, reader AllowanceReader, wallet WalletExecutor, tokenAddr common.Address, sellToken token.Binding, spender common.Address, needed *big.Int) error {
	current, err := reader.Allowance(ctx, tokenAddr, wallet.Address(), spender)
	if err != nil {
		return err
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}

	log.Info().
		Str("token", sellToken.Symbol).
		Str("spender", spender.Hex()).
		Str("current", current.String()).
		Str("needed", needed.String()).
		Msg("granting unlimited allowance")

	receipt, err := wallet.ExecTransaction(ctx, safe.Call{
		To:   tokenAddr,
		Data: chain.ApproveCalldata(spender, token.MaxUint256),
	})
	if err != nil {
		return err
	}
	if !safe.ReceiptOK(receipt) {
		return errs.Newf(errs.SwapExecutionFailed, "approval transaction reverted for spender %s", spender.Hex()).
			WithContext(errs.Context{Symbol: sellToken.Symbol})
	}

	// Some RPCs serve stale state right after inclusion; give the allowance
	// a moment to settle before trusting the re-read.
	m.sleep(ctx, allowanceSettleDelay)

	settled, err := reader.Allowance(ctx, tokenAddr, wallet.Address(), spender)
	if err != nil {
		return err
	}
	if settled.Cmp(needed) < 0 {
		return errs.Newf(errs.SwapExecutionFailed, "allowance for %s did not settle: have %s, need %s",
			spender.Hex(), settled, needed).
			WithContext(errs.Context{Symbol: sellToken.Symbol})
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
