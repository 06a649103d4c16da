package trading

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/aggregator"
	"safe-trade-bot/internal/chain"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/safe"
	"safe-trade-bot/internal/token"
)

// QuoteProvider prices swaps and knows the per-network permit contract.
// *aggregator.Client satisfies it.
type QuoteProvider interface {
	GetQuote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error)
	PermitContract(network token.NetworkKey) (common.Address, bool)
}

// ChainBackend is the per-network state the executor reads.
type ChainBackend interface {
	BalanceReader
	AllowanceReader
	ChainID() *big.Int
}

// Env bundles the per-network resources for one trade's wallet.
type Env struct {
	Chain  ChainBackend
	Wallet WalletExecutor
}

// Executor runs entries and exits: quote, allowances, wallet transaction,
// receipt, fill accounting.
type Executor struct {
	store       *Store
	quotes      QuoteProvider
	allowances  *AllowanceManager
	slippageBps int
	metrics     *Metrics

	// onExecuted is called after any landed transaction so the wallet
	// validation cache drops its now-stale balances.
	onExecuted func(wallet string, network token.NetworkKey)
}

func NewExecutor(store *Store, quotes QuoteProvider, allowances *AllowanceManager, slippageBps int, onExecuted func(wallet string, network token.NetworkKey)) *Executor {
	return &Executor{
		store:       store,
		quotes:      quotes,
		allowances:  allowances,
		slippageBps: slippageBps,
		metrics:     NewMetrics(),
		onExecuted:  onExecuted,
	}
}

// Metrics exposes swap latency and outcome counters for health reporting.
func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

// Enter executes the entry swap for a sized trade.
func (e *Executor) Enter(ctx context.Context, env Env, t *Trade, sellAmountRaw *big.Int) error {
	if err := e.store.Update(t.ID, func(t *Trade) error {
		return t.Transition(StateEntering)
	}); err != nil {
		return err
	}

	sellLeg, buyLeg := t.EntryLegs()
	receipt, fill, err := e.swap(ctx, env, t, ActionEnter, sellLeg, buyLeg, sellAmountRaw)
	if err != nil {
		return err
	}

	if err := e.store.Update(t.ID, func(t *Trade) error {
		if err := t.Transition(StateEntered); err != nil {
			return err
		}
		t.EntrySpentRaw = sellAmountRaw
		t.EntryFillRaw = fill
		t.PositionRaw = new(big.Int).Set(fill)
		t.EntryTxHash = receipt.TxHash.Hex()
		return nil
	}); err != nil {
		return err
	}

	log.Info().
		Str("tradeId", t.ID).
		Str("flowId", t.FlowID).
		Str("spent", token.FormatRaw(sellAmountRaw, sellLeg.Decimals)).
		Str("filled", token.FormatRaw(fill, buyLeg.Decimals)).
		Str("tx", receipt.TxHash.Hex()).
		Msg("position entered")
	return nil
}

// Exit executes one exit request. The final exit sells the entire remaining
// position so rounding never strands dust.
func (e *Executor) Exit(ctx context.Context, env Env, t *Trade, req *Request) error {
	var amount *big.Int
	if err := e.store.Update(t.ID, func(t *Trade) error {
		if req.Percent >= t.RemainingPercent() {
			amount = new(big.Int).Set(t.PositionRaw)
			return nil
		}
		amount = token.PercentOfBps(t.EntryFillRaw, int64(req.Percent)*100)
		if amount.Cmp(t.PositionRaw) > 0 {
			amount = new(big.Int).Set(t.PositionRaw)
		}
		return nil
	}); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return errs.Newf(errs.UnknownError, "exit amount is zero for %d%%", req.Percent).
			WithContext(errs.Context{TradeID: t.ID})
	}

	sellLeg, buyLeg := t.ExitLegs()
	receipt, fill, err := e.swap(ctx, env, t, ActionExit, sellLeg, buyLeg, amount)
	if err != nil {
		return err
	}

	percent := req.Percent
	if percent > t.RemainingPercent() {
		percent = t.RemainingPercent()
	}
	if err := e.store.Update(t.ID, func(t *Trade) error {
		return t.ApplyExit(ExitEvent{
			Reason:    req.Reason,
			Percent:   percent,
			AmountRaw: amount,
			Price:     req.Price,
			TxHash:    receipt.TxHash.Hex(),
			At:        time.Now(),
		})
	}); err != nil {
		return err
	}

	log.Info().
		Str("tradeId", t.ID).
		Str("flowId", t.FlowID).
		Str("reason", string(req.Reason)).
		Int("percent", percent).
		Str("sold", token.FormatRaw(amount, sellLeg.Decimals)).
		Str("received", token.FormatRaw(fill, buyLeg.Decimals)).
		Str("tx", receipt.TxHash.Hex()).
		Msg("position exit executed")
	return nil
}

// swap quotes, ensures allowances, and routes the swap through the wallet.
// Returns the receipt and the buy-leg fill read from Transfer logs, falling
// back to the quote's hint when the logs carry no match.
func (e *Executor) swap(ctx context.Context, env Env, t *Trade, action Action, sellLeg, buyLeg token.Binding, sellAmountRaw *big.Int) (*types.Receipt, *big.Int, error) {
	timer := newSwapTimer()
	record := func(ok bool) {
		quoteMs, allowanceMs, executeMs := timer.breakdown()
		e.metrics.RecordSwap(action, ok, quoteMs, allowanceMs, executeMs)
	}

	quote, err := e.quotes.GetQuote(ctx, aggregator.QuoteRequest{
		Network:       t.Network,
		ChainID:       env.Chain.ChainID().Int64(),
		WalletAddress: env.Wallet.Address(),
		SellContract:  contractOrSentinel(sellLeg),
		BuyContract:   contractOrSentinel(buyLeg),
		SellAmountRaw: sellAmountRaw,
		SlippageBps:   e.slippageBps,
	})
	if err != nil {
		record(false)
		return nil, nil, err
	}
	timer.markQuoteDone()

	spenders := []common.Address{quote.Spender}
	if permit, ok := e.quotes.PermitContract(t.Network); ok {
		spenders = append(spenders, permit)
	}
	if err := e.allowances.Ensure(ctx, env.Chain, env.Wallet, sellLeg, spenders, sellAmountRaw); err != nil {
		record(false)
		return nil, nil, err
	}
	timer.markAllowanceDone()

	receipt, err := env.Wallet.ExecTransaction(ctx, safe.Call{
		To:    quote.To,
		Value: quote.Value,
		Data:  quote.Data,
	})
	timer.markExecuteDone()
	if e.onExecuted != nil {
		e.onExecuted(t.Wallet, t.Network)
	}
	if err != nil {
		record(false)
		return nil, nil, err
	}
	if !safe.ReceiptOK(receipt) {
		record(false)
		return nil, nil, errs.Newf(errs.SwapExecutionFailed, "swap transaction %s reverted", receipt.TxHash.Hex()).
			WithContext(errs.Context{TradeID: t.ID, Network: string(t.Network)})
	}
	record(true)

	var fill *big.Int
	if buyLeg.IsNative {
		// native proceeds do not emit Transfer logs; trust the quote
		fill = quote.BuyAmountHintRaw
	} else {
		fill = chain.ParseTransferAmount(receipt, common.HexToAddress(buyLeg.ContractAddress), env.Wallet.Address())
		if fill.Sign() == 0 {
			fill = quote.BuyAmountHintRaw
		}
	}
	if fill == nil {
		fill = new(big.Int)
	}
	return receipt, fill, nil
}

func contractOrSentinel(b token.Binding) string {
	if b.IsNative {
		return token.NativeSentinel
	}
	return b.ContractAddress
}
