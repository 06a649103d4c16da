package trading

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

// BalanceReader reads wallet balances on one network. *chain.Client
// satisfies it.
type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error)
}

// SizerConfig tunes position sizing.
type SizerConfig struct {
	// PositionPercent of the available base balance committed per trade,
	// bounded to [1, 80].
	PositionPercent int
	// MinPositionUSD and MaxPositionUSD bound the position when the base is
	// a stablecoin. Decimal strings; empty disables the bound.
	MinPositionUSD string
	MaxPositionUSD string
	// NativeGasReserveRaw is withheld from a native base balance so exits can
	// still pay for gas.
	NativeGasReserveRaw *big.Int
}

// Plan is a sized entry.
type Plan struct {
	SellAmountRaw *big.Int
	BalanceRaw    *big.Int
	Percent       int
}

// Sizer turns a validated trade into a concrete entry amount.
type Sizer struct {
	cfg SizerConfig
	// minSellAmount returns the aggregator's advisory floor per network, nil
	// when it has none.
	minSellAmount func(network token.NetworkKey) *big.Int
}

func NewSizer(cfg SizerConfig, minSellAmount func(network token.NetworkKey) *big.Int) *Sizer {
	return &Sizer{cfg: cfg, minSellAmount: minSellAmount}
}

// Size computes the entry amount for a trade from the wallet's base balance.
// All arithmetic is integer basis points on raw amounts.
func (s *Sizer) Size(ctx context.Context, reader BalanceReader, t *Trade) (*Plan, error) {
	percent := s.cfg.PositionPercent
	if percent < 1 || percent > 80 {
		return nil, errs.Newf(errs.InvalidPositionPercentage, "position percent %d outside [1, 80]", percent).
			WithContext(errs.Context{TradeID: t.ID})
	}

	sellLeg, _ := t.EntryLegs()
	wallet := common.HexToAddress(t.Wallet)
	var balance *big.Int
	var err error
	if sellLeg.IsNative {
		balance, err = reader.Balance(ctx, wallet)
	} else {
		balance, err = reader.TokenBalance(ctx, common.HexToAddress(sellLeg.ContractAddress), wallet)
	}
	if err != nil {
		return nil, err
	}

	available := balance
	if sellLeg.IsNative && s.cfg.NativeGasReserveRaw != nil {
		available = token.SubFloor(balance, s.cfg.NativeGasReserveRaw)
	}
	if available.Sign() <= 0 {
		code := errs.InsufficientStablecoinBalance
		if sellLeg.IsNative {
			code = errs.SafeInsufficientBalance
		}
		return nil, errs.Newf(code, "wallet holds no spendable %s (balance %s)", sellLeg.Symbol, token.FormatRaw(balance, sellLeg.Decimals)).
			WithContext(errs.Context{TradeID: t.ID, WalletAddress: t.Wallet, Network: string(t.Network)})
	}

	amount := token.PercentOfBps(available, int64(percent)*100)

	minimum := s.minimumFor(t, sellLeg)
	if minimum != nil && amount.Cmp(minimum) < 0 {
		return nil, errs.Newf(errs.PositionSizeTooSmall,
			"%d%% of %s %s is %s, below the %s minimum",
			percent, token.FormatRaw(available, sellLeg.Decimals), sellLeg.Symbol,
			token.FormatRaw(amount, sellLeg.Decimals), token.FormatRaw(minimum, sellLeg.Decimals)).
			WithContext(errs.Context{TradeID: t.ID, Symbol: t.Target.Symbol})
	}

	if maximum := s.maximumFor(sellLeg); maximum != nil && amount.Cmp(maximum) > 0 {
		return nil, errs.Newf(errs.PositionSizeTooLarge,
			"%d%% of the balance is %s %s, above the %s cap",
			percent, token.FormatRaw(amount, sellLeg.Decimals), sellLeg.Symbol,
			token.FormatRaw(maximum, sellLeg.Decimals)).
			WithContext(errs.Context{TradeID: t.ID, Symbol: t.Target.Symbol})
	}

	log.Debug().
		Str("tradeId", t.ID).
		Str("balance", token.FormatRaw(balance, sellLeg.Decimals)).
		Str("amount", token.FormatRaw(amount, sellLeg.Decimals)).
		Int("percent", percent).
		Msg("position sized")

	return &Plan{SellAmountRaw: amount, BalanceRaw: balance, Percent: percent}, nil
}

// minimumFor combines the configured USD floor (meaningful only for a
// stablecoin sell leg) with the aggregator's advisory minimum; the stricter
// one wins.
func (s *Sizer) minimumFor(t *Trade, sellLeg token.Binding) *big.Int {
	var minimum *big.Int
	if s.cfg.MinPositionUSD != "" && token.IsStablecoin(sellLeg.Symbol) {
		if raw, err := token.ToRaw(s.cfg.MinPositionUSD, sellLeg.Decimals); err == nil {
			minimum = raw
		}
	}
	if s.minSellAmount != nil {
		if adv := s.minSellAmount(t.Network); adv != nil {
			if minimum == nil {
				minimum = adv
			} else {
				minimum = token.MaxRaw(minimum, adv)
			}
		}
	}
	return minimum
}

func (s *Sizer) maximumFor(sellLeg token.Binding) *big.Int {
	if s.cfg.MaxPositionUSD == "" || !token.IsStablecoin(sellLeg.Symbol) {
		return nil
	}
	raw, err := token.ToRaw(s.cfg.MaxPositionUSD, sellLeg.Decimals)
	if err != nil {
		return nil
	}
	return raw
}
