// Package signal defines the inbound trade signal, its validation rules, and
// the HTTP ingress that receives it.
package signal

import (
	"strings"
	"time"

	"safe-trade-bot/internal/errs"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Signal is one inbound trade instruction. Prices are USD levels used for
// monitoring; position sizes are derived later from wallet balances.
type Signal struct {
	SignalID      string  `json:"signal_id"`
	CallerID      string  `json:"caller_id"`
	WalletAddress string  `json:"wallet_address"`
	Side          Side    `json:"side"`
	Symbol        string  `json:"symbol"`
	EntryPrice    float64 `json:"entry_price"`
	TakeProfit1   float64 `json:"take_profit_1"`
	TakeProfit2   float64 `json:"take_profit_2"`
	StopLoss      float64 `json:"stop_loss"`
	// Deadline is a unix timestamp; the position is force-closed at this time
	// regardless of price.
	Deadline int64 `json:"deadline"`
}

// DeadlineTime converts the unix deadline.
func (s Signal) DeadlineTime() time.Time {
	return time.Unix(s.Deadline, 0)
}

// Validate checks shape, price-level ordering, and deadline. It does not
// touch the network; wallet and token checks happen during admission.
func (s Signal) Validate(now time.Time) error {
	switch {
	case strings.TrimSpace(s.SignalID) == "":
		return errs.New(errs.InvalidSignalFormat, "signal_id is required")
	case strings.TrimSpace(s.CallerID) == "":
		return errs.New(errs.InvalidSignalFormat, "caller_id is required")
	case strings.TrimSpace(s.WalletAddress) == "":
		return errs.New(errs.InvalidSignalFormat, "wallet_address is required")
	case strings.TrimSpace(s.Symbol) == "":
		return errs.New(errs.InvalidSignalFormat, "symbol is required")
	case s.Side != SideBuy && s.Side != SideSell:
		return errs.Newf(errs.InvalidSignalFormat, "side must be buy or sell, got %q", s.Side)
	case s.EntryPrice <= 0 || s.TakeProfit1 <= 0 || s.TakeProfit2 <= 0 || s.StopLoss <= 0:
		return errs.New(errs.InvalidSignalFormat, "all price levels must be positive")
	case s.Deadline <= 0:
		return errs.New(errs.InvalidSignalFormat, "deadline is required")
	}

	if err := s.validateLevels(); err != nil {
		return err
	}

	if !s.DeadlineTime().After(now) {
		return errs.Newf(errs.SignalExpired, "deadline %s is in the past", s.DeadlineTime().UTC().Format(time.RFC3339)).
			WithContext(errs.Context{SignalID: s.SignalID, Symbol: s.Symbol})
	}
	return nil
}

// validateLevels enforces the ordering per side: profit targets beyond entry,
// stop on the loss side, TP2 at least as far as TP1.
func (s Signal) validateLevels() error {
	ordered := false
	switch s.Side {
	case SideBuy:
		ordered = s.StopLoss < s.EntryPrice && s.EntryPrice < s.TakeProfit1 && s.TakeProfit1 <= s.TakeProfit2
	case SideSell:
		ordered = s.TakeProfit2 <= s.TakeProfit1 && s.TakeProfit1 < s.EntryPrice && s.EntryPrice < s.StopLoss
	}
	if !ordered {
		return errs.Newf(errs.InvalidPriceLevels,
			"%s levels out of order: sl=%v entry=%v tp1=%v tp2=%v",
			s.Side, s.StopLoss, s.EntryPrice, s.TakeProfit1, s.TakeProfit2).
			WithContext(errs.Context{SignalID: s.SignalID, Symbol: s.Symbol})
	}
	return nil
}
