package trading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/pricefeed"
	"safe-trade-bot/internal/signal"
)

// Emission is the monitor telling the scheduler that an exit rule fired. The
// scheduler decides what, if anything, gets executed.
type Emission struct {
	TradeID string
	Reason  ExitReason
	Price   float64
	At      time.Time
}

// MonitorConfig tunes the price watch loop.
type MonitorConfig struct {
	Interval time.Duration
	// TrailingStopBps is the giveback from the best price after TP2 arms the
	// trailing stop, in basis points.
	TrailingStopBps int64
}

// watch is the per-trade monitoring state.
type watch struct {
	trade *Trade

	tp1Hit       bool
	tp2Hit       bool
	trailing     bool
	extreme      float64
	emittedFinal bool
}

// Monitor evaluates open positions against live prices. Per tick each trade
// produces at most one emission, chosen by precedence: deadline, stop-loss,
// trailing stop, TP2, TP1. Protecting capital always outranks taking profit.
type Monitor struct {
	cfg    MonitorConfig
	prices pricefeed.Source

	mu      sync.Mutex
	watches map[string]*watch

	emissions chan Emission

	// optional hooks into the price stream's subscription set
	onAttach func(symbol string)
	onDetach func(symbol string)

	now func() time.Time
}

func NewMonitor(cfg MonitorConfig, prices pricefeed.Source) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.TrailingStopBps <= 0 {
		cfg.TrailingStopBps = 200
	}
	return &Monitor{
		cfg:       cfg,
		prices:    prices,
		watches:   make(map[string]*watch),
		emissions: make(chan Emission, 64),
		now:       time.Now,
	}
}

// SetStreamHooks wires symbol subscription into the price stream.
func (m *Monitor) SetStreamHooks(onAttach, onDetach func(symbol string)) {
	m.onAttach = onAttach
	m.onDetach = onDetach
}

// SetInterval changes the tick cadence; Run picks it up on its next tick.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.cfg.Interval = d
	m.mu.Unlock()
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Interval
}

// Emissions is consumed by the scheduler.
func (m *Monitor) Emissions() <-chan Emission {
	return m.emissions
}

// Attach starts watching an entered trade.
func (m *Monitor) Attach(t *Trade) {
	m.mu.Lock()
	if _, exists := m.watches[t.ID]; !exists {
		m.watches[t.ID] = &watch{trade: t}
	}
	m.mu.Unlock()

	if m.onAttach != nil {
		m.onAttach(t.Target.Symbol)
	}
	log.Debug().Str("tradeId", t.ID).Str("symbol", t.Target.Symbol).Msg("monitoring position")
}

// Detach stops watching a trade.
func (m *Monitor) Detach(tradeID string) {
	m.mu.Lock()
	w, ok := m.watches[tradeID]
	if ok {
		delete(m.watches, tradeID)
	}
	remaining := 0
	var symbol string
	if ok {
		symbol = w.trade.Target.Symbol
		for _, other := range m.watches {
			if other.trade.Target.Symbol == symbol {
				remaining++
			}
		}
	}
	m.mu.Unlock()

	if ok && remaining == 0 && m.onDetach != nil {
		m.onDetach(symbol)
	}
}

// Watching reports whether a trade is attached.
func (m *Monitor) Watching(tradeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[tradeID]
	return ok
}

// Run drives ticks until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	current := m.interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
			if d := m.interval(); d != current {
				current = d
				ticker.Reset(current)
			}
		}
	}
}

// Tick fetches prices for all watched symbols in one batch and evaluates
// every position.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	symbolSet := make(map[string]bool)
	watches := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
		symbolSet[w.trade.Target.Symbol] = true
	}
	m.mu.Unlock()

	if len(watches) == 0 {
		return
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}

	prices, err := m.prices.GetPrices(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("monitor tick skipped, prices unavailable")
		return
	}

	now := m.now()
	for _, w := range watches {
		price, ok := prices[normalizedSymbol(w.trade.Target.Symbol)]
		if !ok {
			continue
		}
		m.mu.Lock()
		em := m.evaluate(w, price.PriceUSD, now)
		m.mu.Unlock()
		if em == nil {
			continue
		}
		select {
		case m.emissions <- *em:
		case <-ctx.Done():
			return
		}
	}
}

// evaluate applies the precedence chain to one position. Trailing extremes
// update before the stop check so a tick that sets a new best cannot also
// fire the trail.
func (m *Monitor) evaluate(w *watch, price float64, now time.Time) *Emission {
	if w.emittedFinal {
		return nil
	}
	t := w.trade
	sig := t.Signal
	buySide := sig.Side == signal.SideBuy

	emit := func(reason ExitReason, final bool) *Emission {
		if final {
			w.emittedFinal = true
		}
		return &Emission{TradeID: t.ID, Reason: reason, Price: price, At: now}
	}

	if !now.Before(sig.DeadlineTime()) {
		return emit(ExitDeadline, true)
	}

	if beyondLoss(buySide, price, sig.StopLoss) {
		return emit(ExitStopLoss, true)
	}

	if w.trailing {
		if better(buySide, price, w.extreme) {
			w.extreme = price
		}
		if crossedTrail(buySide, price, w.extreme, m.cfg.TrailingStopBps) {
			return emit(ExitTrailingStop, true)
		}
	}

	if !w.tp2Hit && beyondProfit(buySide, price, sig.TakeProfit2) {
		w.tp2Hit = true
		w.tp1Hit = true
		if t.TrailingEnabled {
			w.trailing = true
			w.extreme = price
			return emit(ExitTP2, false)
		}
		return emit(ExitTP2, true)
	}

	if !w.tp1Hit && beyondProfit(buySide, price, sig.TakeProfit1) {
		w.tp1Hit = true
		return emit(ExitTP1, false)
	}

	return nil
}

func beyondProfit(buySide bool, price, level float64) bool {
	if buySide {
		return price >= level
	}
	return price <= level
}

func beyondLoss(buySide bool, price, level float64) bool {
	if buySide {
		return price <= level
	}
	return price >= level
}

func better(buySide bool, price, extreme float64) bool {
	if buySide {
		return price > extreme
	}
	return price < extreme
}

func crossedTrail(buySide bool, price, extreme float64, bps int64) bool {
	giveback := extreme * float64(bps) / 10_000
	if buySide {
		return price <= extreme-giveback
	}
	return price >= extreme+giveback
}

func normalizedSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
