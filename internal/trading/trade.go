// Package trading is the orchestrator core: trade lifecycle, position
// sizing, swap execution through the wallet, position monitoring, and the
// exit scheduler.
package trading

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/signal"
	"safe-trade-bot/internal/token"
)

// State is the trade lifecycle state.
type State string

const (
	StatePending         State = "pending"
	StateEntering        State = "entering"
	StateEntered         State = "entered"
	StatePartiallyExited State = "partially_exited"
	StateExited          State = "exited"
	StateStoppedOut      State = "stopped_out"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateExited, StateStoppedOut, StateExpired, StateFailed:
		return true
	}
	return false
}

// transitions is the legal state graph. Anything not listed is a bug in the
// caller, not a recoverable condition.
var transitions = map[State][]State{
	StatePending:         {StateEntering, StateFailed},
	StateEntering:        {StateEntered, StateFailed},
	StateEntered:         {StatePartiallyExited, StateExited, StateStoppedOut, StateExpired, StateFailed},
	StatePartiallyExited: {StatePartiallyExited, StateExited, StateStoppedOut, StateExpired, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExitReason identifies which rule triggered an exit.
type ExitReason string

const (
	ExitTP1          ExitReason = "TP1"
	ExitTP2          ExitReason = "TP2"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitDeadline     ExitReason = "DEADLINE"
	ExitShutdown     ExitReason = "SHUTDOWN"
)

// terminalState maps a position-closing exit reason to the trade's final
// state.
func (r ExitReason) terminalState() State {
	switch r {
	case ExitStopLoss:
		return StateStoppedOut
	case ExitDeadline:
		return StateExpired
	}
	return StateExited
}

// ExitEvent is one executed exit. Percent is of the original position, so the
// sum across events never exceeds 100.
type ExitEvent struct {
	Reason    ExitReason
	Percent   int
	AmountRaw *big.Int
	Price     float64
	TxHash    string
	At        time.Time
}

// Trade is one accepted signal being worked.
type Trade struct {
	ID     string
	FlowID string
	Signal signal.Signal

	Network token.NetworkKey
	Wallet  string
	// Base funds the position (stablecoin or native); Target is what the
	// signal trades.
	Base   token.Binding
	Target token.Binding

	State State

	// EntrySpentRaw is the base amount spent on entry; PositionRaw is the
	// target amount currently held (what entry filled minus exits).
	EntrySpentRaw   *big.Int
	EntryFillRaw    *big.Int
	PositionRaw     *big.Int
	EntryTxHash     string
	ExitedPercent   int
	Exits           []ExitEvent
	TrailingEnabled bool

	FailCode    errs.Code
	FailMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryLegs returns what the entry swap sells and buys: a buy signal spends
// the base asset on the target, a sell signal unloads the target into base.
func (t *Trade) EntryLegs() (sell, buy token.Binding) {
	if t.Signal.Side == signal.SideSell {
		return t.Target, t.Base
	}
	return t.Base, t.Target
}

// ExitLegs is the reverse swap.
func (t *Trade) ExitLegs() (sell, buy token.Binding) {
	buy, sell = t.EntryLegs()
	return sell, buy
}

// Transition moves the trade to a new state, enforcing the lifecycle graph.
func (t *Trade) Transition(to State) error {
	if !canTransition(t.State, to) {
		return errs.Newf(errs.UnknownError, "illegal trade transition %s -> %s", t.State, to).
			WithContext(errs.Context{TradeID: t.ID})
	}
	t.State = to
	t.UpdatedAt = time.Now()
	return nil
}

// RemainingPercent is how much of the original position is still open.
func (t *Trade) RemainingPercent() int {
	return 100 - t.ExitedPercent
}

// ApplyExit records an executed exit and moves the trade to the resulting
// state: partial exits keep it open, the exit that empties the position
// closes it under the reason's terminal state.
func (t *Trade) ApplyExit(ev ExitEvent) error {
	if ev.Percent <= 0 || ev.Percent > t.RemainingPercent() {
		return errs.Newf(errs.UnknownError, "exit of %d%% exceeds remaining %d%%", ev.Percent, t.RemainingPercent()).
			WithContext(errs.Context{TradeID: t.ID})
	}

	next := StatePartiallyExited
	if ev.Percent == t.RemainingPercent() {
		next = ev.Reason.terminalState()
	}
	if err := t.Transition(next); err != nil {
		return err
	}

	t.ExitedPercent += ev.Percent
	t.Exits = append(t.Exits, ev)
	if ev.AmountRaw != nil && t.PositionRaw != nil {
		t.PositionRaw = token.SubFloor(t.PositionRaw, ev.AmountRaw)
	}
	return nil
}

// Fail closes the trade with an error classification.
func (t *Trade) Fail(err error) {
	e := errs.From(err)
	t.FailCode = e.Code
	t.FailMessage = e.Message
	t.State = StateFailed
	t.UpdatedAt = time.Now()
}

// Store holds live trades and their execution leases. A lease serializes
// transactions per trade: one in-flight wallet transaction at a time.
type Store struct {
	mu     sync.RWMutex
	trades map[string]*Trade
	leases map[string]bool
}

func NewStore() *Store {
	return &Store{
		trades: make(map[string]*Trade),
		leases: make(map[string]bool),
	}
}

// Put registers a trade. Duplicate ids are a programming error.
func (s *Store) Put(t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trades[t.ID]; exists {
		return fmt.Errorf("trade %s already exists", t.ID)
	}
	s.trades[t.ID] = t
	return nil
}

// Get returns the live trade; callers must only mutate it through Update.
func (s *Store) Get(id string) (*Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	return t, ok
}

// Update runs fn on the trade under the store lock.
func (s *Store) Update(id string, fn func(*Trade) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return fmt.Errorf("trade %s not found", id)
	}
	return fn(t)
}

// Acquire takes the execution lease for a trade. Returns false when another
// transaction is already in flight.
func (s *Store) Acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[id] {
		return false
	}
	s.leases[id] = true
	return true
}

// Release returns the lease.
func (s *Store) Release(id string) {
	s.mu.Lock()
	delete(s.leases, id)
	s.mu.Unlock()
}

// Open returns trades that still hold a position.
func (s *Store) Open() []*Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trade, 0, len(s.trades))
	for _, t := range s.trades {
		if !t.State.Terminal() {
			out = append(out, t)
		}
	}
	return out
}

// Len reports the number of tracked trades, terminal included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}
