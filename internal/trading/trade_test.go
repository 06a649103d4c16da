package trading

import (
	"math/big"
	"testing"
	"time"

	"safe-trade-bot/internal/signal"
	"safe-trade-bot/internal/token"
)

func newTestTrade(side signal.Side) *Trade {
	return &Trade{
		ID: "t-1",
		Signal: signal.Signal{
			SignalID:      "sig-1",
			CallerID:      "caller-1",
			WalletAddress: "0x1111111111111111111111111111111111111111",
			Side:          side,
			Symbol:        "PEPE",
			EntryPrice:    1.0,
			TakeProfit1:   1.05,
			TakeProfit2:   1.10,
			StopLoss:      0.95,
			Deadline:      time.Now().Add(time.Hour).Unix(),
		},
		Network: "base",
		Wallet:  "0x1111111111111111111111111111111111111111",
		Base:    token.Binding{Symbol: "USDC", Network: "base", ContractAddress: "0xaaaa000000000000000000000000000000000001", Decimals: 6},
		Target:  token.Binding{Symbol: "PEPE", Network: "base", ContractAddress: "0xbbbb000000000000000000000000000000000002", Decimals: 18},
		State:   StatePending,
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateEntering, true},
		{StatePending, StateFailed, true},
		{StatePending, StateEntered, false},
		{StateEntering, StateEntered, true},
		{StateEntering, StatePending, false},
		{StateEntered, StatePartiallyExited, true},
		{StateEntered, StateExited, true},
		{StateEntered, StateStoppedOut, true},
		{StateEntered, StateExpired, true},
		{StatePartiallyExited, StatePartiallyExited, true},
		{StatePartiallyExited, StateExited, true},
		{StateExited, StateEntering, false},
		{StateFailed, StateEntering, false},
	}
	for _, tc := range tests {
		tr := newTestTrade(signal.SideBuy)
		tr.State = tc.from
		err := tr.Transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected rejection", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []State{StateExited, StateStoppedOut, StateExpired, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []State{StatePending, StateEntering, StateEntered, StatePartiallyExited}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestEntryLegsBySide(t *testing.T) {
	buy := newTestTrade(signal.SideBuy)
	sell, bought := buy.EntryLegs()
	if sell.Symbol != "USDC" || bought.Symbol != "PEPE" {
		t.Errorf("buy entry legs = sell %s buy %s, want sell USDC buy PEPE", sell.Symbol, bought.Symbol)
	}
	sell, bought = buy.ExitLegs()
	if sell.Symbol != "PEPE" || bought.Symbol != "USDC" {
		t.Errorf("buy exit legs = sell %s buy %s, want sell PEPE buy USDC", sell.Symbol, bought.Symbol)
	}

	short := newTestTrade(signal.SideSell)
	sell, bought = short.EntryLegs()
	if sell.Symbol != "PEPE" || bought.Symbol != "USDC" {
		t.Errorf("sell entry legs = sell %s buy %s, want sell PEPE buy USDC", sell.Symbol, bought.Symbol)
	}
	sell, bought = short.ExitLegs()
	if sell.Symbol != "USDC" || bought.Symbol != "PEPE" {
		t.Errorf("sell exit legs = sell %s buy %s, want sell USDC buy PEPE", sell.Symbol, bought.Symbol)
	}
}

func TestApplyExitPartialThenFinal(t *testing.T) {
	tr := newTestTrade(signal.SideBuy)
	tr.State = StateEntered
	tr.EntryFillRaw = big.NewInt(1000)
	tr.PositionRaw = big.NewInt(1000)

	if err := tr.ApplyExit(ExitEvent{Reason: ExitTP1, Percent: 50, AmountRaw: big.NewInt(500)}); err != nil {
		t.Fatalf("partial exit: %v", err)
	}
	if tr.State != StatePartiallyExited {
		t.Errorf("state = %s, want partially_exited", tr.State)
	}
	if tr.RemainingPercent() != 50 {
		t.Errorf("remaining = %d, want 50", tr.RemainingPercent())
	}
	if tr.PositionRaw.Int64() != 500 {
		t.Errorf("position = %s, want 500", tr.PositionRaw)
	}

	if err := tr.ApplyExit(ExitEvent{Reason: ExitTrailingStop, Percent: 50, AmountRaw: big.NewInt(500)}); err != nil {
		t.Fatalf("final exit: %v", err)
	}
	if tr.State != StateExited {
		t.Errorf("state = %s, want exited", tr.State)
	}
	if tr.ExitedPercent != 100 {
		t.Errorf("exited percent = %d, want 100", tr.ExitedPercent)
	}
	if tr.PositionRaw.Sign() != 0 {
		t.Errorf("position = %s, want 0", tr.PositionRaw)
	}
	if len(tr.Exits) != 2 {
		t.Errorf("exit events = %d, want 2", len(tr.Exits))
	}
}

func TestApplyExitTerminalStateByReason(t *testing.T) {
	tests := []struct {
		reason ExitReason
		want   State
	}{
		{ExitTP1, StateExited},
		{ExitTP2, StateExited},
		{ExitTrailingStop, StateExited},
		{ExitStopLoss, StateStoppedOut},
		{ExitDeadline, StateExpired},
	}
	for _, tc := range tests {
		tr := newTestTrade(signal.SideBuy)
		tr.State = StateEntered
		tr.EntryFillRaw = big.NewInt(100)
		tr.PositionRaw = big.NewInt(100)
		if err := tr.ApplyExit(ExitEvent{Reason: tc.reason, Percent: 100, AmountRaw: big.NewInt(100)}); err != nil {
			t.Fatalf("%s: %v", tc.reason, err)
		}
		if tr.State != tc.want {
			t.Errorf("%s: state = %s, want %s", tc.reason, tr.State, tc.want)
		}
	}
}

func TestApplyExitBounds(t *testing.T) {
	tr := newTestTrade(signal.SideBuy)
	tr.State = StateEntered
	tr.EntryFillRaw = big.NewInt(1000)
	tr.PositionRaw = big.NewInt(1000)

	if err := tr.ApplyExit(ExitEvent{Reason: ExitTP1, Percent: 0}); err == nil {
		t.Error("zero percent exit should be rejected")
	}
	if err := tr.ApplyExit(ExitEvent{Reason: ExitTP1, Percent: 60, AmountRaw: big.NewInt(600)}); err != nil {
		t.Fatalf("60%% exit: %v", err)
	}
	if err := tr.ApplyExit(ExitEvent{Reason: ExitTP2, Percent: 50}); err == nil {
		t.Error("exit past 100% should be rejected")
	}
}

func TestStoreLeases(t *testing.T) {
	store := NewStore()
	tr := newTestTrade(signal.SideBuy)
	if err := store.Put(tr); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(tr); err == nil {
		t.Error("duplicate put should fail")
	}

	if !store.Acquire(tr.ID) {
		t.Fatal("first acquire should succeed")
	}
	if store.Acquire(tr.ID) {
		t.Error("second acquire should fail while lease held")
	}
	store.Release(tr.ID)
	if !store.Acquire(tr.ID) {
		t.Error("acquire after release should succeed")
	}
	store.Release(tr.ID)
}

func TestStoreOpen(t *testing.T) {
	store := NewStore()
	open := newTestTrade(signal.SideBuy)
	open.ID = "open"
	open.State = StateEntered
	closed := newTestTrade(signal.SideBuy)
	closed.ID = "closed"
	closed.State = StateExited
	if err := store.Put(open); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(closed); err != nil {
		t.Fatal(err)
	}

	got := store.Open()
	if len(got) != 1 || got[0].ID != "open" {
		t.Errorf("Open() = %d trades, want just the open one", len(got))
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}
