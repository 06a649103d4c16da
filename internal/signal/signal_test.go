package signal

import (
	"fmt"
	"testing"
	"time"

	"safe-trade-bot/internal/errs"
)

func validBuy() Signal {
	return Signal{
		SignalID:      "sig-001",
		CallerID:      "caller-1",
		WalletAddress: "0x5afe000000000000000000000000000000000001",
		Side:          SideBuy,
		Symbol:        "PEPE",
		EntryPrice:    0.0000112,
		TakeProfit1:   0.0000128,
		TakeProfit2:   0.0000150,
		StopLoss:      0.0000100,
		Deadline:      time.Now().Add(24 * time.Hour).Unix(),
	}
}

func validSell() Signal {
	s := validBuy()
	s.Side = SideSell
	s.StopLoss = 0.0000128
	s.TakeProfit1 = 0.0000100
	s.TakeProfit2 = 0.0000090
	return s
}

func TestValidate(t *testing.T) {
	now := time.Now()
	if err := validBuy().Validate(now); err != nil {
		t.Errorf("valid buy rejected: %v", err)
	}
	if err := validSell().Validate(now); err != nil {
		t.Errorf("valid sell rejected: %v", err)
	}

	// TP1 == TP2 is legal on both sides
	b := validBuy()
	b.TakeProfit2 = b.TakeProfit1
	if err := b.Validate(now); err != nil {
		t.Errorf("tp1 == tp2 rejected: %v", err)
	}
}

func TestValidateShape(t *testing.T) {
	now := time.Now()
	mutations := []func(*Signal){
		func(s *Signal) { s.SignalID = "" },
		func(s *Signal) { s.CallerID = " " },
		func(s *Signal) { s.WalletAddress = "" },
		func(s *Signal) { s.Symbol = "" },
		func(s *Signal) { s.Side = "hold" },
		func(s *Signal) { s.EntryPrice = 0 },
		func(s *Signal) { s.StopLoss = -1 },
		func(s *Signal) { s.Deadline = 0 },
	}
	for i, mutate := range mutations {
		s := validBuy()
		mutate(&s)
		if errs.CodeOf(s.Validate(now)) != errs.InvalidSignalFormat {
			t.Errorf("mutation %d: expected INVALID_SIGNAL_FORMAT, got %v", i, s.Validate(now))
		}
	}
}

func TestValidateLevels(t *testing.T) {
	now := time.Now()

	// buy: stop above entry
	s := validBuy()
	s.StopLoss = s.EntryPrice * 1.1
	if errs.CodeOf(s.Validate(now)) != errs.InvalidPriceLevels {
		t.Errorf("buy with stop above entry: %v", s.Validate(now))
	}

	// buy: tp1 below entry
	s = validBuy()
	s.TakeProfit1 = s.EntryPrice * 0.9
	if errs.CodeOf(s.Validate(now)) != errs.InvalidPriceLevels {
		t.Errorf("buy with tp1 below entry: %v", s.Validate(now))
	}

	// buy: tp2 closer than tp1
	s = validBuy()
	s.TakeProfit2 = s.TakeProfit1 * 0.99
	if errs.CodeOf(s.Validate(now)) != errs.InvalidPriceLevels {
		t.Errorf("buy with tp2 < tp1: %v", s.Validate(now))
	}

	// sell: stop below entry
	s = validSell()
	s.StopLoss = s.EntryPrice * 0.9
	if errs.CodeOf(s.Validate(now)) != errs.InvalidPriceLevels {
		t.Errorf("sell with stop below entry: %v", s.Validate(now))
	}

	// sell: tp2 farther than tp1 is required, not the reverse
	s = validSell()
	s.TakeProfit2 = s.TakeProfit1 * 1.01
	if errs.CodeOf(s.Validate(now)) != errs.InvalidPriceLevels {
		t.Errorf("sell with tp2 > tp1: %v", s.Validate(now))
	}
}

func TestValidateDeadline(t *testing.T) {
	s := validBuy()
	s.Deadline = time.Now().Add(-time.Minute).Unix()
	if errs.CodeOf(s.Validate(time.Now())) != errs.SignalExpired {
		t.Errorf("expected SIGNAL_EXPIRED, got %v", s.Validate(time.Now()))
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(3)

	if _, seen := d.Seen("a"); seen {
		t.Error("fresh id must not be seen")
	}

	d.Record("a", Classification{TradeID: "t-a", Accepted: true})
	got, seen := d.Seen("a")
	if !seen || got.TradeID != "t-a" || !got.Accepted {
		t.Errorf("Seen(a) = %+v, %v", got, seen)
	}

	// rejections are remembered the same way
	d.Record("b", Classification{Accepted: false, Code: "TOKEN_NOT_FOUND", Message: "no contract"})
	got, seen = d.Seen("b")
	if !seen || got.Accepted || got.Code != "TOKEN_NOT_FOUND" {
		t.Errorf("Seen(b) = %+v, %v", got, seen)
	}
}

func TestDedupEviction(t *testing.T) {
	d := NewDedup(3)
	for i := 0; i < 3; i++ {
		d.Record(fmt.Sprintf("s-%d", i), Classification{Accepted: true})
	}

	// touch s-0 so s-1 becomes the eviction candidate
	d.Seen("s-0")
	d.Record("s-3", Classification{Accepted: true})

	if d.Len() != 3 {
		t.Errorf("Len = %d", d.Len())
	}
	if _, seen := d.Seen("s-1"); seen {
		t.Error("LRU entry should have been evicted")
	}
	if _, seen := d.Seen("s-0"); !seen {
		t.Error("recently used entry must survive")
	}
}
