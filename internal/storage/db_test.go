package storage

import (
	"path/filepath"
	"testing"

	"safe-trade-bot/internal/bus"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSignalAuditTrail(t *testing.T) {
	db := openTestDB(t)

	if err := db.RecordSignal("sig-1", "trade-1", true, "", ""); err != nil {
		t.Fatalf("record accepted: %v", err)
	}
	if err := db.RecordSignal("sig-2", "", false, "SIGNAL_EXPIRED", "deadline passed"); err != nil {
		t.Fatalf("record rejected: %v", err)
	}

	signals, err := db.GetRecentSignals(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(signals))
	}
	// newest first
	if signals[0].SignalID != "sig-2" || signals[0].Accepted {
		t.Errorf("latest = %+v, want the rejected sig-2", signals[0])
	}
	if signals[1].TradeID != "trade-1" || !signals[1].Accepted {
		t.Errorf("first = %+v, want accepted with trade id", signals[1])
	}
}

func TestTradeLifecyclePersistence(t *testing.T) {
	db := openTestDB(t)

	if err := db.RecordEntry("trade-1", "0xabc"); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if err := db.RecordExit("trade-1", "TP1", 50, "partially_exited"); err != nil {
		t.Fatalf("exit 1: %v", err)
	}
	if err := db.RecordExit("trade-1", "TRAILING_STOP", 50, "exited"); err != nil {
		t.Fatalf("exit 2: %v", err)
	}

	tr, err := db.GetTrade("trade-1")
	if err != nil || tr == nil {
		t.Fatalf("get: %v %v", tr, err)
	}
	if tr.State != "exited" || tr.EntryTxHash != "0xabc" {
		t.Errorf("trade = %+v, want exited with entry tx", tr)
	}

	exits, err := db.GetExits("trade-1")
	if err != nil {
		t.Fatalf("exits: %v", err)
	}
	if len(exits) != 2 || exits[0].Reason != "TP1" || exits[1].Percent != 50 {
		t.Errorf("exits = %+v, want TP1 then TRAILING_STOP at 50%% each", exits)
	}
}

func TestRecordFailureWithoutEntry(t *testing.T) {
	db := openTestDB(t)

	if err := db.RecordFailure("trade-x", "SAFE_NOT_DEPLOYED", "no deployment on ethereum"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	tr, err := db.GetTrade("trade-x")
	if err != nil || tr == nil {
		t.Fatalf("get: %v %v", tr, err)
	}
	if tr.State != "failed" || tr.FailCode != "SAFE_NOT_DEPLOYED" {
		t.Errorf("trade = %+v, want failed with code", tr)
	}

	if tr2, _ := db.GetTrade("missing"); tr2 != nil {
		t.Error("missing trade should be nil")
	}
}

func TestTradeStats(t *testing.T) {
	db := openTestDB(t)

	_ = db.RecordEntry("t1", "0x1")
	_ = db.RecordExit("t1", "TP2", 100, "exited")
	_ = db.RecordEntry("t2", "0x2")
	_ = db.RecordExit("t2", "STOP_LOSS", 100, "stopped_out")
	_ = db.RecordFailure("t3", "SWAP_EXECUTION_FAILED", "boom")
	_ = db.RecordEntry("t4", "0x4")

	total, closed, failed, err := db.GetTradeStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if total != 4 || closed != 2 || failed != 1 {
		t.Errorf("stats = %d/%d/%d, want 4/2/1", total, closed, failed)
	}
}

func TestBindPersistsBusEvents(t *testing.T) {
	db := openTestDB(t)
	events := bus.New()
	if err := db.Bind(events, func(string) string { return "exited" }); err != nil {
		t.Fatalf("bind: %v", err)
	}

	events.Publish(bus.TopicSignalAccepted, "sig-1", "trade-1")
	events.Publish(bus.TopicTradeEntered, "trade-1", "0xdead")
	events.Publish(bus.TopicTradeExited, "trade-1", "TP1", 100)
	events.WaitAsync()

	tr, err := db.GetTrade("trade-1")
	if err != nil || tr == nil {
		t.Fatalf("get: %v %v", tr, err)
	}
	if tr.State != "exited" {
		t.Errorf("state = %s, want exited", tr.State)
	}
	signals, _ := db.GetRecentSignals(5)
	if len(signals) != 1 {
		t.Errorf("signals = %d, want 1", len(signals))
	}
}
