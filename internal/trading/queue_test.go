package trading

import (
	"testing"
	"time"
)

func TestQueuePriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Push(&Request{TradeID: "low", Priority: PriorityLow})
	q.Push(&Request{TradeID: "high", Priority: PriorityHigh})
	q.Push(&Request{TradeID: "normal", Priority: PriorityNormal})

	now := time.Now()
	var got []string
	for {
		req := q.Pop(now, nil)
		if req == nil {
			break
		}
		got = append(got, req.TradeID)
	}
	want := []string{"high", "normal", "low"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOWithinLevel(t *testing.T) {
	q := NewQueue()
	q.Push(&Request{TradeID: "a", Priority: PriorityNormal})
	q.Push(&Request{TradeID: "b", Priority: PriorityNormal})
	q.Push(&Request{TradeID: "c", Priority: PriorityNormal})

	now := time.Now()
	for _, want := range []string{"a", "b", "c"} {
		req := q.Pop(now, nil)
		if req == nil || req.TradeID != want {
			t.Fatalf("pop = %v, want %s", req, want)
		}
	}
}

func TestQueueNotBefore(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Push(&Request{TradeID: "later", Priority: PriorityHigh, NotBefore: now.Add(time.Minute)})
	q.Push(&Request{TradeID: "ready", Priority: PriorityLow})

	req := q.Pop(now, nil)
	if req == nil || req.TradeID != "ready" {
		t.Fatalf("pop = %v, want the ready low-priority request", req)
	}
	if req := q.Pop(now, nil); req != nil {
		t.Fatalf("pop = %v, want nil while backoff holds", req)
	}
	req = q.Pop(now.Add(2*time.Minute), nil)
	if req == nil || req.TradeID != "later" {
		t.Fatalf("pop = %v, want the delayed request after backoff", req)
	}
}

func TestQueueSkipCallback(t *testing.T) {
	q := NewQueue()
	q.Push(&Request{TradeID: "leased", Priority: PriorityHigh})
	q.Push(&Request{TradeID: "free", Priority: PriorityNormal})

	req := q.Pop(time.Now(), func(r *Request) bool { return r.TradeID == "leased" })
	if req == nil || req.TradeID != "free" {
		t.Fatalf("pop = %v, want the unleased request", req)
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want the skipped request still queued", q.Len())
	}
}

func TestQueueReadySignal(t *testing.T) {
	q := NewQueue()
	q.Push(&Request{TradeID: "x", Priority: PriorityLow})
	select {
	case <-q.Ready():
	default:
		t.Fatal("push should signal readiness")
	}
}
