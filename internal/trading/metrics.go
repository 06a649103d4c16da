package trading

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks swap execution latency and outcome counters.
type Metrics struct {
	// Latency samples (in milliseconds)
	samples   []int64
	sampleIdx int
	mu        sync.Mutex

	entries  atomic.Int64
	exits    atomic.Int64
	failures atomic.Int64

	// Phase breakdown of the last swap
	lastQuoteMs     atomic.Int64
	lastAllowanceMs atomic.Int64
	lastExecuteMs   atomic.Int64
	lastTotalMs     atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		samples: make([]int64, 100), // keep the last 100 samples
	}
}

// RecordSwap records one swap with its phase breakdown.
func (m *Metrics) RecordSwap(action Action, success bool, quoteMs, allowanceMs, executeMs int64) {
	totalMs := quoteMs + allowanceMs + executeMs

	m.mu.Lock()
	m.samples[m.sampleIdx%len(m.samples)] = totalMs
	m.sampleIdx++
	m.mu.Unlock()

	if !success {
		m.failures.Add(1)
	} else if action == ActionEnter {
		m.entries.Add(1)
	} else {
		m.exits.Add(1)
	}

	m.lastQuoteMs.Store(quoteMs)
	m.lastAllowanceMs.Store(allowanceMs)
	m.lastExecuteMs.Store(executeMs)
	m.lastTotalMs.Store(totalMs)
}

// P50 returns the 50th percentile swap latency.
func (m *Metrics) P50() int64 {
	return m.percentile(50)
}

// P95 returns the 95th percentile swap latency.
func (m *Metrics) P95() int64 {
	return m.percentile(95)
}

// P99 returns the 99th percentile swap latency.
func (m *Metrics) P99() int64 {
	return m.percentile(99)
}

// Avg returns the average swap latency.
func (m *Metrics) Avg() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.sampleIdx
	if count > len(m.samples) {
		count = len(m.samples)
	}
	if count == 0 {
		return 0
	}

	var sum int64
	for i := 0; i < count; i++ {
		sum += m.samples[i]
	}
	return sum / int64(count)
}

func (m *Metrics) percentile(p int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.sampleIdx
	if count > len(m.samples) {
		count = len(m.samples)
	}
	if count == 0 {
		return 0
	}

	// Copy and sort
	sorted := make([]int64, count)
	copy(sorted, m.samples[:count])

	// Simple bubble sort for small arrays
	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	idx := (p * count) / 100
	if idx >= count {
		idx = count - 1
	}
	return sorted[idx]
}

// LastBreakdown returns the last swap's phase latencies.
func (m *Metrics) LastBreakdown() (quote, allowance, execute, total int64) {
	return m.lastQuoteMs.Load(),
		m.lastAllowanceMs.Load(),
		m.lastExecuteMs.Load(),
		m.lastTotalMs.Load()
}

// Stats returns aggregate counters.
func (m *Metrics) Stats() (entries, exits, failures int64, successRate float64) {
	entries = m.entries.Load()
	exits = m.exits.Load()
	failures = m.failures.Load()
	total := entries + exits + failures
	if total > 0 {
		successRate = float64(entries+exits) / float64(total) * 100
	}
	return
}

// swapTimer times the phases of one swap.
type swapTimer struct {
	start        time.Time
	quoteEnd     time.Time
	allowanceEnd time.Time
	executeEnd   time.Time
}

func newSwapTimer() *swapTimer {
	return &swapTimer{start: time.Now()}
}

func (t *swapTimer) markQuoteDone() {
	t.quoteEnd = time.Now()
}

func (t *swapTimer) markAllowanceDone() {
	t.allowanceEnd = time.Now()
}

func (t *swapTimer) markExecuteDone() {
	t.executeEnd = time.Now()
}

// breakdown returns milliseconds per phase. Phases that never ran report
// zero.
func (t *swapTimer) breakdown() (quote, allowance, execute int64) {
	if !t.quoteEnd.IsZero() {
		quote = t.quoteEnd.Sub(t.start).Milliseconds()
	}
	if !t.allowanceEnd.IsZero() {
		allowance = t.allowanceEnd.Sub(t.quoteEnd).Milliseconds()
	}
	if !t.executeEnd.IsZero() {
		execute = t.executeEnd.Sub(t.allowanceEnd).Milliseconds()
	}
	return
}
