package trading

import "testing"

func TestMetricsStats(t *testing.T) {
	m := NewMetrics()
	m.RecordSwap(ActionEnter, true, 10, 5, 85)
	m.RecordSwap(ActionExit, true, 20, 0, 80)
	m.RecordSwap(ActionExit, false, 30, 0, 0)

	entries, exits, failures, rate := m.Stats()
	if entries != 1 || exits != 1 || failures != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", entries, exits, failures)
	}
	if rate < 66 || rate > 67 {
		t.Errorf("success rate = %.1f, want ~66.7", rate)
	}

	quote, allowance, execute, total := m.LastBreakdown()
	if quote != 30 || allowance != 0 || execute != 0 || total != 30 {
		t.Errorf("breakdown = %d/%d/%d/%d, want 30/0/0/30", quote, allowance, execute, total)
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := int64(1); i <= 100; i++ {
		m.RecordSwap(ActionEnter, true, i, 0, 0)
	}
	if p := m.P50(); p < 45 || p > 55 {
		t.Errorf("p50 = %d, want around 50", p)
	}
	if p := m.P99(); p < 95 {
		t.Errorf("p99 = %d, want the tail", p)
	}
	if avg := m.Avg(); avg < 48 || avg > 53 {
		t.Errorf("avg = %d, want around 50", avg)
	}
}

func TestMetricsEmpty(t *testing.T) {
	m := NewMetrics()
	if m.P50() != 0 || m.Avg() != 0 {
		t.Error("empty metrics should report zero latency")
	}
}
