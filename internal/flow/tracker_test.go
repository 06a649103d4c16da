package flow

import "testing"

func TestIDStable(t *testing.T) {
	tr := NewTracker()
	a := tr.ID("signal-1")
	b := tr.ID("signal-1")
	if a != b {
		t.Errorf("id not stable: %s vs %s", a, b)
	}
	if len(a) != 8 {
		t.Errorf("expected 8-char id, got %q", a)
	}
}

func TestIDDistinct(t *testing.T) {
	tr := NewTracker()
	if tr.ID("signal-1") == tr.ID("signal-2") {
		t.Error("distinct signals should map to distinct ids")
	}
}

func TestIDStableAfterRelease(t *testing.T) {
	// Derivation is pure, so re-delivery after release yields the same id.
	tr := NewTracker()
	a := tr.ID("signal-1")
	tr.Release("signal-1")
	if got := tr.ID("signal-1"); got != a {
		t.Errorf("id changed after release: %s vs %s", got, a)
	}
}
