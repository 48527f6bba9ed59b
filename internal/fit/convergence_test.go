package fit

import "testing"

func TestConvergenceTrackerDisabledNeverPlateaus(t *testing.T) {
	tr := NewConvergenceTracker(DisabledConvergenceConfig())
	for i := 0; i < 10; i++ {
		tr.Update(100.0)
	}
	if tr.Plateaued() {
		t.Fatal("disabled tracker must never report plateaued")
	}
}

func TestConvergenceTrackerDetectsPlateau(t *testing.T) {
	cfg := ConvergenceConfig{Enabled: true, Patience: 3, Threshold: 0.01}
	tr := NewConvergenceTracker(cfg)

	tr.Update(1000.0)
	for i := 0; i < 3; i++ {
		tr.Update(999.5) // negligible improvement relative to threshold
	}

	if !tr.Plateaued() {
		t.Fatalf("expected plateau after %d stale updates, staleCount=%d", 3, tr.StaleCount())
	}
}

func TestConvergenceTrackerResetsOnSignificantImprovement(t *testing.T) {
	cfg := ConvergenceConfig{Enabled: true, Patience: 2, Threshold: 0.01}
	tr := NewConvergenceTracker(cfg)

	tr.Update(1000.0)
	tr.Update(999.9)
	tr.Update(500.0) // big improvement resets stale counter

	if tr.StaleCount() != 0 {
		t.Fatalf("StaleCount() = %d, want 0 after significant improvement", tr.StaleCount())
	}
	if tr.BestCost() != 500.0 {
		t.Fatalf("BestCost() = %f, want 500.0", tr.BestCost())
	}
}
