package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageConnect, 500)
	w.Observe(StageConnect, 700)
	w.Observe(StageConnect, 900)
	w.ObserveIndicator("barge_in")
	w.ObserveIndicator("barge_in")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 900 || s.MaxMS != 900 {
		t.Fatalf("unexpected stage stats: %+v", s)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want barge_in x2", snap.Indicators)
	}
}

func TestStageWindowWrapsRing(t *testing.T) {
	w := newStageWindow(2)
	w.Observe(StageCharge, 10)
	w.Observe(StageCharge, 20)
	w.Observe(StageCharge, 30)

	snap := w.Snapshot()
	s := snap.Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}
