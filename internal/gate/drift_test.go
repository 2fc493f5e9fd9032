package gate

import (
	"math/rand"
	"testing"
)

func normalSamples(r *rand.Rand, n int, mean, std float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*r.NormFloat64()
	}
	return out
}

func TestMonitorConfirmsAfterConsecutiveDetections(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	reference := normalSamples(r, 200, 50, 5)

	m := NewMonitor(DefaultMonitorConfig(), nil)

	// A shift in both location and spread: every test in the battery sees it.
	for i := 1; i <= 3; i++ {
		current := normalSamples(r, 200, 65, 12)
		obs := m.Observe(reference, current)

		if !obs.Unanimous {
			t.Fatalf("observation %d: battery should be unanimous, tests: %+v", i, obs.Tests)
		}
		if obs.ConsecutiveCount != i {
			t.Fatalf("observation %d: consecutive count = %d", i, obs.ConsecutiveCount)
		}
		switch {
		case i < 3 && obs.State != PotentialDrift:
			t.Fatalf("observation %d: state = %s, want PotentialDrift", i, obs.State)
		case i == 3 && obs.State != ConfirmedDrift:
			t.Fatalf("observation %d: state = %s, want ConfirmedDrift", i, obs.State)
		}
	}
}

func TestMonitorNoDriftOnSameDistribution(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	reference := normalSamples(r, 200, 50, 5)

	m := NewMonitor(DefaultMonitorConfig(), nil)

	for i := 0; i < 5; i++ {
		current := normalSamples(r, 200, 50, 5)
		obs := m.Observe(reference, current)
		if obs.State != NoDrift {
			t.Fatalf("same-distribution window should not drift, got %s (tests %+v)", obs.State, obs.Tests)
		}
	}
}

func TestMonitorResetsOnDisagreement(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	reference := normalSamples(r, 200, 50, 5)

	m := NewMonitor(DefaultMonitorConfig(), nil)

	// Two detections toward confirmation.
	for i := 0; i < 2; i++ {
		if obs := m.Observe(reference, normalSamples(r, 200, 65, 12)); obs.State != PotentialDrift {
			t.Fatalf("expected PotentialDrift, got %s", obs.State)
		}
	}

	// One clean window resets the counter entirely.
	if obs := m.Observe(reference, normalSamples(r, 200, 50, 5)); obs.State != NoDrift {
		t.Fatalf("clean window should reset to NoDrift, got %s", obs.State)
	}

	// Detection starts over from one, not three.
	obs := m.Observe(reference, normalSamples(r, 200, 65, 12))
	if obs.State != PotentialDrift || obs.ConsecutiveCount != 1 {
		t.Errorf("counter should restart at 1, got state %s count %d", obs.State, obs.ConsecutiveCount)
	}
}

func TestMonitorMeanShiftAloneIsNotUnanimous(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	reference := normalSamples(r, 200, 50, 5)

	m := NewMonitor(DefaultMonitorConfig(), nil)

	// Location moves but spread does not: the spread test disagrees, so the
	// battery stays silent. Deliberate false-negative bias.
	current := normalSamples(r, 200, 58, 5)
	obs := m.Observe(reference, current)
	if obs.State != NoDrift {
		t.Errorf("non-unanimous battery should not advance, got %s", obs.State)
	}
}

func TestMonitorInsufficientSamples(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)

	obs := m.Observe([]float64{1, 2, 3}, []float64{4, 5, 6})
	if obs.State != NoDrift || obs.Reason == "" {
		t.Errorf("undersized windows should produce a reasoned no-drift, got %+v", obs)
	}
}

func TestMonitorTinyEffectIgnored(t *testing.T) {
	cfg := DefaultMonitorConfig()
	m := NewMonitor(cfg, nil)

	r := rand.New(rand.NewSource(11))
	reference := normalSamples(r, 200, 50, 5)
	// Shift well under the minimum effect size.
	current := normalSamples(r, 200, 50.5, 5.2)

	obs := m.Observe(reference, current)
	if obs.State != NoDrift {
		t.Errorf("sub-threshold effect should not advance, got %s (d=%v)", obs.State, obs.EffectSize)
	}
}
