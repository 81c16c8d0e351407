package recovery

import (
	"testing"
	"time"
)

func newTestAdaptive(windowSize int) *Adaptive {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	cfg.WindowSize = windowSize
	cfg.MinSamples = 5
	cfg.SuccessFloor = 0.1
	return NewAdaptive(cfg)
}

func feed(s *Adaptive, resource string, successes, failures int) {
	for i := 0; i < successes; i++ {
		s.ObserveOutcome(resource, true, 10*time.Millisecond)
	}
	for i := 0; i < failures; i++ {
		s.ObserveOutcome(resource, false, 10*time.Millisecond)
	}
}

func TestAdaptive_DelayScalesWithSuccessRate(t *testing.T) {
	s := newTestAdaptive(10)

	feed(s, "healthy", 10, 0)
	feed(s, "degraded", 5, 5)
	feed(s, "failing", 2, 8)

	healthy := s.NextDecision(contextWithFailuresFor("healthy", 1)).Delay
	degraded := s.NextDecision(contextWithFailuresFor("degraded", 1)).Delay
	failing := s.NextDecision(contextWithFailuresFor("failing", 1)).Delay

	if healthy != s.Config.BaseDelay {
		t.Errorf("fully healthy resource should get base delay, got %v", healthy)
	}
	if !(healthy <= degraded && degraded <= failing) {
		t.Errorf("delay must not decrease as success rate drops: %v, %v, %v", healthy, degraded, failing)
	}
	if failing > s.Config.MaxDelay {
		t.Errorf("delay exceeded max: %v", failing)
	}
}

func TestAdaptive_Monotonicity(t *testing.T) {
	// Decreasing success rate never decreases the computed delay.
	var prev time.Duration
	for failures := 0; failures <= 10; failures++ {
		s := newTestAdaptive(10)
		feed(s, "r", 10-failures, failures)
		d := s.NextDecision(contextWithFailuresFor("r", 1)).Delay
		if d < prev {
			t.Fatalf("delay decreased from %v to %v at %d failures", prev, d, failures)
		}
		prev = d
	}
}

func TestAdaptive_EarlyTermination(t *testing.T) {
	s := newTestAdaptive(20)

	// 1 success out of 20: rate 0.05, below the 0.1 floor.
	feed(s, "dead", 1, 19)

	d := s.NextDecision(contextWithFailuresFor("dead", 1))
	if d.Retry {
		t.Error("expected early termination below the success floor")
	}
}

func TestAdaptive_NoEarlyTerminationBelowMinSamples(t *testing.T) {
	s := newTestAdaptive(20)

	// Only 3 samples, all failures: not enough evidence to terminate.
	feed(s, "new", 0, 3)

	d := s.NextDecision(contextWithFailuresFor("new", 1))
	if !d.Retry {
		t.Error("expected retry while below the minimum sample size")
	}
}

func TestAdaptive_WindowEviction(t *testing.T) {
	s := newTestAdaptive(4)

	// Fill the window with failures, then push successes through it.
	feed(s, "r", 0, 4)
	if got := s.SuccessRate("r"); got != 0 {
		t.Fatalf("expected rate 0, got %f", got)
	}

	feed(s, "r", 4, 0)
	if got := s.SuccessRate("r"); got != 1.0 {
		t.Errorf("old failures should have been evicted, rate = %f", got)
	}
}

func TestAdaptive_ExhaustionStillApplies(t *testing.T) {
	s := newTestAdaptive(10)
	feed(s, "r", 10, 0)

	if d := s.NextDecision(contextWithFailuresFor("r", 10)); d.Retry {
		t.Error("expected no retry once max attempts reached, regardless of success rate")
	}
}

func TestOutcomeWindow_Bounded(t *testing.T) {
	w := newOutcomeWindow(3)
	for i := 0; i < 100; i++ {
		w.push(i%2 == 0, 0)
	}
	if w.size() != 3 {
		t.Errorf("window grew beyond capacity: %d", w.size())
	}
}

func contextWithFailuresFor(resource string, n int) *ErrorContext {
	ectx := NewContext("test.op", resource)
	for i := 0; i < n; i++ {
		ectx.Record(errTimeout, ReasonNetwork, 0)
	}
	return ectx
}
