package recovery

import (
	"sync"
	"time"
)

// outcomeWindow is a fixed-capacity ring buffer of recent attempt
// outcomes for one resource. Insertion evicts the oldest entry when full,
// so memory stays bounded regardless of run duration.
type outcomeWindow struct {
	entries []windowEntry
	next    int
	filled  bool
}

type windowEntry struct {
	success bool
	latency time.Duration
}

func newOutcomeWindow(capacity int) *outcomeWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &outcomeWindow{entries: make([]windowEntry, capacity)}
}

func (w *outcomeWindow) push(success bool, latency time.Duration) {
	w.entries[w.next] = windowEntry{success: success, latency: latency}
	w.next++
	if w.next == len(w.entries) {
		w.next = 0
		w.filled = true
	}
}

func (w *outcomeWindow) size() int {
	if w.filled {
		return len(w.entries)
	}
	return w.next
}

func (w *outcomeWindow) successRate() float64 {
	n := w.size()
	if n == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < n; i++ {
		if w.entries[i].success {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

// Adaptive scales the retry delay with the resource's observed success
// rate: a healthy resource is retried quickly, a degraded one backed off
// toward MaxDelay. When the success rate falls below SuccessFloor over at
// least MinSamples, it stops retrying early rather than burning the
// remaining attempts on a clearly failing resource.
type Adaptive struct {
	Config RetryConfig

	mu      sync.Mutex
	windows map[string]*outcomeWindow
}

// NewAdaptive creates an adaptive strategy with per-resource sliding
// windows.
func NewAdaptive(cfg RetryConfig) *Adaptive {
	return &Adaptive{
		Config:  cfg,
		windows: make(map[string]*outcomeWindow),
	}
}

func (s *Adaptive) Name() string { return "adaptive" }

func (s *Adaptive) window(resource string) *outcomeWindow {
	w, ok := s.windows[resource]
	if !ok {
		w = newOutcomeWindow(s.Config.WindowSize)
		s.windows[resource] = w
	}
	return w
}

// ObserveOutcome pushes an attempt result into the resource's window.
func (s *Adaptive) ObserveOutcome(resource string, success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window(resource).push(success, latency)
}

// NextDecision computes the delay as a non-increasing function of the
// current success rate, clamped to [BaseDelay, MaxDelay].
func (s *Adaptive) NextDecision(ectx *ErrorContext) Decision {
	if ectx.AttemptCount() >= s.Config.MaxAttempts {
		return Decision{Retry: false}
	}

	s.mu.Lock()
	w := s.window(ectx.Resource)
	rate := w.successRate()
	samples := w.size()
	s.mu.Unlock()

	if samples >= s.Config.MinSamples && rate < s.Config.SuccessFloor {
		// Early termination: the resource is clearly failing.
		return Decision{Retry: false}
	}

	base := float64(s.Config.BaseDelay)
	max := float64(s.Config.MaxDelay)
	delay := base + (1.0-rate)*(max-base)
	return Decision{Retry: true, Delay: time.Duration(delay)}
}

// SuccessRate returns the current success rate for a resource, for
// observability.
func (s *Adaptive) SuccessRate(resource string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window(resource).successRate()
}
