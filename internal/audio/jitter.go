package audio

import (
	"github.com/dgofman/audiostreamer/internal/config"
)

// Window is an advisory playout-buffer tolerance in milliseconds. Speakers
// use it to size their own de-jitter buffers.
type Window struct {
	MinMs int
	MaxMs int
}

// Estimator maps the relay's current buffered latency onto a jitter window
// and smooths the result over a trailing history so that a momentary
// latency spike does not flap the published window.
//
// Not safe for concurrent use; the flush scheduler is its only caller.
type Estimator struct {
	tiers   []config.JitterTier
	history []Window
	size    int
}

// NewEstimator creates an estimator with the given tier table and history
// window size.
func NewEstimator(cfg config.JitterConfig) *Estimator {
	return &Estimator{
		tiers:   cfg.Tiers,
		history: make([]Window, 0, cfg.HistorySize),
		size:    cfg.HistorySize,
	}
}

// Estimate pushes the raw window for the given buffered latency into the
// history and returns the smoothed window: the arithmetic-mean floor of
// each bound across the retained estimates.
func (e *Estimator) Estimate(latencyMs float64) Window {
	raw := e.rawWindow(latencyMs)

	if len(e.history) == e.size {
		copy(e.history, e.history[1:])
		e.history = e.history[:e.size-1]
	}
	e.history = append(e.history, raw)

	var minSum, maxSum int
	for _, w := range e.history {
		minSum += w.MinMs
		maxSum += w.MaxMs
	}

	n := len(e.history)
	return Window{MinMs: minSum / n, MaxMs: maxSum / n}
}

// rawWindow selects the first tier whose latency bound exceeds the input.
// The final tier is the unbounded fallback (config validation enforces
// that ordering).
func (e *Estimator) rawWindow(latencyMs float64) Window {
	for _, tier := range e.tiers {
		if tier.MaxLatencyMs == 0 || latencyMs < float64(tier.MaxLatencyMs) {
			return Window{MinMs: tier.MinMs, MaxMs: tier.MaxMs}
		}
	}
	// Unreachable with a validated tier table.
	last := e.tiers[len(e.tiers)-1]
	return Window{MinMs: last.MinMs, MaxMs: last.MaxMs}
}
