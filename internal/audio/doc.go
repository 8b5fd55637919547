// Package audio implements the per-room PCM accumulation primitives:
// a FIFO frame buffer with block extraction and oldest-first trimming,
// and the tiered, history-smoothed jitter window estimator.
package audio
