// Package room implements the relay engine core: room membership and
// lifecycle, the process-wide registry, and the per-room flush scheduler
// that drains buffered audio into blocks, broadcasts them to speakers,
// and publishes jitter window updates.
package room
