package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgofman/audiostreamer/internal/audio"
	"github.com/dgofman/audiostreamer/internal/protocol"
)

// flusher is the per-room periodic task handle. It exists from the moment
// the room gains its first microphone until room teardown, which stops it
// with cancel-and-await so no tick can run against a deleted room.
type flusher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ensureFlusher starts the flush loop if it is not already running.
// Called by the Registry with the registry lock held, so at most one
// loop ever starts per room.
func (r *Room) ensureFlusher() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flusher != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &flusher{cancel: cancel, done: make(chan struct{})}
	r.flusher = f

	go r.flushLoop(ctx, f.done)

	r.logger.Debug("flush scheduler started",
		slog.String("room_id", r.id),
		slog.Duration("interval", r.audioCfg.GetFlushInterval()),
	)
}

// stopFlusher cancels the flush loop and waits for it to exit. Safe to
// call when no loop was ever started.
func (r *Room) stopFlusher() {
	r.mu.Lock()
	f := r.flusher
	r.mu.Unlock()

	if f == nil {
		return
	}

	f.cancel()
	<-f.done
}

// flushLoop drives the room's flush cycle at a fixed cadence until
// cancelled. Each tick is fault-isolated: a panic inside one cycle is
// logged and the loop continues at the next tick.
func (r *Room) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.audioCfg.GetFlushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("flush scheduler stopped", slog.String("room_id", r.id))
			return
		case <-ticker.C:
			r.flushTick()
		}
	}
}

// flushTick runs one flush cycle: estimate jitter and publish on change,
// trim the buffer to the allowed bound, then drain and broadcast whole
// blocks.
func (r *Room) flushTick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("flush cycle fault",
				slog.String("room_id", r.id),
				slog.Any("panic", rec),
			)
		}
	}()

	bytesPerMs := r.audioCfg.BytesPerMillisecond()
	blockSize := r.audioCfg.BlockSizeBytes()
	latencyMs := float64(r.buf.Len()) / float64(bytesPerMs)

	r.mu.Lock()
	window := r.estimator.Estimate(latencyMs)
	changed := !r.hasPublished || window != r.published
	if changed {
		// Publication state advances on send, independent of whether any
		// individual speaker delivery succeeds.
		r.published = window
		r.hasPublished = true
	}
	speakers := r.speakerSnapshotLocked()
	r.mu.Unlock()

	if changed {
		r.publishJitter(window, speakers)
	}

	maxAllowedBytes := window.MaxMs * bytesPerMs
	if dropped := r.buf.TrimTo(maxAllowedBytes); dropped > 0 {
		r.metrics.RecordBytesDropped(dropped)
		r.logger.Warn("room buffer overflow, oldest audio dropped",
			slog.String("room_id", r.id),
			slog.Int("dropped_bytes", dropped),
			slog.Int("max_allowed_bytes", maxAllowedBytes),
		)
	}

	for {
		block, ok := r.buf.ExtractBlock(blockSize)
		if !ok {
			break
		}

		// Re-snapshot per block: failed speakers drop out mid-drain and
		// late joiners start receiving without waiting for the next tick.
		r.mu.Lock()
		speakers = r.speakerSnapshotLocked()
		var filter map[string]struct{}
		if r.audioCfg.SelfFilter {
			filter = r.micClientIDsLocked()
		}
		r.blocksSent++
		r.mu.Unlock()

		r.broadcastAudio(block, speakers, filter)
	}
}

// publishJitter notifies all speakers of the new smoothed window
func (r *Room) publishJitter(window audio.Window, speakers []speakerEntry) {
	payload, err := protocol.JitterNotice{
		JitterMinMs: window.MinMs,
		JitterMaxMs: window.MaxMs,
	}.Marshal()
	if err != nil {
		r.logger.Error("failed to encode jitter notice",
			slog.String("room_id", r.id),
			slog.String("error", err.Error()),
		)
		return
	}

	r.broadcastControl(payload, speakers)
	r.metrics.RecordJitterUpdate()

	r.logger.Debug("jitter window published",
		slog.String("room_id", r.id),
		slog.Int("jitter_min_ms", window.MinMs),
		slog.Int("jitter_max_ms", window.MaxMs),
	)
}
