package audio

import (
	"sync"
)

// compactThreshold is the minimum dead prefix, in bytes, before the buffer
// reclaims consumed space by shifting live data to the front.
const compactThreshold = 64 * 1024

// FrameBuffer accumulates raw PCM bytes appended by microphone connections
// and hands them back to the flush scheduler in fixed-size blocks. Bytes
// are consumed strictly from the head, so relative order is preserved.
//
// Extraction keeps a head offset instead of reslicing from zero, so a
// flush cycle that drains many blocks does not shift the remaining tail
// once per block.
type FrameBuffer struct {
	data []byte
	head int

	appended uint64
	dropped  uint64

	mu sync.Mutex
}

// FrameBufferStats is a snapshot of buffer counters for monitoring
type FrameBufferStats struct {
	BufferedBytes int    `json:"buffered_bytes"`
	AppendedBytes uint64 `json:"appended_bytes"`
	DroppedBytes  uint64 `json:"dropped_bytes"`
}

// NewFrameBuffer creates an empty frame buffer with capacity preallocated
// for roughly one second of audio at the given byte rate.
func NewFrameBuffer(bytesPerSecond int) *FrameBuffer {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return &FrameBuffer{
		data: make([]byte, 0, bytesPerSecond),
	}
}

// Append concatenates incoming bytes at the tail. Safe for concurrent use
// with extraction by the flush scheduler.
func (b *FrameBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	b.appended += uint64(len(p))
}

// Len returns the number of buffered bytes
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.head
}

// ExtractBlock removes and returns exactly blockSize bytes from the head.
// If fewer bytes are buffered it returns (nil, false) and removes nothing;
// partial blocks are never emitted.
func (b *FrameBuffer) ExtractBlock(blockSize int) ([]byte, bool) {
	if blockSize <= 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data)-b.head < blockSize {
		return nil, false
	}

	block := make([]byte, blockSize)
	copy(block, b.data[b.head:b.head+blockSize])
	b.head += blockSize

	b.maybeCompact()

	return block, true
}

// TrimTo drops the oldest bytes until at most maxBytes remain. It returns
// the number of bytes dropped. This is the relay's only overload response;
// the producer is never signalled.
func (b *FrameBuffer) TrimTo(maxBytes int) int {
	if maxBytes < 0 {
		maxBytes = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	excess := (len(b.data) - b.head) - maxBytes
	if excess <= 0 {
		return 0
	}

	b.head += excess
	b.dropped += uint64(excess)

	b.maybeCompact()

	return excess
}

// Reset discards all buffered data but keeps the counters
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.head = 0
}

// Stats returns a snapshot of the buffer counters
func (b *FrameBuffer) Stats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return FrameBufferStats{
		BufferedBytes: len(b.data) - b.head,
		AppendedBytes: b.appended,
		DroppedBytes:  b.dropped,
	}
}

// maybeCompact shifts live data to the front once the consumed prefix is
// large enough to be worth reclaiming. Callers must hold b.mu.
func (b *FrameBuffer) maybeCompact() {
	if b.head < compactThreshold || b.head < len(b.data)/2 {
		return
	}

	n := copy(b.data, b.data[b.head:])
	b.data = b.data[:n]
	b.head = 0
}
