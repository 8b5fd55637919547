package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dgofman/audiostreamer/internal/audio"
	"github.com/dgofman/audiostreamer/internal/config"
	"github.com/dgofman/audiostreamer/internal/metrics"
	"github.com/dgofman/audiostreamer/internal/protocol"
)

// Peer delivers payloads to one connected client. Implementations must
// bound each send (the gateway uses the transport write deadline) so a
// slow speaker surfaces as an error instead of stalling the flush loop.
type Peer interface {
	// SendAudio delivers one binary audio block.
	SendAudio(block []byte) error
	// SendControl delivers a control payload as a text frame.
	SendControl(payload []byte) error
}

// Room is one relay scope: its microphone and speaker membership, the
// shared frame buffer microphones append into, and the jitter estimator
// driven by the flush scheduler.
//
// Membership mutation goes through the Registry, which serializes joins
// and teardown; the room mutex guards members and jitter state against
// the concurrently ticking flush loop.
type Room struct {
	id        string
	createdAt time.Time
	audioCfg  config.AudioConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	buf *audio.FrameBuffer

	mu           sync.Mutex
	mics         map[Peer]string
	speakers     map[Peer]string
	estimator    *audio.Estimator
	published    audio.Window
	hasPublished bool
	blocksSent   uint64
	flusher      *flusher
}

// Info is a read-only snapshot of a room for monitoring
type Info struct {
	RoomID         string    `json:"room_id"`
	Microphones    []string  `json:"microphones"`
	Speakers       []string  `json:"speakers"`
	BufferedBytes  int       `json:"buffered_bytes"`
	BufferedMs     float64   `json:"buffered_ms"`
	AppendedBytes  uint64    `json:"appended_bytes"`
	DroppedBytes   uint64    `json:"dropped_bytes"`
	BlocksSent     uint64    `json:"blocks_sent"`
	JitterMinMs    int       `json:"jitter_min_ms"`
	JitterMaxMs    int       `json:"jitter_max_ms"`
	FlusherRunning bool      `json:"flusher_running"`
	CreatedAt      time.Time `json:"created_at"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
}

func newRoom(id string, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Room {
	return &Room{
		id:        id,
		createdAt: time.Now(),
		audioCfg:  cfg.Audio,
		logger:    logger,
		metrics:   m,
		buf:       audio.NewFrameBuffer(cfg.Audio.BytesPerMillisecond() * 1000),
		mics:      make(map[Peer]string),
		speakers:  make(map[Peer]string),
		estimator: audio.NewEstimator(cfg.Jitter),
	}
}

// ID returns the room identifier
func (r *Room) ID() string {
	return r.id
}

// AppendAudio feeds inbound microphone bytes into the room buffer,
// unmodified and in arrival order.
func (r *Room) AppendAudio(data []byte) {
	r.buf.Append(data)
	r.metrics.RecordBytesReceived(len(data))
}

// join registers the peer under its capabilities. Called by the Registry
// with the registry lock held.
func (r *Room) join(p Peer, clientID string, role protocol.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role.IsMicrophone() {
		r.mics[p] = clientID
	}
	if role.IsSpeaker() {
		r.speakers[p] = clientID
	}
}

// leave removes the peer from all membership sets and reports whether the
// room is now empty. Safe to call for peers already partially removed by
// a failed send.
func (r *Room) leave(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.mics, p)
	delete(r.speakers, p)

	return len(r.mics) == 0 && len(r.speakers) == 0
}

// memberCount returns the number of distinct member connections
func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make(map[Peer]struct{}, len(r.mics)+len(r.speakers))
	for p := range r.mics {
		members[p] = struct{}{}
	}
	for p := range r.speakers {
		members[p] = struct{}{}
	}
	return len(members)
}

// Snapshot returns a monitoring view of the room
func (r *Room) Snapshot() Info {
	stats := r.buf.Stats()
	bytesPerMs := r.audioCfg.BytesPerMillisecond()

	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		RoomID:         r.id,
		Microphones:    make([]string, 0, len(r.mics)),
		Speakers:       make([]string, 0, len(r.speakers)),
		BufferedBytes:  stats.BufferedBytes,
		BufferedMs:     float64(stats.BufferedBytes) / float64(bytesPerMs),
		AppendedBytes:  stats.AppendedBytes,
		DroppedBytes:   stats.DroppedBytes,
		BlocksSent:     r.blocksSent,
		FlusherRunning: r.flusher != nil,
		CreatedAt:      r.createdAt,
		UptimeSeconds:  time.Since(r.createdAt).Seconds(),
	}
	if r.hasPublished {
		info.JitterMinMs = r.published.MinMs
		info.JitterMaxMs = r.published.MaxMs
	}
	for _, id := range r.mics {
		info.Microphones = append(info.Microphones, id)
	}
	for _, id := range r.speakers {
		info.Speakers = append(info.Speakers, id)
	}
	return info
}

// speakerEntry pairs a speaker peer with its client identity for fanout
type speakerEntry struct {
	peer     Peer
	clientID string
}

// speakerSnapshotLocked copies the current speaker set. Callers must hold
// r.mu; sends happen outside the lock so one slow speaker cannot block
// membership changes.
func (r *Room) speakerSnapshotLocked() []speakerEntry {
	out := make([]speakerEntry, 0, len(r.speakers))
	for p, id := range r.speakers {
		out = append(out, speakerEntry{peer: p, clientID: id})
	}
	return out
}

// micClientIDsLocked returns the identities of currently connected
// microphones, used by the self-filter. Callers must hold r.mu.
func (r *Room) micClientIDsLocked() map[string]struct{} {
	out := make(map[string]struct{}, len(r.mics))
	for _, id := range r.mics {
		out[id] = struct{}{}
	}
	return out
}

// dropSpeaker removes a speaker whose delivery failed. Idempotent: the
// peer may already be gone via a concurrent disconnect.
func (r *Room) dropSpeaker(p Peer, sendErr error) {
	r.mu.Lock()
	clientID, present := r.speakers[p]
	if present {
		delete(r.speakers, p)
	}
	r.mu.Unlock()

	if !present {
		return
	}

	r.metrics.RecordSpeakerSendError()
	r.logger.Warn("speaker removed after failed delivery",
		slog.String("room_id", r.id),
		slog.String("client_id", clientID),
		slog.String("error", sendErr.Error()),
	)
}

// broadcastAudio fans one block out to the given speakers. Each delivery
// is independent; a failure drops exactly that speaker.
func (r *Room) broadcastAudio(block []byte, speakers []speakerEntry, filter map[string]struct{}) {
	for _, s := range speakers {
		if filter != nil {
			if _, own := filter[s.clientID]; own {
				continue
			}
		}
		if err := s.peer.SendAudio(block); err != nil {
			r.dropSpeaker(s.peer, err)
			continue
		}
		r.metrics.RecordBlockBroadcast(len(block))
	}
}

// broadcastControl fans a control payload out to the given speakers with
// the same per-recipient failure isolation as audio.
func (r *Room) broadcastControl(payload []byte, speakers []speakerEntry) {
	for _, s := range speakers {
		if err := s.peer.SendControl(payload); err != nil {
			r.dropSpeaker(s.peer, err)
		}
	}
}
