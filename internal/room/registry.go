package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgofman/audiostreamer/internal/config"
	"github.com/dgofman/audiostreamer/internal/metrics"
	"github.com/dgofman/audiostreamer/internal/protocol"
)

// ErrRegistryClosed is returned by Join after the registry has shut down
var ErrRegistryClosed = errors.New("room registry is closed")

// Registry owns the process-wide roomId to Room mapping. Rooms are created
// lazily on the first connection naming an unseen id and removed the
// moment their last member leaves.
//
// The registry lock serializes joins against teardown: Leave stops the
// room's flush scheduler and deletes the entry while still holding the
// lock, so a concurrent reconnect for the same id always observes either
// the live room or a fresh one, never a half-torn-down room.
type Registry struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// NewRegistry creates an empty room registry
func NewRegistry(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// Join adds the peer to the named room under its role capabilities,
// creating the room if absent and starting the flush scheduler when the
// room gains its first microphone.
func (g *Registry) Join(roomID, clientID string, role protocol.Role, p Peer) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrRegistryClosed
	}

	r, exists := g.rooms[roomID]
	if !exists {
		r = newRoom(roomID, g.cfg, g.logger, g.metrics)
		g.rooms[roomID] = r
		g.metrics.RecordRoomCreated()
		g.logger.Info("room created", slog.String("room_id", roomID))
	}

	r.join(p, clientID, role)

	if role.IsMicrophone() {
		r.ensureFlusher()
	}

	g.logger.Info("client joined room",
		slog.String("room_id", roomID),
		slog.String("client_id", clientID),
		slog.String("role", role.String()),
	)

	return r, nil
}

// Leave removes the peer from the named room. If removal empties the
// room, its flush scheduler is stopped (cancel-and-await) and the room is
// deleted before the registry lock is released.
func (g *Registry) Leave(roomID string, p Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, exists := g.rooms[roomID]
	if !exists {
		return
	}

	if !r.leave(p) {
		return
	}

	r.stopFlusher()
	delete(g.rooms, roomID)

	g.metrics.RecordRoomDestroyed(time.Since(r.createdAt).Seconds())
	g.logger.Info("room destroyed",
		slog.String("room_id", roomID),
		slog.Duration("lifetime", time.Since(r.createdAt)),
	)
}

// Count returns the number of active rooms
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Get returns a monitoring snapshot of one room
func (g *Registry) Get(roomID string) (Info, bool) {
	g.mu.Lock()
	r, exists := g.rooms[roomID]
	g.mu.Unlock()

	if !exists {
		return Info{}, false
	}
	return r.Snapshot(), true
}

// Snapshot returns monitoring snapshots of all active rooms
func (g *Registry) Snapshot() []Info {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	infos := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Snapshot())
	}
	return infos
}

// Close tears down every room and rejects further joins. Used on
// graceful shutdown; connected peers are dropped by their own read
// loops when the server closes.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true

	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.stopFlusher()
		g.metrics.RecordRoomDestroyed(time.Since(r.createdAt).Seconds())
	}

	if len(rooms) > 0 {
		g.logger.Info("registry closed", slog.Int("rooms_destroyed", len(rooms)))
	}
}
