package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgofman/audiostreamer/internal/config"
	"github.com/dgofman/audiostreamer/internal/protocol"
	"github.com/dgofman/audiostreamer/internal/room"
)

// newRelayTestServer starts the full HTTP/WebSocket stack on an ephemeral
// port with a small mono format so blocks flush quickly (32-byte blocks,
// 1ms scheduler tick).
func newRelayTestServer(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.SampleRate = 8000
	cfg.Audio.Channels = 1
	cfg.Audio.BlockDurationMs = 2
	cfg.Audio.FlushIntervalMs = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := room.NewRegistry(cfg, logger, nil)
	relay := NewHTTPServer(cfg, logger, registry, nil)

	ts := httptest.NewServer(relay.server.Handler)
	t.Cleanup(func() {
		ts.Close()
		registry.Close()
	})
	return ts, registry
}

func dialRelay(t *testing.T, ts *httptest.Server, roomID, clientID, role string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/ws?roomId=" + roomID + "&clientId=" + clientID + "&role=" + role
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", u, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// frameCollector drains a speaker connection in the background,
// accumulating binary payloads in order and text frames separately.
type frameCollector struct {
	mu    sync.Mutex
	audio []byte
	texts []string
}

func collectFrames(conn *websocket.Conn) *frameCollector {
	c := &frameCollector{}
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.mu.Lock()
			switch msgType {
			case websocket.BinaryMessage:
				c.audio = append(c.audio, data...)
			case websocket.TextMessage:
				c.texts = append(c.texts, string(data))
			}
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *frameCollector) audioLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

func (c *frameCollector) audioCopy() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.audio...)
}

func (c *frameCollector) textCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func (c *frameCollector) firstText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[0]
}

func testPCM(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestAdmissionRejectedBeforeUpgrade(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing room", "clientId=c1&role=recording"},
		{"missing client", "roomId=r1&role=recording"},
		{"missing role", "roomId=r1&clientId=c1"},
		{"unknown role", "roomId=r1&clientId=c1&role=observer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + tt.query
			conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
			if err != websocket.ErrBadHandshake {
				if conn != nil {
					conn.Close()
				}
				t.Fatalf("Expected handshake rejection, got err=%v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
			resp.Body.Close()
		})
	}
}

func TestMicrophoneAudioReachesSpeaker(t *testing.T) {
	ts, registry := newRelayTestServer(t)

	speaker := dialRelay(t, ts, "studio", "spk-1", "listening")
	received := collectFrames(speaker)

	mic := dialRelay(t, ts, "studio", "mic-1", "recording")
	waitFor(t, time.Second, func() bool { return registry.Count() == 1 },
		"room was not created")

	payload := testPCM(4096)
	if err := mic.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return received.audioLen() == len(payload) },
		"speaker did not receive the full payload")

	if got := received.audioCopy(); !bytes.Equal(got, payload) {
		t.Error("Received audio does not match sent audio")
	}
}

func TestSpeakerReceivesJitterNotice(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	speaker := dialRelay(t, ts, "studio", "spk-1", "listening")
	received := collectFrames(speaker)

	mic := dialRelay(t, ts, "studio", "mic-1", "recording")
	if err := mic.WriteMessage(websocket.BinaryMessage, testPCM(64)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return received.textCount() > 0 },
		"speaker did not receive a jitter notice")

	var notice protocol.JitterNotice
	if err := json.Unmarshal([]byte(received.firstText()), &notice); err != nil {
		t.Fatalf("Jitter notice is not valid JSON: %v", err)
	}
	if notice.JitterMinMs <= 0 || notice.JitterMaxMs <= notice.JitterMinMs {
		t.Errorf("Implausible jitter window: min=%d max=%d",
			notice.JitterMinMs, notice.JitterMaxMs)
	}
}

func TestPartialBlockHeldBack(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	speaker := dialRelay(t, ts, "studio", "spk-1", "listening")
	received := collectFrames(speaker)

	mic := dialRelay(t, ts, "studio", "mic-1", "recording")

	// 1.5 blocks: only the complete 32-byte block may go out.
	if err := mic.WriteMessage(websocket.BinaryMessage, testPCM(48)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	waitFor(t, time.Second, func() bool { return received.audioLen() == 32 },
		"first complete block was not delivered")

	time.Sleep(20 * time.Millisecond)
	if got := received.audioLen(); got != 32 {
		t.Fatalf("Partial block leaked: got %d bytes", got)
	}

	// Topping up the remainder completes the second block.
	if err := mic.WriteMessage(websocket.BinaryMessage, make([]byte, 16)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	waitFor(t, time.Second, func() bool { return received.audioLen() == 64 },
		"second block was not delivered after top-up")
}

func TestNonAudioFramesIgnored(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	speaker := dialRelay(t, ts, "studio", "spk-1", "listening")
	received := collectFrames(speaker)

	mic := dialRelay(t, ts, "studio", "mic-1", "recording")

	// Text from a microphone and binary from a speaker must both be
	// dropped; only real capture data may reach the buffer.
	if err := mic.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("Failed to send text: %v", err)
	}
	if err := speaker.WriteMessage(websocket.BinaryMessage, testPCM(32)); err != nil {
		t.Fatalf("Failed to send binary: %v", err)
	}

	payload := testPCM(64)
	if err := mic.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return received.audioLen() == len(payload) },
		"speaker did not receive the audio payload")

	time.Sleep(20 * time.Millisecond)
	if got := received.audioCopy(); !bytes.Equal(got, payload) {
		t.Error("Speaker received frames that should have been discarded")
	}
}

func TestDisconnectTearsDownRoom(t *testing.T) {
	ts, registry := newRelayTestServer(t)

	speaker := dialRelay(t, ts, "lonely", "spk-1", "listening")
	waitFor(t, time.Second, func() bool { return registry.Count() == 1 },
		"room was not created on join")

	speaker.Close()
	waitFor(t, time.Second, func() bool { return registry.Count() == 0 },
		"room was not destroyed after the last peer left")
}

func TestRoomsDoNotCrossTalk(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	speakerA := dialRelay(t, ts, "room-a", "spk-a", "listening")
	receivedA := collectFrames(speakerA)
	speakerB := dialRelay(t, ts, "room-b", "spk-b", "listening")
	receivedB := collectFrames(speakerB)

	mic := dialRelay(t, ts, "room-a", "mic-a", "recording")
	payload := testPCM(64)
	if err := mic.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return receivedA.audioLen() == len(payload) },
		"speaker in the source room did not receive audio")

	time.Sleep(20 * time.Millisecond)
	if got := receivedB.audioLen(); got != 0 {
		t.Errorf("Speaker in another room received %d bytes", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newRelayTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Failed to query /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}
}

func TestRoomsEndpointListsActiveRooms(t *testing.T) {
	ts, registry := newRelayTestServer(t)

	dialRelay(t, ts, "visible", "spk-1", "listening")
	waitFor(t, time.Second, func() bool { return registry.Count() == 1 },
		"room was not created on join")

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("Failed to query /rooms: %v", err)
	}
	defer resp.Body.Close()

	var listing struct {
		TotalRooms int         `json:"total_rooms"`
		Rooms      []room.Info `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode rooms response: %v", err)
	}
	if listing.TotalRooms != 1 || len(listing.Rooms) != 1 {
		t.Fatalf("Expected exactly one room, got %d", listing.TotalRooms)
	}
	if listing.Rooms[0].RoomID != "visible" {
		t.Errorf("Expected room 'visible', got %q", listing.Rooms[0].RoomID)
	}
	if len(listing.Rooms[0].Speakers) != 1 {
		t.Errorf("Expected 1 speaker, got %d", len(listing.Rooms[0].Speakers))
	}
}
