package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgofman/audiostreamer/internal/config"
	"github.com/dgofman/audiostreamer/internal/metrics"
	"github.com/dgofman/audiostreamer/internal/room"
)

// HTTPServer hosts the WebSocket relay endpoint together with the
// monitoring and management API.
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	registry *room.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates the relay server with all routes configured
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, registry *room.Registry, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:   logger,
		config:   cfg,
		registry: registry,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Clients are native capture/playback endpoints, not browsers;
			// origin enforcement belongs to a fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler: mux,
		// No ReadTimeout: relay connections read until the peer closes.
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// setupRoutes configures the relay and API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Relay endpoint; not wrapped, long-lived connections would skew
	// the request duration histogram.
	mux.HandleFunc("/ws", h.handleStream)

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/rooms", h.withMetrics("/rooms", h.handleRooms))
	mux.HandleFunc("/rooms/", h.withMetrics("/rooms/{id}", h.handleRoomDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server. It returns an error only if the listener
// cannot be established; serve errors afterwards are logged.
func (h *HTTPServer) Start() error {
	h.logger.Info("starting relay server", slog.String("address", h.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	// Surface immediate bind failures synchronously so startup can abort.
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start relay server: %w", err)
		}
		return nil
	case <-time.After(100 * time.Millisecond):
	}

	go func() {
		if err := <-errCh; err != nil && err != http.ErrServerClosed {
			h.logger.Error("relay server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping relay server...")

	return h.server.Shutdown(ctx)
}

// Addr returns the configured listen address
func (h *HTTPServer) Addr() string {
	return h.server.Addr
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "audiostreamer",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"relay": map[string]interface{}{
				"status":       "running",
				"active_rooms": h.registry.Count(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleRooms implements the /rooms endpoint
func (h *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.registry.Snapshot()

	response := map[string]interface{}{
		"total_rooms": len(infos),
		"timestamp":   time.Now().UTC(),
		"rooms":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoomDetail implements the /rooms/{id} endpoint
func (h *HTTPServer) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/rooms/")
	if roomID == "" {
		http.Error(w, "Room ID required", http.StatusBadRequest)
		return
	}

	info, exists := h.registry.Get(roomID)
	if !exists {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address":    h.config.Server.BindAddress,
			"port":            h.config.Server.Port,
			"send_timeout_ms": h.config.Server.SendTimeoutMs,
			"max_message_kb":  h.config.Server.MaxMessageKB,
		},
		"audio": map[string]interface{}{
			"sample_rate":       h.config.Audio.SampleRate,
			"channels":          h.config.Audio.Channels,
			"bytes_per_sample":  h.config.Audio.BytesPerSample,
			"block_duration_ms": h.config.Audio.BlockDurationMs,
			"flush_interval_ms": h.config.Audio.FlushIntervalMs,
			"self_filter":       h.config.Audio.SelfFilter,
			"block_size_bytes":  h.config.Audio.BlockSizeBytes(),
			"bytes_per_ms":      h.config.Audio.BytesPerMillisecond(),
		},
		"jitter": map[string]interface{}{
			"history_size": h.config.Jitter.HistorySize,
			"tiers":        h.config.Jitter.Tiers,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitized)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.registry.Snapshot()
	var appended, dropped, blocks uint64
	var mics, speakers int
	for _, info := range infos {
		appended += info.AppendedBytes
		dropped += info.DroppedBytes
		blocks += info.BlocksSent
		mics += len(info.Microphones)
		speakers += len(info.Speakers)
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"rooms": map[string]interface{}{
			"active_count": len(infos),
			"microphones":  mics,
			"speakers":     speakers,
		},
		"audio": map[string]interface{}{
			"appended_bytes": appended,
			"dropped_bytes":  dropped,
			"blocks_sent":    blocks,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Audio Streamer Relay",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /ws?roomId=&clientId=&role=": "WebSocket relay endpoint (role: recording and/or listening)",
			"GET /health":                     "Service health check",
			"GET /rooms":                      "List all active rooms",
			"GET /rooms/{room_id}":            "Get detailed room information",
			"GET /config":                     "Get service configuration",
			"GET /stats":                      "Get relay statistics",
			"GET /metrics":                    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
