package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/blast"
	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/discovery"
	"github.com/lanblast/lanblast/internal/logging"
	"github.com/lanblast/lanblast/internal/version"
)

// Pipeline is the observable surface of the blast orchestrator.
type Pipeline interface {
	Snapshot() blast.Snapshot
	Devices() []*device.Device
	MethodStats() []discovery.MethodStats
	SubscribeSnapshots() (<-chan blast.Snapshot, func())
	SubscribeDevices() (<-chan *device.Device, func())
}

// Config holds the observer server configuration.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8765". A ":0" port picks a
	// free one; the bound address is available from Addr() after Start.
	Addr string
}

// Server serves pipeline state to observers.
type Server struct {
	config   *Config
	pipeline Pipeline

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

// New creates an observer server over the given pipeline.
func New(config *Config, pipeline Pipeline) *Server {
	return &Server{
		config:   config,
		pipeline: pipeline,
	}
}

// Start binds the listener and blocks serving requests until Shutdown.
// It returns nil after a clean shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/methods", s.handleMethods)
	mux.HandleFunc("/ws", s.handleWebSocket)

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind observer listener: %w", err)
	}

	httpSrv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
	}

	s.mu.Lock()
	s.listener = listener
	s.httpSrv = httpSrv
	s.mu.Unlock()

	logging.Info("Observer server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("version", version.Full()),
	)

	if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observer server failed: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, draining connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpSrv := s.httpSrv
	s.mu.Unlock()
	if httpSrv == nil {
		return nil
	}

	logging.Info("Shutting down observer server")
	if err := httpSrv.Shutdown(ctx); err != nil {
		logging.Warn("Observer shutdown did not drain cleanly", zap.Error(err))
		return err
	}
	return nil
}

// deviceJSON is the wire form of a device record.
type deviceJSON struct {
	Key          string            `json:"key"`
	IP           string            `json:"ip"`
	Port         int               `json:"port"`
	FriendlyName string            `json:"friendly_name"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	ModelName    string            `json:"model_name,omitempty"`
	Type         string            `json:"type,omitempty"`
	UUID         string            `json:"uuid,omitempty"`
	ControlURL   string            `json:"control_url"`
	Method       string            `json:"method"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
}

func toDeviceJSON(d *device.Device) deviceJSON {
	return deviceJSON{
		Key:          d.Key(),
		IP:           d.IP,
		Port:         d.Port,
		FriendlyName: d.FriendlyName,
		Manufacturer: d.Manufacturer,
		ModelName:    d.ModelName,
		Type:         d.Type,
		UUID:         d.UUID,
		ControlURL:   d.ControlURL,
		Method:       d.Method.String(),
		Status:       d.Status.String(),
		Metadata:     d.Metadata,
		LastSeen:     d.LastSeen,
	}
}

// methodJSON is the wire form of per-method discovery stats.
type methodJSON struct {
	Method    string `json:"method"`
	Devices   int    `json:"devices"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Err       string `json:"error,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.pipeline.Snapshot())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devices := s.pipeline.Devices()
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceJSON(d))
	}
	writeJSON(w, out)
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.pipeline.MethodStats()
	out := make([]methodJSON, 0, len(stats))
	for _, st := range stats {
		out = append(out, methodJSON{
			Method:    st.Method.String(),
			Devices:   st.Devices,
			ElapsedMS: st.Elapsed.Milliseconds(),
			Err:       st.Err,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}
