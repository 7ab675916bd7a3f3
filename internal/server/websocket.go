package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/blast"
	"github.com/lanblast/lanblast/internal/logging"
)

const (
	// Time allowed to write an event to the observer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the observer
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers are LAN tools (dashboards, curl scripts); no origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// event is one message on the observer stream.
type event struct {
	Type     string          `json:"type"` // "snapshot" or "device"
	Snapshot *blast.Snapshot `json:"snapshot,omitempty"`
	Device   *deviceJSON     `json:"device,omitempty"`
}

// handleWebSocket upgrades the connection and streams pipeline events until
// the observer disconnects. A new observer first receives the full current
// state (one snapshot plus one event per known device).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	remoteAddr := conn.RemoteAddr().String()
	logging.Info("Observer connected", zap.String("remote_addr", remoteAddr))

	snaps, unsubSnaps := s.pipeline.SubscribeSnapshots()
	devices, unsubDevices := s.pipeline.SubscribeDevices()

	defer func() {
		unsubSnaps()
		unsubDevices()
		_ = conn.Close()
		logging.Info("Observer disconnected", zap.String("remote_addr", remoteAddr))
	}()

	// Read pump: the observer sends nothing meaningful, but reading is what
	// surfaces close frames and feeds the pong handler.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial state: current snapshot, then the device table.
	snap := s.pipeline.Snapshot()
	if err := s.writeEvent(conn, event{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}
	for _, d := range s.pipeline.Devices() {
		dj := toDeviceJSON(d)
		if err := s.writeEvent(conn, event{Type: "device", Device: &dj}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, event{Type: "snapshot", Snapshot: &snap}); err != nil {
				return
			}
		case dev, ok := <-devices:
			if !ok {
				return
			}
			dj := toDeviceJSON(dev)
			if err := s.writeEvent(conn, event{Type: "device", Device: &dj}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		logging.Debug("Observer write failed",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
