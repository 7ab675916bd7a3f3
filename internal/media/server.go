// Package media provides the clip sources a blast run serves to renderers.
//
// The orchestrator only sees the MediaServer interface; this package supplies
// the two concrete sources the CLI offers: a throwaway HTTP server for a
// local clip file, and a passthrough for a clip already hosted elsewhere.
package media

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/logging"
)

// FileServer serves a single local clip file over HTTP for the duration of a
// blast run. Renderers fetch the clip themselves, so the URL must carry a
// LAN-reachable address, not localhost.
type FileServer struct {
	path string
	addr string // listen address; empty means all interfaces, ephemeral port

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

// NewFileServer creates a server for the clip at path. addr is the listen
// address ("" or ":0" picks an ephemeral port on all interfaces).
func NewFileServer(path, addr string) *FileServer {
	if addr == "" {
		addr = ":0"
	}
	return &FileServer{path: path, addr: addr}
}

// Start binds the listener and begins serving the clip. It returns the URL
// renderers should fetch, using the host's LAN address when the listener is
// bound to all interfaces.
func (s *FileServer) Start(ctx context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("media file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("media file %s is a directory", s.path)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind media listener: %w", err)
	}

	clipPath := "/media/" + filepath.Base(s.path)
	mux := http.NewServeMux()
	mux.HandleFunc(clipPath, func(w http.ResponseWriter, r *http.Request) {
		logging.Debug("Serving clip",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("range", r.Header.Get("Range")),
		)
		http.ServeFile(w, r, s.path)
	})

	httpSrv := &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpSrv = httpSrv
	s.mu.Unlock()

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Media server failed", zap.Error(err))
		}
	}()

	host, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		_ = listener.Close()
		return "", fmt.Errorf("media listener address: %w", err)
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		lan, err := lanAddress()
		if err != nil {
			_ = listener.Close()
			return "", fmt.Errorf("no LAN address for media URL: %w", err)
		}
		host = lan
	}

	mediaURL := fmt.Sprintf("http://%s%s", net.JoinHostPort(host, port), clipPath)
	logging.Info("Media server started",
		zap.String("url", mediaURL),
		zap.Int64("size_bytes", info.Size()),
	)
	return mediaURL, nil
}

// Stop closes the listener. In-flight clip fetches are cut off; renderers
// already playing have buffered what they need.
func (s *FileServer) Stop() error {
	s.mu.Lock()
	httpSrv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.mu.Unlock()
	if httpSrv == nil {
		return nil
	}
	return httpSrv.Close()
}

// lanAddress returns the host's first non-loopback IPv4 address.
func lanAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 interface found")
}

// StaticSource is a MediaServer for a clip already hosted elsewhere.
// Start validates the URL; Stop is a no-op.
type StaticSource struct {
	rawURL string
}

// NewStaticSource wraps an externally hosted clip URL.
func NewStaticSource(rawURL string) *StaticSource {
	return &StaticSource{rawURL: rawURL}
}

// Start validates and returns the clip URL.
func (s *StaticSource) Start(ctx context.Context) (string, error) {
	u, err := url.Parse(s.rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("media URL must be http or https, got %q", s.rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("media URL %q has no host", s.rawURL)
	}
	return s.rawURL, nil
}

// Stop is a no-op: the clip is hosted elsewhere.
func (s *StaticSource) Stop() error { return nil }
