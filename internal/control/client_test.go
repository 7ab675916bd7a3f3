package control

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lanblast/lanblast/internal/device"
)

// rendererStub fakes a device's control endpoint. Behavior is keyed by SOAP
// action name.
type rendererStub struct {
	mu          sync.Mutex
	calls       []string
	failSetURI  bool
	hangOnPlay  bool
	probeStatus int
}

func (s *rendererStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			status := s.probeStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			return
		}

		action := r.Header.Get("SOAPACTION")
		switch {
		case strings.Contains(action, "SetAVTransportURI"):
			s.record("SetAVTransportURI")
			if s.failSetURI {
				http.Error(w, "fault", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte("<s:Envelope><s:Body/></s:Envelope>"))
		case strings.Contains(action, "Play"):
			s.record("Play")
			if s.hangOnPlay {
				time.Sleep(2 * time.Second)
			}
			_, _ = w.Write([]byte("<s:Envelope><s:Body/></s:Envelope>"))
		default:
			http.NotFound(w, r)
		}
	}
}

func (s *rendererStub) record(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, action)
}

func (s *rendererStub) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func deviceForServer(t *testing.T, srv *httptest.Server) *device.Device {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return device.New(host, port, device.MethodSSDP)
}

func TestClient_PushClip_Success(t *testing.T) {
	stub := &rendererStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(WithSettleDelay(10 * time.Millisecond))
	res := client.PushClip(context.Background(), deviceForServer(t, srv), "http://127.0.0.1:8080/media/current.mp3")

	if !res.OK {
		t.Fatalf("PushClip failed: %s", res.Err)
	}
	if res.Err != "" {
		t.Errorf("Err = %q, want empty on success", res.Err)
	}

	actions := stub.actions()
	if len(actions) != 2 || actions[0] != "SetAVTransportURI" || actions[1] != "Play" {
		t.Errorf("actions = %v, want [SetAVTransportURI Play]", actions)
	}
}

func TestClient_PushClip_SetURIFailureShortCircuits(t *testing.T) {
	stub := &rendererStub{failSetURI: true}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(WithSettleDelay(0))
	res := client.PushClip(context.Background(), deviceForServer(t, srv), "http://127.0.0.1:8080/clip.mp3")

	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Err, "SetAVTransportURI") {
		t.Errorf("Err = %q, want SetAVTransportURI detail", res.Err)
	}
	for _, a := range stub.actions() {
		if a == "Play" {
			t.Error("Play must not be sent after SetAVTransportURI failure")
		}
	}
}

func TestClient_PushClip_PlayTimeoutIsFailure(t *testing.T) {
	stub := &rendererStub{hangOnPlay: true}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(
		WithSettleDelay(0),
		WithCallTimeout(200*time.Millisecond),
	)
	res := client.PushClip(context.Background(), deviceForServer(t, srv), "http://127.0.0.1:8080/clip.mp3")

	if res.OK {
		t.Fatal("URI set without playback starting must not count as success")
	}
	if !strings.HasPrefix(res.Err, "Play") {
		t.Errorf("Err = %q, want Play detail", res.Err)
	}
	if res.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

func TestClient_PushClip_Probe403DoesNotBlock(t *testing.T) {
	stub := &rendererStub{probeStatus: http.StatusForbidden}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(WithSettleDelay(0))
	res := client.PushClip(context.Background(), deviceForServer(t, srv), "http://127.0.0.1:8080/clip.mp3")

	if !res.OK {
		t.Fatalf("403 probe answer blocked the control sequence: %s", res.Err)
	}
}

func TestClient_PushClip_CancelledDuringSettle(t *testing.T) {
	stub := &rendererStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(WithSettleDelay(5 * time.Second))

	done := make(chan Result, 1)
	go func() { done <- client.PushClip(ctx, deviceForServer(t, srv), "http://127.0.0.1:8080/clip.mp3") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res.OK {
			t.Error("cancelled attempt reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PushClip did not return after cancel")
	}
}
