package blast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanblast/lanblast/internal/control"
	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/discovery"
)

// fakeServer satisfies MediaServer.
type fakeServer struct {
	url        string
	startErr   error
	startCalls atomic.Int32
	stopped    atomic.Bool
}

func (s *fakeServer) Start(ctx context.Context) (string, error) {
	s.startCalls.Add(1)
	return s.url, s.startErr
}

func (s *fakeServer) Stop() error { s.stopped.Store(true); return nil }

// fixtureScanner emits preset devices after optional delays, or blocks until
// the deadline when block is set.
type fixtureScanner struct {
	method  device.Method
	devices []*device.Device
	delay   time.Duration
	block   bool
	calls   atomic.Int32
}

func (f *fixtureScanner) Method() device.Method { return f.method }

func (f *fixtureScanner) Discover(ctx context.Context, out chan<- *device.Device) error {
	f.calls.Add(1)
	for _, d := range f.devices {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return nil
		}
	}
	if f.block {
		<-ctx.Done()
	}
	return nil
}

// fakeClient satisfies ControlClient, tracking concurrency high-water mark.
type fakeClient struct {
	latency time.Duration
	fail    bool

	mu       sync.Mutex
	inFlight int
	maxSeen  int
	attempts int
}

func (c *fakeClient) PushClip(ctx context.Context, dev *device.Device, mediaURL string) control.Result {
	c.mu.Lock()
	c.inFlight++
	c.attempts++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()

	start := time.Now()
	select {
	case <-time.After(c.latency):
	case <-ctx.Done():
	}

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if c.fail || ctx.Err() != nil {
		return control.Result{DeviceKey: dev.Key(), OK: false, Duration: time.Since(start), Err: "stub failure"}
	}
	return control.Result{DeviceKey: dev.Key(), OK: true, Duration: time.Since(start)}
}

func fixtureDevice(ip string, port int) *device.Device {
	d := device.New(ip, port, device.MethodSSDP)
	d.FriendlyName = "Fixture " + ip
	d.Manufacturer = "Acme"
	return d
}

func newTestOrchestrator(server MediaServer, client ControlClient, scanners ...discovery.Discoverer) *Orchestrator {
	return New(server, Config{
		DiscoveryTimeout: 200 * time.Millisecond,
		Concurrency:      3,
		Scanners:         scanners,
		Client:           client,
	})
}

func TestOrchestrator_FullRun(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
		fixtureDevice("192.168.1.11", 1400),
		fixtureDevice("192.168.1.12", 8009),
	}}
	client := &fakeClient{latency: 10 * time.Millisecond}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, client, scanner)

	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if snap.DevicesFound != 3 {
		t.Errorf("DevicesFound = %d, want 3", snap.DevicesFound)
	}
	if snap.Attempts != 3 || snap.Successes != 3 || snap.Failures != 0 {
		t.Errorf("attempts/successes/failures = %d/%d/%d, want 3/3/0", snap.Attempts, snap.Successes, snap.Failures)
	}
	if snap.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", snap.SuccessRate)
	}
	if !snap.Final {
		t.Error("final snapshot not frozen")
	}
	if got := snap.ByManufacturer["Acme"]; got.Attempts != 3 || got.Successes != 3 {
		t.Errorf("ByManufacturer[Acme] = %+v", got)
	}
	if o.State() != StateDone {
		t.Errorf("state = %s, want DONE", o.State())
	}
}

func TestOrchestrator_AllDevicesFailStillReachesDone(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
		fixtureDevice("192.168.1.11", 1400),
	}}
	client := &fakeClient{fail: true}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, client, scanner)

	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("all-failed run must not error: %v", err)
	}
	if snap.Attempts != 2 || snap.Failures != 2 {
		t.Errorf("attempts/failures = %d/%d, want 2/2", snap.Attempts, snap.Failures)
	}
	if o.State() != StateDone {
		t.Errorf("state = %s, want DONE", o.State())
	}
}

func TestOrchestrator_ZeroDevicesIsNotAnError(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP}
	client := &fakeClient{}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, client, scanner)

	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("zero-device run must not error: %v", err)
	}
	if snap.DevicesFound != 0 || snap.Attempts != 0 {
		t.Errorf("found/attempts = %d/%d, want 0/0", snap.DevicesFound, snap.Attempts)
	}
}

func TestOrchestrator_BoundedConcurrency(t *testing.T) {
	devices := make([]*device.Device, 5)
	for i := range devices {
		devices[i] = fixtureDevice("192.168.1.10", 1400+i)
	}
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: devices}
	client := &fakeClient{latency: 100 * time.Millisecond}

	o := New(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, Config{
		DiscoveryTimeout: 100 * time.Millisecond,
		Concurrency:      2,
		Scanners:         []discovery.Discoverer{scanner},
		Client:           client,
	})

	start := time.Now()
	snap, err := o.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if client.maxSeen > 2 {
		t.Errorf("max in-flight control tasks = %d, want <= 2", client.maxSeen)
	}
	if snap.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", snap.Attempts)
	}

	// 5 devices at 100ms each with concurrency 2 is 3 waves, ~300ms.
	// Discovery ends as soon as the fixture scanner drains. Not 1 wave,
	// not 5.
	if elapsed < 250*time.Millisecond {
		t.Errorf("run took %v, too fast for 3 control waves", elapsed)
	}
	if elapsed > 480*time.Millisecond {
		t.Errorf("run took %v, too slow for 3 control waves", elapsed)
	}
}

func TestOrchestrator_NoMediaURL(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
	}}
	client := &fakeClient{}
	o := newTestOrchestrator(&fakeServer{url: ""}, client, scanner)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrNoMediaURL) {
		t.Fatalf("err = %v, want ErrNoMediaURL", err)
	}
	if client.attempts != 0 {
		t.Errorf("attempts = %d, want 0 (no partial control attempts)", client.attempts)
	}
	if o.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", o.State())
	}
}

func TestOrchestrator_ServerStartFailure(t *testing.T) {
	o := newTestOrchestrator(
		&fakeServer{startErr: errors.New("port in use")},
		&fakeClient{},
		&fixtureScanner{method: device.MethodSSDP},
	)

	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected run-level error")
	}
	if o.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", o.State())
	}
}

func TestOrchestrator_StopMidDiscovery(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, block: true}
	client := &fakeClient{}
	o := New(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, Config{
		DiscoveryTimeout: 5 * time.Second,
		Concurrency:      2,
		Scanners:         []discovery.Discoverer{scanner},
		Client:           client,
	})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	o.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("err = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if o.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", o.State())
	}
	if client.attempts != 0 {
		t.Errorf("control attempts = %d, want 0 after stop mid-discovery", client.attempts)
	}
	if snap := o.Snapshot(); snap.Attempts != 0 {
		t.Errorf("recorded attempts = %d, want 0", snap.Attempts)
	}
}

func TestOrchestrator_LateUpdateAfterStopDiscarded(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
	}}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, &fakeClient{}, scanner)

	if _, err := o.DiscoverOnly(context.Background()); err != nil {
		t.Fatalf("DiscoverOnly() error: %v", err)
	}

	staleSeq := 0 // any seq other than the current run's is stale
	enriched := fixtureDevice("192.168.1.99", 1400)
	o.handleLateUpdate(enriched, staleSeq)

	for _, d := range o.Devices() {
		if d.Key() == "192.168.1.99:1400" {
			t.Error("stale late update was applied")
		}
	}
}

// Enrichment that lands while a control attempt is in flight replaces the
// table record; the attempt's final status must land on the new record, not
// vanish with the old one.
func TestOrchestrator_EnrichmentDuringControlKeepsStatus(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
	}}
	client := &fakeClient{latency: 300 * time.Millisecond}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, client, scanner)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	// Wait until the push is actually in flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		busy := client.inFlight > 0
		client.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control attempt never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	o.mu.Lock()
	seq := o.runSeq
	o.mu.Unlock()

	enriched := fixtureDevice("192.168.1.10", 1400)
	enriched.FriendlyName = "Living Room Sonos"
	enriched.ControlURL = "/MediaRenderer/AVTransport/Control"
	o.handleLateUpdate(enriched, seq)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not finish")
	}

	var got *device.Device
	for _, d := range o.Devices() {
		if d.Key() == "192.168.1.10:1400" {
			got = d
		}
	}
	if got == nil {
		t.Fatal("device missing from table")
	}
	if got.Status != device.StatusSuccess {
		t.Errorf("final status = %s, want %s", got.Status, device.StatusSuccess)
	}
	if got.FriendlyName != "Living Room Sonos" {
		t.Errorf("FriendlyName = %q, enrichment lost", got.FriendlyName)
	}
}

func TestOrchestrator_DiscoverOnlyReturnsToIdleAndCaches(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
		fixtureDevice("192.168.1.11", 8009),
	}}
	client := &fakeClient{}
	srv := &fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}
	o := newTestOrchestrator(srv, client, scanner)

	found, err := o.DiscoverOnly(context.Background())
	if err != nil {
		t.Fatalf("DiscoverOnly() error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d devices, want 2", len(found))
	}
	// Nothing is served in a discover-only run.
	if calls := srv.startCalls.Load(); calls != 0 {
		t.Errorf("media server started %d times during discover-only, want 0", calls)
	}
	// Explicitly Idle, not Done, so a full blast can follow.
	if o.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", o.State())
	}

	// The follow-up blast reuses the cached table without re-discovering.
	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if scanner.calls.Load() != 1 {
		t.Errorf("scanner ran %d times, want 1 (reuse cached devices)", scanner.calls.Load())
	}
	if snap.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", snap.Attempts)
	}
}

func TestOrchestrator_RunWhileBusy(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, block: true}
	o := New(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, Config{
		DiscoveryTimeout: time.Second,
		Scanners:         []discovery.Discoverer{scanner},
		Client:           &fakeClient{},
	})

	go func() { _, _ = o.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := o.Run(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	o.Stop()
}

func TestOrchestrator_SnapshotsPublishedDuringRun(t *testing.T) {
	scanner := &fixtureScanner{method: device.MethodSSDP, devices: []*device.Device{
		fixtureDevice("192.168.1.10", 1400),
		fixtureDevice("192.168.1.11", 1400),
	}}
	o := newTestOrchestrator(&fakeServer{url: "http://127.0.0.1:8080/clip.mp3"}, &fakeClient{latency: 10 * time.Millisecond}, scanner)

	snaps, unsub := o.SubscribeSnapshots()
	defer unsub()
	events, unsubDev := o.SubscribeDevices()
	defer unsubDev()

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var snapCount int
	for {
		select {
		case <-snaps:
			snapCount++
			continue
		default:
		}
		break
	}
	// At minimum: per-state transitions plus per-device and per-result events.
	if snapCount < 4 {
		t.Errorf("observed %d snapshots, want several live updates", snapCount)
	}

	var sawSuccess bool
	for {
		select {
		case dev := <-events:
			if dev.Status == device.StatusSuccess {
				sawSuccess = true
			}
			continue
		default:
		}
		break
	}
	if !sawSuccess {
		t.Error("device stream never showed a SUCCESS status transition")
	}
}
