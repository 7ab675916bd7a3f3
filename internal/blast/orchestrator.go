package blast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lanblast/lanblast/internal/control"
	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/discovery"
	"github.com/lanblast/lanblast/internal/logging"
)

// Run-level failures. Individual device failures are data, never errors.
var (
	// ErrBusy is returned when a run is requested while one is in progress.
	ErrBusy = errors.New("blast already in progress")

	// ErrNoMediaURL is returned when the media server yields no URL: the
	// control phase cannot start and no partial attempts are made.
	ErrNoMediaURL = errors.New("no media URL available")

	// ErrStopped is returned when a stop cancels the run.
	ErrStopped = errors.New("blast stopped")
)

// MediaServer is the external collaborator that serves the audio clip.
// Start returns the clip URL, valid while the server runs.
type MediaServer interface {
	Start(ctx context.Context) (mediaURL string, err error)
	Stop() error
}

// Config tunes a blast run.
type Config struct {
	DiscoveryTimeout    time.Duration
	Concurrency         int
	SettleDelay         time.Duration
	MDNSServiceTypes    []string
	ExtraPorts          []int
	GenericNamePatterns []string

	// Scanners overrides the discovery strategies (fixtures, tests).
	Scanners []discovery.Discoverer

	// Client overrides the control client (tests).
	Client ControlClient
}

// ControlClient abstracts the SOAP control sequence for testability.
type ControlClient interface {
	PushClip(ctx context.Context, dev *device.Device, mediaURL string) control.Result
}

// Orchestrator sequences serving, discovery, control fan-out, and summary
// into one observable state machine. One instance drives one pipeline;
// snapshots and device events stream to any number of observers.
type Orchestrator struct {
	cfg    Config
	server MediaServer
	client ControlClient

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	runSeq  int // increments per run; late updates from old runs are discarded
	devices map[string]*device.Device
	metrics *metrics
	bus     *discovery.Bus

	subMu      sync.Mutex
	nextSubID  int
	snapSubs   map[int]chan Snapshot
	deviceSubs map[int]chan *device.Device
}

// New creates an orchestrator around the given media server.
func New(server MediaServer, cfg Config) *Orchestrator {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 5 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}

	client := cfg.Client
	if client == nil {
		opts := []control.Option{}
		if cfg.SettleDelay > 0 {
			opts = append(opts, control.WithSettleDelay(cfg.SettleDelay))
		}
		client = control.NewClient(opts...)
	}

	return &Orchestrator{
		cfg:        cfg,
		server:     server,
		client:     client,
		state:      StateIdle,
		devices:    make(map[string]*device.Device),
		metrics:    newMetrics(),
		snapSubs:   make(map[int]chan Snapshot),
		deviceSubs: make(map[int]chan *device.Device),
	}
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the current metrics snapshot.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.metrics.snapshot()
}

// Devices returns the devices known from the current or last discovery.
func (o *Orchestrator) Devices() []*device.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*device.Device, 0, len(o.devices))
	for _, d := range o.devices {
		out = append(out, d.Clone())
	}
	return out
}

// MethodStats returns the per-method discovery breakdown of the current or
// last run, most effective method first.
func (o *Orchestrator) MethodStats() []discovery.MethodStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bus == nil {
		return nil
	}
	return o.bus.Stats()
}

// SubscribeSnapshots registers an observer for metrics snapshots. Slow
// observers miss intermediate snapshots rather than stalling the pipeline.
func (o *Orchestrator) SubscribeSnapshots() (<-chan Snapshot, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan Snapshot, 16)
	o.snapSubs[id] = ch
	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.snapSubs[id]; ok {
			delete(o.snapSubs, id)
			close(ch)
		}
	}
}

// SubscribeDevices registers an observer for the live device stream. Each
// delivery is a clone reflecting the device's latest status.
func (o *Orchestrator) SubscribeDevices() (<-chan *device.Device, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan *device.Device, 32)
	o.deviceSubs[id] = ch
	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.deviceSubs[id]; ok {
			delete(o.deviceSubs, id)
			close(ch)
		}
	}
}

func (o *Orchestrator) publishSnapshot() {
	snap := o.metrics.snapshot()
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.snapSubs {
		select {
		case ch <- snap:
		default: // observer is behind; it will catch the next snapshot
		}
	}
}

func (o *Orchestrator) publishDevice(dev *device.Device) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.deviceSubs {
		select {
		case ch <- dev.Clone():
		default:
		}
	}
}

// transition moves the state machine, enforcing legality. The metrics
// snapshot picks up the new state immediately.
func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if !canTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	o.state = to
	o.mu.Unlock()

	logging.LogStateTransition(from.String(), to.String())
	o.metrics.setState(to)
	o.publishSnapshot()
	return nil
}

// Run executes a full blast: serve, discover (unless devices from a prior
// discover-only run are cached), control fan-out, summarize. It returns the
// frozen snapshot, or a run-level error for configuration/resource failures;
// "every device failed" is a successful run with Failures == Attempts.
func (o *Orchestrator) Run(ctx context.Context) (Snapshot, error) {
	runCtx, seq, err := o.begin(ctx, StateServing)
	if err != nil {
		return Snapshot{}, err
	}

	mediaURL, err := o.serve(runCtx)
	if err != nil {
		o.abort()
		return Snapshot{}, err
	}
	defer func() {
		if err := o.server.Stop(); err != nil {
			logging.Warn("Media server stop failed", zap.Error(err))
		}
	}()

	if err := o.transition(StateDiscovering); err != nil {
		return Snapshot{}, o.interpretTransitionErr(err)
	}

	// A prior discover-only run leaves its device table behind for reuse.
	o.mu.Lock()
	cached := make([]string, 0, len(o.devices))
	for key := range o.devices {
		cached = append(cached, key)
	}
	o.mu.Unlock()
	if len(cached) == 0 {
		if err := o.discover(runCtx, seq); err != nil {
			o.abort()
			return Snapshot{}, err
		}
	} else {
		for _, key := range cached {
			o.metrics.recordDeviceFound(key)
		}
		o.publishSnapshot()
	}
	if runCtx.Err() != nil {
		o.abort()
		return Snapshot{}, ErrStopped
	}

	if err := o.transition(StateControlling); err != nil {
		return Snapshot{}, o.interpretTransitionErr(err)
	}
	o.fanOut(runCtx, mediaURL)
	if runCtx.Err() != nil {
		o.abort()
		return Snapshot{}, ErrStopped
	}

	if err := o.transition(StateSummarizing); err != nil {
		return Snapshot{}, o.interpretTransitionErr(err)
	}
	o.metrics.finalize()
	snap := o.metrics.snapshot()

	if err := o.transition(StateDone); err != nil {
		return Snapshot{}, o.interpretTransitionErr(err)
	}
	o.publishSnapshot()
	return snap, nil
}

// DiscoverOnly runs the discovery phase and returns to Idle, keeping the
// device table so a following Run can skip rediscovery.
func (o *Orchestrator) DiscoverOnly(ctx context.Context) ([]*device.Device, error) {
	// No clip is served in a discover-only run; the media server stays cold
	// and the Serving state is never entered.
	runCtx, seq, err := o.begin(ctx, StateDiscovering)
	if err != nil {
		return nil, err
	}
	o.publishSnapshot()

	if err := o.discover(runCtx, seq); err != nil {
		o.abort()
		return nil, err
	}

	stopped := runCtx.Err() != nil

	o.mu.Lock()
	if o.state != StateIdle {
		o.state = StateIdle
		o.metrics.setState(StateIdle)
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.publishSnapshot()

	if stopped {
		return nil, ErrStopped
	}
	return o.Devices(), nil
}

// Stop cancels the current run from any non-idle state and drops to Idle.
// Outstanding control attempts are cancelled and their results discarded;
// late SSDP updates from the cancelled run are ignored.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	o.runSeq++ // invalidates late updates keyed to the old run
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.metrics.setState(StateIdle)
	o.mu.Unlock()

	logging.Info("Blast stopped")
	o.publishSnapshot()
}

// Reset returns a Done orchestrator to Idle and clears the device table.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.state == StateDone {
		o.state = StateIdle
		o.devices = make(map[string]*device.Device)
		o.metrics = newMetrics()
	}
	o.mu.Unlock()
	o.publishSnapshot()
}

// begin claims the orchestrator for a new run, entering at the given state:
// Serving for a full blast, Discovering for a discover-only run (which never
// serves anything).
func (o *Orchestrator) begin(ctx context.Context, entry State) (context.Context, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		if o.state == StateDone {
			// auto-reset: a finished run doesn't block the next one
			o.devices = make(map[string]*device.Device)
		} else {
			return nil, 0, ErrBusy
		}
	}
	o.state = entry
	o.runSeq++
	o.metrics = newMetrics()
	o.metrics.setState(entry)

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	return runCtx, o.runSeq, nil
}

// abort forces Idle after a run-level failure or stop.
func (o *Orchestrator) abort() {
	o.mu.Lock()
	if o.state != StateIdle {
		o.state = StateIdle
		o.metrics.setState(StateIdle)
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.publishSnapshot()
}

// interpretTransitionErr maps an illegal-transition error caused by a
// concurrent Stop to ErrStopped; anything else is a programming error.
func (o *Orchestrator) interpretTransitionErr(err error) error {
	if o.State() == StateIdle {
		return ErrStopped
	}
	return err
}

// serve starts the media server and validates the clip URL.
func (o *Orchestrator) serve(ctx context.Context) (string, error) {
	start := time.Now()
	mediaURL, err := o.server.Start(ctx)
	o.metrics.recordServeLatency(time.Since(start))
	o.publishSnapshot()

	if err != nil {
		return "", fmt.Errorf("start media server: %w", err)
	}
	if mediaURL == "" {
		return "", ErrNoMediaURL
	}
	return mediaURL, nil
}

// discover runs the bus until the deadline, folding the merged stream into
// the device table and publishing progress on every device event.
func (o *Orchestrator) discover(ctx context.Context, seq int) error {
	bus := discovery.NewBus(discovery.BusConfig{
		MDNSServiceTypes:    o.cfg.MDNSServiceTypes,
		ExtraPorts:          o.cfg.ExtraPorts,
		GenericNamePatterns: o.cfg.GenericNamePatterns,
		Scanners:            o.cfg.Scanners,
	})
	bus.OnUpdate = func(dev *device.Device) { o.handleLateUpdate(dev, seq) }
	bus.OnProgress = func(inFlight, completed int) {
		o.metrics.recordEnrichProgress(inFlight, completed)
		o.publishSnapshot()
	}

	o.mu.Lock()
	o.bus = bus
	o.mu.Unlock()

	start := time.Now()
	stream := bus.DiscoverAll(ctx, o.cfg.DiscoveryTimeout)
	for dev := range stream {
		o.mu.Lock()
		o.devices[dev.Key()] = dev
		o.mu.Unlock()

		o.metrics.recordDeviceFound(dev.Key())
		o.publishDevice(dev)
		o.publishSnapshot()
	}
	o.metrics.recordDiscoveryDuration(time.Since(start))
	o.metrics.setMethodStats(bus.Stats())
	o.publishSnapshot()
	return nil
}

// handleLateUpdate merges an SSDP enrichment that arrived after emission.
// Updates from a stopped or superseded run are discarded.
func (o *Orchestrator) handleLateUpdate(dev *device.Device, seq int) {
	o.mu.Lock()
	if seq != o.runSeq {
		o.mu.Unlock()
		return
	}
	existing, ok := o.devices[dev.Key()]
	if ok {
		// The bus already merged; its record is authoritative. Preserve the
		// pipeline status the orchestrator assigned.
		dev.Status = existing.Status
	}
	o.devices[dev.Key()] = dev
	o.mu.Unlock()

	o.publishDevice(dev)
	o.publishSnapshot()
}

// fanOut dispatches one control attempt per device under the concurrency
// limiter and aggregates results. Attempts cancelled by stop are discarded.
func (o *Orchestrator) fanOut(ctx context.Context, mediaURL string) {
	o.mu.Lock()
	targets := make([]*device.Device, 0, len(o.devices))
	for _, d := range o.devices {
		targets = append(targets, d)
	}
	o.mu.Unlock()

	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	var wg sync.WaitGroup

	for _, dev := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // stop cancelled the run
		}
		wg.Add(1)
		go func(dev *device.Device) {
			defer wg.Done()
			defer sem.Release(1)

			o.setDeviceStatus(dev, device.StatusConnecting)
			res := o.client.PushClip(ctx, dev, mediaURL)

			if ctx.Err() != nil {
				// Stopped mid-attempt: discard the result.
				return
			}

			if res.OK {
				o.setDeviceStatus(dev, device.StatusSuccess)
			} else {
				o.setDeviceStatus(dev, device.StatusFailed)
			}
			o.metrics.recordResult(res, dev.Manufacturer)
			o.publishSnapshot()
		}(dev)
	}

	wg.Wait()
}

// setDeviceStatus writes a pipeline status to the device's table record.
// Late enrichment can replace the table entry after fanOut captures its
// pointer, so the write resolves by key; the worker's own copy is kept
// coherent too.
func (o *Orchestrator) setDeviceStatus(dev *device.Device, status device.Status) {
	o.mu.Lock()
	target, ok := o.devices[dev.Key()]
	if !ok {
		target = dev
	}
	target.Status = status
	dev.Status = status
	clone := target.Clone()
	o.mu.Unlock()
	o.publishDevice(clone)
}
