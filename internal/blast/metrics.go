package blast

import (
	"sync"
	"time"

	"github.com/lanblast/lanblast/internal/control"
	"github.com/lanblast/lanblast/internal/discovery"
)

// ManufacturerStats is the per-manufacturer control breakdown.
type ManufacturerStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Snapshot is an immutable copy of the run's cumulative counters. A fresh
// snapshot is published on every device-found event and control completion
// so observers can render live progress; Final marks the frozen snapshot
// produced while summarizing.
type Snapshot struct {
	State           string                       `json:"state"`
	ServeLatencyMs  int64                        `json:"serve_latency_ms"`
	DiscoveryMs     int64                        `json:"discovery_ms"`
	DevicesFound    int                          `json:"devices_found"`
	Attempts        int                          `json:"attempts"`
	Successes       int                          `json:"successes"`
	Failures        int                          `json:"failures"`
	SuccessRate     float64                      `json:"success_rate"`
	DeviceTimingsMs map[string]int64             `json:"device_timings_ms"`
	ByManufacturer  map[string]ManufacturerStats `json:"by_manufacturer"`
	MethodStats     []discovery.MethodStats      `json:"method_stats"`
	EnrichInFlight  int                          `json:"enrich_in_flight"`
	EnrichCompleted int                          `json:"enrich_completed"`
	Final           bool                         `json:"final"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// metrics is the orchestrator-owned accumulator behind the published
// snapshots. Single writer (the orchestrator's run goroutine plus its
// control workers, serialized by mu); readers only ever see copies.
type metrics struct {
	mu sync.Mutex

	state           State
	serveLatency    time.Duration
	discoveryTook   time.Duration
	devices         map[string]bool
	attempts        int
	successes       int
	failures        int
	timings         map[string]time.Duration
	byManufacturer  map[string]*ManufacturerStats
	methodStats     []discovery.MethodStats
	enrichInFlight  int
	enrichCompleted int
	final           bool
}

func newMetrics() *metrics {
	return &metrics{
		devices:        make(map[string]bool),
		timings:        make(map[string]time.Duration),
		byManufacturer: make(map[string]*ManufacturerStats),
	}
}

func (m *metrics) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *metrics) recordServeLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serveLatency = d
}

func (m *metrics) recordDiscoveryDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoveryTook = d
}

func (m *metrics) recordDeviceFound(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[key] = true
}

func (m *metrics) recordEnrichProgress(inFlight, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichInFlight = inFlight
	m.enrichCompleted = completed
}

func (m *metrics) recordResult(res control.Result, manufacturer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if res.OK {
		m.successes++
	} else {
		m.failures++
	}
	m.timings[res.DeviceKey] = res.Duration

	if manufacturer == "" {
		manufacturer = "unknown"
	}
	st := m.byManufacturer[manufacturer]
	if st == nil {
		st = &ManufacturerStats{}
		m.byManufacturer[manufacturer] = st
	}
	st.Attempts++
	if res.OK {
		st.Successes++
	}
}

func (m *metrics) setMethodStats(stats []discovery.MethodStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methodStats = stats
}

// finalize computes the aggregate ratios and freezes the snapshot.
func (m *metrics) finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.final = true
}

// snapshot copies the accumulator into an immutable Snapshot.
func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	timings := make(map[string]int64, len(m.timings))
	for k, d := range m.timings {
		timings[k] = d.Milliseconds()
	}
	byMfr := make(map[string]ManufacturerStats, len(m.byManufacturer))
	for k, st := range m.byManufacturer {
		byMfr[k] = *st
	}
	methodStats := append([]discovery.MethodStats(nil), m.methodStats...)

	rate := 0.0
	if m.attempts > 0 {
		rate = float64(m.successes) / float64(m.attempts)
	}

	return Snapshot{
		State:           m.state.String(),
		ServeLatencyMs:  m.serveLatency.Milliseconds(),
		DiscoveryMs:     m.discoveryTook.Milliseconds(),
		DevicesFound:    len(m.devices),
		Attempts:        m.attempts,
		Successes:       m.successes,
		Failures:        m.failures,
		SuccessRate:     rate,
		DeviceTimingsMs: timings,
		ByManufacturer:  byMfr,
		MethodStats:     methodStats,
		EnrichInFlight:  m.enrichInFlight,
		EnrichCompleted: m.enrichCompleted,
		Final:           m.final,
		UpdatedAt:       time.Now(),
	}
}
