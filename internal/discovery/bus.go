package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/logging"
)

// Discoverer is one discovery strategy. Implementations emit devices on out
// until ctx expires and return an error only for resource failures that kept
// the strategy from running at all (socket bind, no usable interface).
type Discoverer interface {
	Method() device.Method
	Discover(ctx context.Context, out chan<- *device.Device) error
}

// MethodStats aggregates one run's counters for a discovery method.
type MethodStats struct {
	Method  device.Method `json:"method"`
	Devices int           `json:"devices"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Err     string        `json:"error,omitempty"` // resource error detail when the method failed to run
}

// BusConfig configures a discovery Bus.
type BusConfig struct {
	// MDNSServiceTypes overrides the browsed service types.
	MDNSServiceTypes []string

	// ExtraPorts are appended to the scan spectrum.
	ExtraPorts []int

	// GenericNamePatterns overrides generic-name detection during merge.
	GenericNamePatterns []string

	// Scanners overrides the default three discoverers (fixtures, tests).
	Scanners []Discoverer
}

// Bus runs the discovery strategies concurrently under a shared deadline and
// merges their output into one deduplicated stream keyed by (ip, port).
//
// Core fields (name, type, manufacturer, model) follow method precedence;
// metadata maps are always unioned so enrichment is never lost whichever
// record wins. Late SSDP description updates run through the same merge and
// surface via OnUpdate.
type Bus struct {
	// OnUpdate receives records re-merged by late enrichment. May be nil.
	OnUpdate UpdateFunc

	// OnProgress relays SSDP description-fetch progress. May be nil.
	OnProgress ProgressFunc

	scanners []Discoverer
	patterns []string

	mu      sync.Mutex
	table   map[string]*device.Device
	stats   map[device.Method]*MethodStats
	counted map[string]bool // method|key pairs already counted in stats
}

// NewBus builds a bus with the three production discoverers (or the
// configured overrides) and wires SSDP late updates back through the merge.
func NewBus(cfg BusConfig) *Bus {
	patterns := cfg.GenericNamePatterns
	if len(patterns) == 0 {
		patterns = device.DefaultGenericNamePatterns()
	}

	b := &Bus{
		patterns: patterns,
		table:    make(map[string]*device.Device),
		stats:    make(map[device.Method]*MethodStats),
		counted:  make(map[string]bool),
	}

	if len(cfg.Scanners) > 0 {
		b.scanners = cfg.Scanners
		// Wire late updates from any injected SSDP scanner too.
		for _, sc := range cfg.Scanners {
			if ssdp, ok := sc.(*SSDPScanner); ok {
				b.attachSSDP(ssdp)
			}
		}
		return b
	}

	ssdp := NewSSDPScanner()
	b.attachSSDP(ssdp)

	b.scanners = []Discoverer{
		ssdp,
		NewMDNSScanner(cfg.MDNSServiceTypes...),
		NewPortScanner(cfg.ExtraPorts...),
	}
	return b
}

func (b *Bus) attachSSDP(s *SSDPScanner) {
	s.OnUpdate = b.applyUpdate
	s.OnProgress = func(inFlight, completed int) {
		if b.OnProgress != nil {
			b.OnProgress(inFlight, completed)
		}
	}
}

// DiscoverAll fans out to every discoverer under the given timeout and
// returns the merged device stream. The channel closes once the deadline
// elapses and all discoverers have stopped; description fetches already in
// flight keep running and deliver through OnUpdate afterwards.
//
// A record is re-emitted whenever a merge improves it, so consumers keying
// by Key() see each device's latest state.
func (b *Bus) DiscoverAll(ctx context.Context, timeout time.Duration) <-chan *device.Device {
	b.mu.Lock()
	b.table = make(map[string]*device.Device)
	b.stats = make(map[device.Method]*MethodStats)
	b.counted = make(map[string]bool)
	for _, sc := range b.scanners {
		b.stats[sc.Method()] = &MethodStats{Method: sc.Method()}
	}
	b.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, timeout)

	raw := make(chan *device.Device, 32)
	out := make(chan *device.Device, 32)

	var wg sync.WaitGroup
	for _, sc := range b.scanners {
		wg.Add(1)
		go func(sc Discoverer) {
			defer wg.Done()
			start := time.Now()
			err := sc.Discover(runCtx, raw)
			elapsed := time.Since(start)

			b.mu.Lock()
			if st := b.stats[sc.Method()]; st != nil {
				st.Elapsed = elapsed
				if err != nil {
					st.Err = err.Error()
				}
			}
			b.mu.Unlock()

			if err != nil {
				// Fatal to this discoverer only; siblings keep running.
				logging.Error("Discovery method failed",
					zap.String("method", sc.Method().String()),
					zap.Error(err),
				)
			}
		}(sc)
	}

	go func() {
		wg.Wait()
		close(raw)
		cancel()
	}()

	go func() {
		defer close(out)
		for dev := range raw {
			out <- b.merge(dev)
		}
	}()

	return out
}

// merge applies one incoming record to the table and returns a clone of the
// resulting logical record. Safe for concurrent use; late updates and the
// stream collector both land here.
func (b *Bus) merge(in *device.Device) *device.Device {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := in.Key()

	// Count each (method, device) pair once so duplicate responses and late
	// updates don't inflate the ranking.
	countKey := in.Method.String() + "|" + key
	if !b.counted[countKey] {
		b.counted[countKey] = true
		if st, ok := b.stats[in.Method]; ok {
			st.Devices++
		} else {
			b.stats[in.Method] = &MethodStats{Method: in.Method, Devices: 1}
		}
	}

	existing, ok := b.table[key]
	if !ok {
		b.table[key] = in.Clone()
		return in.Clone()
	}

	if b.shouldReplaceCore(existing, in) {
		// Empty incoming fields keep the existing value: a higher-precedence
		// method that knows less about one field shouldn't erase it.
		if in.FriendlyName != "" {
			existing.FriendlyName = in.FriendlyName
		}
		if in.Type != "" {
			existing.Type = in.Type
		}
		if in.Manufacturer != "" {
			existing.Manufacturer = in.Manufacturer
		}
		if in.ModelName != "" {
			existing.ModelName = in.ModelName
		}
		if in.Method.Precedence() > existing.Method.Precedence() {
			existing.Method = in.Method
		}
	}

	// Identity-adjacent fields fill in whenever the incoming record knows
	// more, regardless of who won the core fields.
	if in.UUID != "" && existing.UUID == "" {
		existing.UUID = in.UUID
	}
	if in.ControlURL != "" && in.ControlURL != device.DefaultControlURL {
		existing.ControlURL = in.ControlURL
	}

	// Metadata is always unioned, incoming keys overwriting on conflict.
	// Enrichment survives even when the core fields do not change.
	for k, v := range in.Metadata {
		existing.SetMetadata(k, v)
	}
	existing.LastSeen = time.Now()

	return existing.Clone()
}

// shouldReplaceCore decides whether the incoming record's core fields
// (name/type/manufacturer/model) replace the existing ones: higher method
// precedence wins; within the same method a non-generic name beats a
// generic one.
func (b *Bus) shouldReplaceCore(existing, in *device.Device) bool {
	pe, pi := existing.Method.Precedence(), in.Method.Precedence()
	if pi != pe {
		return pi > pe
	}
	return existing.HasGenericName(b.patterns) && !in.HasGenericName(b.patterns)
}

// applyUpdate handles a late enrichment record (SSDP description fetch that
// completed after emission, possibly after the deadline). The same merge
// runs, then the result is forwarded to OnUpdate. Applying the same update
// twice is idempotent.
func (b *Bus) applyUpdate(dev *device.Device) {
	merged := b.merge(dev)
	if b.OnUpdate != nil {
		b.OnUpdate(merged)
	}
}

// Snapshot returns clones of every device currently in the merge table,
// ordered by key.
func (b *Bus) Snapshot() []*device.Device {
	b.mu.Lock()
	defer b.mu.Unlock()

	devices := make([]*device.Device, 0, len(b.table))
	for _, d := range b.table {
		devices = append(devices, d.Clone())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Key() < devices[j].Key() })
	return devices
}

// Stats returns the per-method counters for the current/last run, most
// effective method first (device count, then elapsed time as tiebreak).
func (b *Bus) Stats() []MethodStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make([]MethodStats, 0, len(b.stats))
	for _, st := range b.stats {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Devices != stats[j].Devices {
			return stats[i].Devices > stats[j].Devices
		}
		return stats[i].Elapsed < stats[j].Elapsed
	})
	return stats
}
