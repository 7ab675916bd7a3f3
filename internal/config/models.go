package config

import "time"

// Registry represents the entire user configuration file.
// This stores tuning preferences for the discovery/control pipeline and
// user-defined display metadata for devices.
type Registry struct {
	Version     int                    `yaml:"version"`
	Devices     map[string]*DeviceMeta `yaml:"devices,omitempty"` // Keyed by "ip:port"
	Preferences *Preferences           `yaml:"preferences,omitempty"`
}

// DeviceMeta is user-defined display metadata for a single renderer.
// This is purely client-side labelling; discovered devices themselves are
// never persisted across runs.
type DeviceMeta struct {
	Nickname string    `yaml:"nickname,omitempty"`  // User-friendly name shown instead of the advertised one
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last time the device showed up in a discovery run
}

// Preferences holds pipeline tuning knobs.
type Preferences struct {
	// DiscoverTimeoutMS bounds a discovery run. All three discoverers share
	// this deadline.
	DiscoverTimeoutMS int `yaml:"discover_timeout_ms"`

	// ControlConcurrency caps simultaneous control attempts (min 1).
	ControlConcurrency int `yaml:"control_concurrency"`

	// SettleDelayMS is the pause between SetAVTransportURI and Play,
	// giving renderers time to process the URI.
	SettleDelayMS int `yaml:"settle_delay_ms"`

	// MDNSServiceTypes are the DNS-SD service types browsed by the mDNS
	// discoverer. Empty means the built-in cast/airplay set.
	MDNSServiceTypes []string `yaml:"mdns_service_types,omitempty"`

	// ExtraPorts are appended to the built-in port spectrum for the
	// port-scan discoverer.
	ExtraPorts []int `yaml:"extra_ports,omitempty"`

	// GenericNamePatterns override the substrings used to recognize
	// machine-generated friendly names during merge. Empty means defaults.
	GenericNamePatterns []string `yaml:"generic_name_patterns,omitempty"`

	// ObserverAddr is the listen address for the metrics/device observer
	// endpoint. Empty disables the endpoint.
	ObserverAddr string `yaml:"observer_addr,omitempty"`
}

// Default preference values.
const (
	DefaultDiscoverTimeoutMS  = 5000
	DefaultControlConcurrency = 3
	DefaultSettleDelayMS      = 200
)

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*DeviceMeta),
		Preferences: &Preferences{
			DiscoverTimeoutMS:  DefaultDiscoverTimeoutMS,
			ControlConcurrency: DefaultControlConcurrency,
			SettleDelayMS:      DefaultSettleDelayMS,
		},
	}
}

// DiscoverTimeout returns the discovery deadline as a duration,
// falling back to the default when unset or nonsensical.
func (p *Preferences) DiscoverTimeout() time.Duration {
	ms := p.DiscoverTimeoutMS
	if ms <= 0 {
		ms = DefaultDiscoverTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Concurrency returns the control concurrency limit, clamped to >= 1.
func (p *Preferences) Concurrency() int {
	if p.ControlConcurrency < 1 {
		return DefaultControlConcurrency
	}
	return p.ControlConcurrency
}

// SettleDelay returns the URI settle delay as a duration.
func (p *Preferences) SettleDelay() time.Duration {
	ms := p.SettleDelayMS
	if ms < 0 {
		ms = DefaultSettleDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}
