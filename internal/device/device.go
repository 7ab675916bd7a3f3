// Package device defines the renderer record shared by every stage of the
// pipeline, from discovery through control to the observer stream.
package device

import (
	"fmt"
	"strings"
	"time"
)

// DefaultControlURL is the AVTransport control path assumed for a device
// until a description fetch supplies the real one.
const DefaultControlURL = "/AVTransport/control"

// Method identifies which discovery strategy produced a device record.
type Method int

const (
	// MethodSSDP is UDP multicast M-SEARCH discovery (UPnP/DLNA).
	MethodSSDP Method = iota

	// MethodMDNS is multicast DNS service browsing (Chromecast/AirPlay style).
	MethodMDNS

	// MethodPortScan is brute-force TCP probing of known media-control ports.
	MethodPortScan
)

// String returns the wire/log name of the discovery method.
func (m Method) String() string {
	switch m {
	case MethodSSDP:
		return "ssdp"
	case MethodMDNS:
		return "mdns"
	case MethodPortScan:
		return "port_scan"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// MarshalJSON emits the method's wire name rather than its ordinal.
func (m Method) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts the wire names MarshalJSON produces.
func (m *Method) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"ssdp"`:
		*m = MethodSSDP
	case `"mdns"`:
		*m = MethodMDNS
	case `"port_scan"`:
		*m = MethodPortScan
	default:
		return fmt.Errorf("unknown discovery method %s", data)
	}
	return nil
}

// Precedence ranks methods by the quality of the records they produce.
// Higher wins when two discoveries describe the same device: SSDP responses
// carry real device descriptions, mDNS carries advertised names, a port scan
// only proves something is listening.
func (m Method) Precedence() int {
	switch m {
	case MethodSSDP:
		return 3
	case MethodMDNS:
		return 2
	case MethodPortScan:
		return 1
	default:
		return 0
	}
}

// Status tracks a device through the control pipeline.
type Status int

const (
	// StatusDiscovered means the device has been emitted by the discovery bus.
	StatusDiscovered Status = iota

	// StatusConnecting means a control attempt is in flight.
	StatusConnecting

	// StatusSuccess means the control sequence completed.
	StatusSuccess

	// StatusFailed means the control sequence failed.
	StatusFailed
)

// String returns a display name for the status.
func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConnecting:
		return "connecting"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Device represents a media renderer found on the network.
//
// Identity for deduplication is (IP, Port); see Key(). UUID is kept when a
// method reports one but is frequently absent (mDNS and port-scan records
// never have it), so it cannot serve as the dedup key.
type Device struct {
	// IP is the IPv4 address (e.g., "192.168.1.43")
	IP string

	// Port is the control/service TCP port
	Port int

	// Type is the UPnP device type URN, empty when unknown
	Type string

	// FriendlyName is the display name. May be heuristic ("Sonos device at
	// 192.168.1.43") until an SSDP description fetch supplies the real one.
	FriendlyName string

	// Manufacturer and ModelName come from the device description, when available
	Manufacturer string
	ModelName    string

	// ControlURL is the path SOAP actions are POSTed to.
	// Defaults to DefaultControlURL until enriched.
	ControlURL string

	// UUID is the stable UPnP identity when known, empty otherwise
	UUID string

	// Method is the discovery strategy that first produced this record
	Method Method

	// Status is the device's position in the control pipeline
	Status Status

	// Metadata accumulates enrichment fields (SSDP headers, TXT records,
	// description XML fields). Never discarded on merge.
	Metadata map[string]string

	// LastSeen is when the device was last discovered or enriched
	LastSeen time.Time
}

// New creates a Device with heuristic defaults for the given identity.
func New(ip string, port int, method Method) *Device {
	return &Device{
		IP:           ip,
		Port:         port,
		FriendlyName: fmt.Sprintf("Device at %s", ip),
		ControlURL:   DefaultControlURL,
		Method:       method,
		Status:       StatusDiscovered,
		Metadata:     make(map[string]string),
		LastSeen:     time.Now(),
	}
}

// Key returns the deduplication identity, "ip:port".
func (d *Device) Key() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// BaseURL returns the HTTP base URL for the device.
func (d *Device) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// ControlEndpoint returns the absolute URL SOAP actions are POSTed to.
func (d *Device) ControlEndpoint() string {
	path := d.ControlURL
	if path == "" {
		path = DefaultControlURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.BaseURL() + path
}

// String returns a human-readable representation of the device.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s:%d, %s)", d.FriendlyName, d.IP, d.Port, d.Method)
}

// SetMetadata stores an enrichment field, allocating the map if needed.
func (d *Device) SetMetadata(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found.
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Clone returns a deep copy. Consumers that publish devices to observers
// clone first so later merges don't mutate records already handed out.
func (d *Device) Clone() *Device {
	c := *d
	c.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// HasGenericName reports whether the friendly name looks machine-generated
// rather than advertised by the device. Patterns are configurable policy;
// real-world device naming never matches any fixed list exhaustively.
func (d *Device) HasGenericName(patterns []string) bool {
	if d.FriendlyName == "" {
		return true
	}
	name := strings.ToLower(d.FriendlyName)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// DefaultGenericNamePatterns flags the names lanblast itself synthesizes.
func DefaultGenericNamePatterns() []string {
	return []string{"device at ", "renderer at ", "media device"}
}
