package discovery

import "github.com/lanblast/lanblast/internal/device"

// portRange is an inclusive TCP port interval in the scan spectrum.
type portRange struct {
	lo, hi int
}

// spectrumRanges is the curated set of ports known to host media-control
// services. It trades precision for reach: the port scan exists to catch
// devices that answer neither SSDP nor mDNS.
var spectrumRanges = []portRange{
	{80, 80},       // plain HTTP control
	{443, 443},     // HTTPS control
	{554, 554},     // RTSP
	{1400, 1410},   // Sonos
	{3689, 3689},   // DAAP (iTunes sharing)
	{5000, 5000},   // AirPlay audio / various NAS renderers
	{7000, 7000},   // AirPlay
	{7100, 7100},   // AirPlay mirroring
	{8008, 8010},   // Chromecast
	{8060, 8060},   // Roku ECP
	{8080, 8099},   // alternate HTTP control
	{8200, 8205},   // MiniDLNA / ReadyMedia
	{8873, 8873},   // BubbleUPnP and friends
	{9000, 9010},   // Logitech Media Server, generic media
	{10000, 10010}, // vendor control planes
	{32400, 32400}, // Plex
	{32469, 32469}, // Plex DLNA
	{49152, 49170}, // UPnP ephemeral service range
	{50002, 50002}, // Denon HEOS
}

// PortSpectrum returns the full curated port list, expanded from the ranges,
// with optional extras appended (duplicates removed).
func PortSpectrum(extra ...int) []int {
	seen := make(map[int]bool)
	var ports []int
	add := func(p int) {
		if p > 0 && p <= 65535 && !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	for _, r := range spectrumRanges {
		for p := r.lo; p <= r.hi; p++ {
			add(p)
		}
	}
	for _, p := range extra {
		add(p)
	}
	return ports
}

// portVendor is a heuristic classification for a well-known port. The scan
// can only prove something is listening, so names produced here are
// explicitly generic-pattern names that any higher-precedence method will
// overwrite on merge.
type portVendor struct {
	vendor     string
	deviceType string
}

var portVendors = map[int]portVendor{
	554:   {"", "rtsp"},
	1400:  {"Sonos", "sonos"},
	3689:  {"Apple", "daap"},
	5000:  {"", "airplay-audio"},
	7000:  {"Apple", "airplay"},
	7100:  {"Apple", "airplay"},
	8008:  {"Google", "chromecast"},
	8009:  {"Google", "chromecast"},
	8010:  {"Google", "chromecast"},
	8060:  {"Roku", "roku-ecp"},
	8200:  {"", "dlna-server"},
	8873:  {"", "dlna-renderer"},
	9000:  {"Logitech", "squeezebox"},
	32400: {"Plex", "plex"},
	32469: {"Plex", "plex-dlna"},
	50002: {"Denon", "heos"},
}

// classifyPort returns the heuristic vendor/type for a port, covering the
// ranged entries (a Sonos answers anywhere in 1400-1410, MiniDLNA in
// 8200-8205, UPnP services anywhere in 49152-49170).
func classifyPort(port int) portVendor {
	if v, ok := portVendors[port]; ok {
		return v
	}
	switch {
	case port >= 1400 && port <= 1410:
		return portVendor{"Sonos", "sonos"}
	case port >= 8200 && port <= 8205:
		return portVendor{"", "dlna-server"}
	case port >= 9000 && port <= 9010:
		return portVendor{"", "media-control"}
	case port >= 49152 && port <= 49170:
		return portVendor{"", "upnp-service"}
	default:
		return portVendor{}
	}
}

// heuristicDevice builds the device record for a successful connect.
func heuristicDevice(ip string, port int) *device.Device {
	dev := device.New(ip, port, device.MethodPortScan)
	v := classifyPort(port)
	if v.vendor != "" {
		dev.Manufacturer = v.vendor
		dev.FriendlyName = v.vendor + " device at " + ip
	}
	if v.deviceType != "" {
		dev.Type = v.deviceType
		dev.SetMetadata("scan_port_class", v.deviceType)
	}
	return dev
}
