package discovery

import (
	"testing"

	"github.com/lanblast/lanblast/internal/device"
)

func TestPortSpectrum_KnownPorts(t *testing.T) {
	ports := PortSpectrum()

	inSpectrum := make(map[int]bool, len(ports))
	for _, p := range ports {
		inSpectrum[p] = true
	}

	for _, p := range []int{80, 443, 1400, 1410, 5000, 7000, 7100, 8008, 8009, 8060, 8080, 8099, 8200, 8205, 8873, 9000, 9010, 10000, 10010, 49152, 49170, 50002} {
		if !inSpectrum[p] {
			t.Errorf("spectrum missing port %d", p)
		}
	}

	if len(ports) < 90 || len(ports) > 130 {
		t.Errorf("spectrum size = %d, want roughly 100", len(ports))
	}
}

func TestPortSpectrum_NoDuplicates(t *testing.T) {
	ports := PortSpectrum(1400, 8009, 12345) // 1400/8009 already in spectrum

	seen := make(map[int]int)
	for _, p := range ports {
		seen[p]++
	}
	for p, n := range seen {
		if n > 1 {
			t.Errorf("port %d appears %d times", p, n)
		}
	}
	if seen[12345] != 1 {
		t.Error("extra port 12345 not included")
	}
}

func TestClassifyPort(t *testing.T) {
	tests := []struct {
		port       int
		wantVendor string
		wantType   string
	}{
		{1400, "Sonos", "sonos"},
		{1405, "Sonos", "sonos"}, // ranged entry
		{8008, "Google", "chromecast"},
		{8009, "Google", "chromecast"},
		{8060, "Roku", "roku-ecp"},
		{7000, "Apple", "airplay"},
		{50002, "Denon", "heos"},
		{49160, "", "upnp-service"},
		{8202, "", "dlna-server"},
		{81, "", ""}, // unknown port
	}

	for _, tt := range tests {
		got := classifyPort(tt.port)
		if got.vendor != tt.wantVendor || got.deviceType != tt.wantType {
			t.Errorf("classifyPort(%d) = (%q, %q), want (%q, %q)",
				tt.port, got.vendor, got.deviceType, tt.wantVendor, tt.wantType)
		}
	}
}

func TestHeuristicDevice(t *testing.T) {
	dev := heuristicDevice("192.168.1.43", 1400)

	if dev.Method != device.MethodPortScan {
		t.Errorf("Method = %v, want MethodPortScan", dev.Method)
	}
	if dev.Manufacturer != "Sonos" {
		t.Errorf("Manufacturer = %q, want Sonos", dev.Manufacturer)
	}
	if dev.FriendlyName != "Sonos device at 192.168.1.43" {
		t.Errorf("FriendlyName = %q", dev.FriendlyName)
	}
	// Port-scan names are deliberately generic so higher-precedence merges win.
	if !dev.HasGenericName(device.DefaultGenericNamePatterns()) {
		t.Error("heuristic name should match generic-name patterns")
	}
}

func TestHeuristicDevice_UnknownPort(t *testing.T) {
	dev := heuristicDevice("10.0.0.5", 81)
	if dev.Manufacturer != "" {
		t.Errorf("Manufacturer = %q, want empty for unknown port", dev.Manufacturer)
	}
	if dev.FriendlyName != "Device at 10.0.0.5" {
		t.Errorf("FriendlyName = %q", dev.FriendlyName)
	}
}
