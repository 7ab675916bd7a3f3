package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/logging"
)

// ServiceDomain is the mDNS domain (typically "local.")
const ServiceDomain = "local."

// DefaultServiceTypes are the DNS-SD service types media renderers
// commonly advertise.
func DefaultServiceTypes() []string {
	return []string{
		"_googlecast._tcp",      // Chromecast, Google/Nest speakers
		"_airplay._tcp",         // AirPlay video/audio
		"_raop._tcp",            // AirPlay audio (Remote Audio Output)
		"_spotify-connect._tcp", // Spotify Connect renderers
		"_sonos._tcp",           // Sonos players
	}
}

// MDNSScanner discovers renderers via DNS-SD service browsing. There is no
// secondary enrichment step for this method; record quality depends entirely
// on what the device advertises.
type MDNSScanner struct {
	// ServiceTypes overrides the browsed service types. Empty means defaults.
	ServiceTypes []string

	// browseFn browses one service type; nil means the zeroconf browser.
	// Swappable in tests.
	browseFn func(ctx context.Context, serviceType string, out chan<- *device.Device) error
}

// NewMDNSScanner creates a scanner browsing the default service types.
func NewMDNSScanner(serviceTypes ...string) *MDNSScanner {
	return &MDNSScanner{ServiceTypes: serviceTypes}
}

// Method implements Discoverer.
func (s *MDNSScanner) Method() device.Method {
	return device.MethodMDNS
}

// Discover browses all configured service types concurrently until ctx
// expires, emitting a best-effort device per resolved instance. A resolver
// failure for one service type doesn't stop the others.
func (s *MDNSScanner) Discover(ctx context.Context, out chan<- *device.Device) error {
	types := s.ServiceTypes
	if len(types) == 0 {
		types = DefaultServiceTypes()
	}
	browse := s.browseFn
	if browse == nil {
		browse = s.browse
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	failed := 0

	for _, serviceType := range types {
		wg.Add(1)
		go func(serviceType string) {
			defer wg.Done()
			if err := browse(ctx, serviceType, out); err != nil {
				logging.Warn("mDNS browse failed",
					zap.String("service_type", serviceType),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(serviceType)
	}

	wg.Wait()

	// A single failed browse is normal operation as long as the others ran;
	// the method as a whole failed only when every browse did.
	if failed == len(types) {
		return firstErr
	}
	return nil
}

func (s *MDNSScanner) browse(ctx context.Context, serviceType string, out chan<- *device.Device) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			dev := parseServiceEntry(entry, serviceType)
			if dev == nil {
				continue
			}
			logging.LogDiscovery(dev.Method.String(), dev.IP, dev.Port, dev.FriendlyName)
			select {
			case out <- dev:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, serviceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", serviceType, err)
	}

	// Browse closes the entries channel when ctx completes.
	<-ctx.Done()
	wg.Wait()
	return nil
}

// parseServiceEntry converts a resolved service instance into a device.
// Partial resolution (host resolves, attributes don't) still yields a
// best-effort record; only entries with no usable address are dropped.
func parseServiceEntry(entry *zeroconf.ServiceEntry, serviceType string) *device.Device {
	if entry == nil {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = 80
	}

	dev := device.New(ip, port, device.MethodMDNS)
	if name := instanceDisplayName(entry.Instance); name != "" {
		dev.FriendlyName = name
	}
	dev.Type = serviceType
	dev.SetMetadata("mdns_service_type", serviceType)
	if entry.HostName != "" {
		dev.SetMetadata("mdns_hostname", entry.HostName)
	}
	if entry.Instance != "" {
		dev.SetMetadata("mdns_instance", entry.Instance)
	}
	for _, txt := range entry.Text {
		if k, v, ok := strings.Cut(txt, "="); ok && k != "" {
			dev.SetMetadata("txt_"+k, v)
			// Cast devices put the display name in the "fn" TXT record,
			// which beats the often-opaque instance name.
			if k == "fn" && v != "" {
				dev.FriendlyName = v
			}
		}
	}

	return dev
}

// instanceDisplayName cleans a DNS-SD instance name for display: unescapes
// DNS label escapes and drops trailing dots.
func instanceDisplayName(instance string) string {
	name := strings.ReplaceAll(instance, "\\ ", " ")
	name = strings.ReplaceAll(name, "\\.", ".")
	return strings.TrimSuffix(strings.TrimSpace(name), ".")
}
