package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/logging"
)

const (
	// defaultDialTimeout bounds one connect attempt. Short on purpose: LAN
	// round trips are sub-millisecond and a closed port usually refuses
	// immediately; anything slower is treated as absent.
	defaultDialTimeout = 300 * time.Millisecond

	// defaultMaxSockets caps concurrent dials so constrained devices and
	// consumer routers aren't overwhelmed by the sweep.
	defaultMaxSockets = 64
)

// PortScanner discovers devices by TCP-connecting to a curated spectrum of
// media-control ports on every host of the local subnet. Slowest and least
// precise of the three methods; it exists for devices that answer neither
// SSDP nor mDNS.
type PortScanner struct {
	// Hosts overrides subnet enumeration (used by tests and targeted scans).
	Hosts []string

	// Spectrum overrides the port list. Empty means PortSpectrum().
	Spectrum []int

	// DialTimeout bounds a single connect attempt.
	DialTimeout time.Duration

	// MaxSockets caps concurrent connect attempts.
	MaxSockets int
}

// NewPortScanner creates a scanner with the default spectrum and limits.
func NewPortScanner(extraPorts ...int) *PortScanner {
	return &PortScanner{
		Spectrum:    PortSpectrum(extraPorts...),
		DialTimeout: defaultDialTimeout,
		MaxSockets:  defaultMaxSockets,
	}
}

// Method implements Discoverer.
func (s *PortScanner) Method() device.Method {
	return device.MethodPortScan
}

// Discover sweeps every candidate host and port, emitting a heuristic device
// for each successful connect, until the sweep finishes or ctx expires.
func (s *PortScanner) Discover(ctx context.Context, out chan<- *device.Device) error {
	hosts := s.Hosts
	if len(hosts) == 0 {
		subnet, err := detectSubnet()
		if err != nil {
			return fmt.Errorf("detect subnet: %w", err)
		}
		hosts = enumerateSubnet(subnet)
	}

	ports := s.Spectrum
	if len(ports) == 0 {
		ports = PortSpectrum()
	}

	dialTimeout := s.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	maxSockets := s.MaxSockets
	if maxSockets <= 0 {
		maxSockets = defaultMaxSockets
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSockets)

	dialer := &net.Dialer{Timeout: dialTimeout}

	for _, host := range hosts {
		for _, port := range ports {
			if ctx.Err() != nil {
				break
			}
			host, port := host, port
			g.Go(func() error {
				addr := fmt.Sprintf("%s:%d", host, port)
				conn, err := dialer.DialContext(ctx, "tcp", addr)
				if err != nil {
					// Refused/timed out means "not here", never an error
					// for the sweep as a whole.
					return nil
				}
				conn.Close()

				dev := heuristicDevice(host, port)
				logging.LogDiscovery(dev.Method.String(), dev.IP, dev.Port, dev.FriendlyName)
				select {
				case out <- dev:
				case <-ctx.Done():
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return err
	}
	return nil
}

// detectSubnet returns the /24 prefix ("192.168.1") of the first non-loopback
// IPv4 interface address.
func detectSubnet() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			parts := strings.Split(ip4.String(), ".")
			if len(parts) == 4 {
				return strings.Join(parts[:3], "."), nil
			}
		}
	}
	return "", fmt.Errorf("no usable IPv4 interface address")
}

// enumerateSubnet expands a /24 prefix into its host addresses (1-254).
func enumerateSubnet(prefix string) []string {
	hosts := make([]string, 0, 254)
	for i := 1; i < 255; i++ {
		hosts = append(hosts, fmt.Sprintf("%s.%d", prefix, i))
	}
	return hosts
}
