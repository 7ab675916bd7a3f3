package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/logging"
)

const (
	ssdpAddr = "239.255.255.250:1900"

	// mediaRendererURN is the primary search target; ssdp:all is sent as a
	// second search to catch devices that only answer the wildcard.
	mediaRendererURN = "urn:schemas-upnp-org:device:MediaRenderer:1"

	ssdpReadBufferSize = 4096
)

// mSearchRequest builds an M-SEARCH datagram for the given search target.
// MX is kept short so compliant devices answer well inside the deadline.
func mSearchRequest(st string) []byte {
	return []byte(
		"M-SEARCH * HTTP/1.1\r\n" +
			"HOST: 239.255.255.250:1900\r\n" +
			"MAN: \"ssdp:discover\"\r\n" +
			"MX: 2\r\n" +
			"ST: " + st + "\r\n" +
			"\r\n",
	)
}

// UpdateFunc receives a device record enriched out-of-band, after the device
// was already emitted on the discovery stream. Consumers merge by Key().
type UpdateFunc func(*device.Device)

// ProgressFunc reports description-fetch progress for progress displays.
type ProgressFunc func(inFlight, completed int)

// SSDPScanner discovers UPnP/DLNA renderers via multicast M-SEARCH.
//
// Each response yields a provisional device immediately; the LOCATION URL is
// fetched asynchronously and, when it parses, the enriched record is
// delivered through OnUpdate. Fetches are allowed to outlive the discovery
// deadline: a late update is defined behavior, not a leak.
type SSDPScanner struct {
	// OnUpdate receives enriched records from description fetches. May be nil.
	OnUpdate UpdateFunc

	// OnProgress receives fetch counters for progress displays. May be nil.
	OnProgress ProgressFunc

	// SearchTargets overrides the default ST values sent. Empty means
	// MediaRenderer:1 plus ssdp:all.
	SearchTargets []string

	fetcher *descriptionFetcher

	mu        sync.Mutex
	inFlight  int
	completed int
}

// NewSSDPScanner creates a scanner with the default search targets.
func NewSSDPScanner() *SSDPScanner {
	return &SSDPScanner{
		fetcher: newDescriptionFetcher(),
	}
}

// Method implements Discoverer.
func (s *SSDPScanner) Method() device.Method {
	return device.MethodSSDP
}

// Discover sends M-SEARCH requests and emits a device for each distinct
// responder until ctx expires. A socket bind failure is fatal to this
// discoverer only; sibling discoverers keep running.
func (s *SSDPScanner) Discover(ctx context.Context, out chan<- *device.Device) error {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return fmt.Errorf("resolve ssdp addr: %w", err)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	// A stop cancels ctx before the deadline; wake the blocked read so the
	// loop notices immediately instead of at the original deadline.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	targets := s.SearchTargets
	if len(targets) == 0 {
		targets = []string{mediaRendererURN, "ssdp:all"}
	}
	for _, st := range targets {
		if _, err := conn.WriteToUDP(mSearchRequest(st), addr); err != nil {
			return fmt.Errorf("send m-search: %w", err)
		}
	}

	// Dedup by provisional identity: devices answer once per search target.
	seen := make(map[string]bool)
	buf := make([]byte, ssdpReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil // deadline reached, discovery complete
			}
			continue
		}

		dev, location, err := parseSSDPResponse(buf[:n], remoteAddr)
		if err != nil || dev == nil {
			continue
		}

		if seen[dev.Key()] {
			continue
		}
		seen[dev.Key()] = true

		logging.LogDiscovery(dev.Method.String(), dev.IP, dev.Port, dev.FriendlyName)

		select {
		case out <- dev:
		case <-ctx.Done():
			return nil
		}

		if location != "" {
			s.scheduleFetch(dev.Clone(), location)
		}
	}
}

// scheduleFetch retrieves the device description asynchronously. The fetch
// runs past the discovery deadline on purpose; its result reaches consumers
// through OnUpdate, never through the discovery stream.
func (s *SSDPScanner) scheduleFetch(dev *device.Device, location string) {
	s.mu.Lock()
	s.inFlight++
	inFlight, completed := s.inFlight, s.completed
	s.mu.Unlock()
	s.reportProgress(inFlight, completed)

	go func() {
		desc, err := s.fetcher.Fetch(context.Background(), location)
		logging.LogDescriptionFetch(location, err)

		if err == nil {
			desc.Apply(dev)
			if s.OnUpdate != nil {
				s.OnUpdate(dev)
			}
		}
		// On failure the provisional record stands: the device is still
		// considered discovered with heuristic defaults.

		s.mu.Lock()
		s.inFlight--
		s.completed++
		inFlight, completed := s.inFlight, s.completed
		s.mu.Unlock()
		s.reportProgress(inFlight, completed)
	}()
}

func (s *SSDPScanner) reportProgress(inFlight, completed int) {
	if s.OnProgress != nil {
		s.OnProgress(inFlight, completed)
	}
}

// parseSSDPResponse turns a unicast M-SEARCH reply into a provisional device.
// Returns the LOCATION URL for asynchronous enrichment (may be empty).
// The LOCATION host:port is the provisional identity; the UDP source address
// is the fallback when LOCATION is absent or unparseable.
func parseSSDPResponse(data []byte, remote *net.UDPAddr) (*device.Device, string, error) {
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(data))), nil)
	if err != nil {
		return nil, "", fmt.Errorf("parse ssdp response: %w", err)
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	st := resp.Header.Get("ST")
	usn := resp.Header.Get("USN")
	server := resp.Header.Get("Server")

	logging.LogSSDPResponse(remote.String(), st, location)

	ip := remote.IP.String()
	port := 0
	if location != "" {
		if u, err := url.Parse(location); err == nil && u.Host != "" {
			if host := u.Hostname(); host != "" {
				ip = host
			}
			if p := u.Port(); p != "" {
				if n, err := strconv.Atoi(p); err == nil {
					port = n
				}
			} else if u.Scheme == "https" {
				port = 443
			} else {
				port = 80
			}
		}
	}
	if port == 0 {
		port = remote.Port
	}
	if port == 0 {
		port = 80
	}

	dev := device.New(ip, port, device.MethodSSDP)
	if st != "" {
		dev.Type = st
		dev.SetMetadata("ssdp_st", st)
	}
	if usn != "" {
		dev.UUID = uuidFromUSN(usn)
		dev.SetMetadata("ssdp_usn", usn)
	}
	if server != "" {
		dev.SetMetadata("ssdp_server", server)
		if vendor := vendorFromServer(server); vendor != "" {
			dev.Manufacturer = vendor
			dev.FriendlyName = fmt.Sprintf("%s device at %s", vendor, ip)
		}
	}
	if location != "" {
		dev.SetMetadata("ssdp_location", location)
	}

	return dev, location, nil
}

// uuidFromUSN extracts the uuid from a USN header,
// e.g. "uuid:RINCON_000E58...::urn:schemas-upnp-org:device:ZonePlayer:1".
func uuidFromUSN(usn string) string {
	if !strings.HasPrefix(usn, "uuid:") {
		return ""
	}
	rest := strings.TrimPrefix(usn, "uuid:")
	if i := strings.Index(rest, "::"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// vendorFromServer guesses a manufacturer from the SERVER header. Best
// effort only; empty means unknown.
func vendorFromServer(server string) string {
	s := strings.ToLower(server)
	switch {
	case strings.Contains(s, "sonos"):
		return "Sonos"
	case strings.Contains(s, "samsung"):
		return "Samsung"
	case strings.Contains(s, "lg"):
		return "LG"
	case strings.Contains(s, "roku"):
		return "Roku"
	case strings.Contains(s, "denon") || strings.Contains(s, "heos"):
		return "Denon"
	default:
		return ""
	}
}
