// Package discovery finds media renderers on the local network.
//
// Three independent strategies run concurrently under a shared deadline:
//
//   - SSDP: UDP multicast M-SEARCH to 239.255.255.250:1900, parsing the
//     HTTP-over-UDP responses and asynchronously fetching each device's
//     UPnP description XML for enrichment.
//   - mDNS: DNS-SD browsing of cast/AirPlay-style service types.
//   - Port scan: brute-force TCP connect sweep of a curated spectrum of
//     known media-control ports, for devices that advertise nothing.
//
// The Bus fans out to all three, deduplicates by (ip, port), merges records
// by method precedence (SSDP > mDNS > port scan) while unioning metadata,
// and emits one logical stream. SSDP description fetches that finish after
// the deadline are delivered through the Bus's update callback rather than
// the stream; consumers merge them by device key.
package discovery
