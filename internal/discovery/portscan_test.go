package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lanblast/lanblast/internal/device"
)

func TestPortScanner_Discover(t *testing.T) {
	// Real listener on loopback stands in for a renderer's control port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	openPort := ln.Addr().(*net.TCPAddr).Port

	// A port nothing listens on; Listen+Close guarantees it was free.
	lnClosed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedPort := lnClosed.Addr().(*net.TCPAddr).Port
	lnClosed.Close()

	scanner := &PortScanner{
		Hosts:       []string{"127.0.0.1"},
		Spectrum:    []int{openPort, closedPort},
		DialTimeout: 200 * time.Millisecond,
		MaxSockets:  4,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make(chan *device.Device, 8)
	done := make(chan error, 1)
	go func() { done <- scanner.Discover(ctx, out) }()

	if err := <-done; err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	close(out)

	var found []*device.Device
	for dev := range out {
		found = append(found, dev)
	}

	if len(found) != 1 {
		t.Fatalf("found %d devices, want 1", len(found))
	}
	if found[0].IP != "127.0.0.1" || found[0].Port != openPort {
		t.Errorf("found %s:%d, want 127.0.0.1:%d", found[0].IP, found[0].Port, openPort)
	}
	if found[0].Method != device.MethodPortScan {
		t.Errorf("Method = %v, want MethodPortScan", found[0].Method)
	}
}

func TestPortScanner_RespectsCancel(t *testing.T) {
	scanner := &PortScanner{
		Hosts:       []string{"127.0.0.1"},
		Spectrum:    PortSpectrum(),
		DialTimeout: 100 * time.Millisecond,
		MaxSockets:  8,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	out := make(chan *device.Device, 8)
	start := time.Now()
	if err := scanner.Discover(ctx, out); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled scan took %v, want near-immediate return", elapsed)
	}
}

func TestEnumerateSubnet(t *testing.T) {
	hosts := enumerateSubnet("192.168.1")
	if len(hosts) != 254 {
		t.Fatalf("len = %d, want 254", len(hosts))
	}
	if hosts[0] != "192.168.1.1" {
		t.Errorf("first = %q", hosts[0])
	}
	if hosts[253] != "192.168.1.254" {
		t.Errorf("last = %q", hosts[253])
	}
}
