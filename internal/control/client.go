// Package control drives discovered renderers through the UPnP AVTransport
// control sequence: SetAVTransportURI, a short settle delay, then Play.
//
// Real-world devices are quirky. Some answer reachability probes with 403 or
// 404 yet accept SOAP control fine, so probe failures never block the
// sequence. Every network call is individually time-bounded; a hung device
// costs one slot in the concurrency pool for at most the call timeout.
package control

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/logging"
)

const (
	// DefaultSettleDelay is the pause between SetAVTransportURI and Play.
	// Renderers need a moment to fetch/parse the URI before a Play lands.
	DefaultSettleDelay = 200 * time.Millisecond

	// DefaultCallTimeout bounds one SOAP round trip.
	DefaultCallTimeout = 10 * time.Second

	probeTimeout = 2 * time.Second
)

// Result is the outcome of one control attempt. Immutable once created.
type Result struct {
	// DeviceKey is the device's dedup identity, "ip:port".
	DeviceKey string `json:"device_key"`

	// OK is true when the full sequence succeeded. A URI set without
	// playback starting is not a success.
	OK bool `json:"ok"`

	// Duration is the wall-clock time of the whole attempt.
	Duration time.Duration `json:"duration_ms"`

	// Err holds error detail, present iff the attempt failed.
	Err string `json:"error,omitempty"`
}

// Client executes the control sequence against renderers.
type Client struct {
	soap        *SOAPClient
	settleDelay time.Duration
	callTimeout time.Duration
	probeClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithSettleDelay overrides the pause between SetAVTransportURI and Play.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.settleDelay = d
		}
	}
}

// WithCallTimeout overrides the per-SOAP-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
			c.soap = NewSOAPClient(d)
		}
	}
}

// NewClient creates a control client with the default timings.
func NewClient(opts ...Option) *Client {
	c := &Client{
		soap:        NewSOAPClient(DefaultCallTimeout),
		settleDelay: DefaultSettleDelay,
		callTimeout: DefaultCallTimeout,
		probeClient: &http.Client{Timeout: probeTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushClip executes SetAVTransportURI then Play against the device. Failure
// of SetAVTransportURI short-circuits Play; failure of Play after a
// successful SetAVTransportURI is still an overall failure.
func (c *Client) PushClip(ctx context.Context, dev *device.Device, mediaURL string) Result {
	start := time.Now()
	key := dev.Key()
	endpoint := dev.ControlEndpoint()

	// Reachability probe, diagnostics only. Renderers commonly answer plain
	// GETs with 403/404 while accepting SOAP, so any outcome here is
	// non-blocking.
	c.probe(ctx, dev)

	if err := c.setAVTransportURI(ctx, endpoint, mediaURL); err != nil {
		logging.LogControlAttempt(key, "SetAVTransportURI", err)
		return Result{DeviceKey: key, OK: false, Duration: time.Since(start), Err: "SetAVTransportURI: " + err.Error()}
	}
	logging.LogControlAttempt(key, "SetAVTransportURI", nil)

	// Let the renderer process the URI before requesting playback.
	select {
	case <-time.After(c.settleDelay):
	case <-ctx.Done():
		return Result{DeviceKey: key, OK: false, Duration: time.Since(start), Err: "cancelled: " + ctx.Err().Error()}
	}

	if err := c.play(ctx, endpoint); err != nil {
		logging.LogControlAttempt(key, "Play", err)
		return Result{DeviceKey: key, OK: false, Duration: time.Since(start), Err: "Play: " + err.Error()}
	}
	logging.LogControlAttempt(key, "Play", nil)

	return Result{DeviceKey: key, OK: true, Duration: time.Since(start)}
}

func (c *Client) setAVTransportURI(ctx context.Context, endpoint, mediaURL string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	_, err := c.soap.Call(callCtx, endpoint, AVTransportService, "SetAVTransportURI", []SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: mediaURL},
		{Name: "CurrentURIMetaData", Value: ""},
	})
	return err
}

func (c *Client) play(ctx context.Context, endpoint string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	_, err := c.soap.Call(callCtx, endpoint, AVTransportService, "Play", []SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Speed", Value: "1"},
	})
	return err
}

// probe GETs the device base URL and logs the result. 403/404 answers are
// routine for renderers that only speak SOAP.
func (c *Client) probe(ctx context.Context, dev *device.Device) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, "GET", dev.BaseURL()+"/", nil)
	if err != nil {
		return
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		logging.Debug("Reachability probe failed, proceeding anyway",
			zap.String("device", dev.Key()),
			zap.Error(err),
		)
		return
	}
	resp.Body.Close()
	logging.Debug("Reachability probe",
		zap.String("device", dev.Key()),
		zap.Int("status", resp.StatusCode),
	)
}
