package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/lanblast/lanblast/internal/device"
)

const (
	avTransportServiceURN = "urn:schemas-upnp-org:service:AVTransport:1"

	descriptionFetchTimeout = 5 * time.Second
	descriptionMaxBytes     = 256 * 1024
)

// descriptionFetcher retrieves and parses UPnP device-description XML from
// the LOCATION URL of an SSDP response. Devices drop packets under load, so
// fetches are retried a couple of times before falling back to heuristics.
type descriptionFetcher struct {
	client *retryablehttp.Client
}

func newDescriptionFetcher() *descriptionFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = descriptionFetchTimeout
	client.Logger = nil

	return &descriptionFetcher{client: client}
}

// Fetch GETs the description document at location and parses the subset of
// fields the pipeline cares about.
func (f *descriptionFetcher) Fetch(ctx context.Context, location string) (*Description, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", location, nil)
	if err != nil {
		return nil, fmt.Errorf("build description request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch description: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch description: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, descriptionMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}

	desc, err := ParseDescription(data)
	if err != nil {
		return nil, err
	}
	desc.resolveControlURL(location)
	return desc, nil
}

// Description is the subset of a UPnP device description the pipeline uses.
type Description struct {
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string

	// ControlURL is the AVTransport control path, resolved against the
	// description's own URL when the document gives a relative path.
	ControlURL string
}

// descriptionXML mirrors the wire document. Only the fields the pipeline
// extracts are declared; everything else is ignored by encoding/xml.
type descriptionXML struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ServiceList  struct {
			Services []struct {
				ServiceType string `xml:"serviceType"`
				ControlURL  string `xml:"controlURL"`
			} `xml:"service"`
		} `xml:"serviceList"`
		DeviceList struct {
			Devices []struct {
				ServiceList struct {
					Services []struct {
						ServiceType string `xml:"serviceType"`
						ControlURL  string `xml:"controlURL"`
					} `xml:"service"`
				} `xml:"serviceList"`
			} `xml:"device"`
		} `xml:"deviceList"`
	} `xml:"device"`
}

// ParseDescription parses device-description XML. Malformed documents are an
// error; the caller degrades to heuristic defaults rather than failing the
// discovery.
func ParseDescription(data []byte) (*Description, error) {
	var doc descriptionXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse description xml: %w", err)
	}

	desc := &Description{
		DeviceType:   strings.TrimSpace(doc.Device.DeviceType),
		FriendlyName: strings.TrimSpace(doc.Device.FriendlyName),
		Manufacturer: strings.TrimSpace(doc.Device.Manufacturer),
		ModelName:    strings.TrimSpace(doc.Device.ModelName),
	}

	for _, svc := range doc.Device.ServiceList.Services {
		if strings.EqualFold(strings.TrimSpace(svc.ServiceType), avTransportServiceURN) {
			desc.ControlURL = strings.TrimSpace(svc.ControlURL)
			break
		}
	}
	// Some renderers nest the AVTransport service under an embedded device
	// (e.g. MediaRenderer inside a combo device description).
	if desc.ControlURL == "" {
		for _, embedded := range doc.Device.DeviceList.Devices {
			for _, svc := range embedded.ServiceList.Services {
				if strings.EqualFold(strings.TrimSpace(svc.ServiceType), avTransportServiceURN) {
					desc.ControlURL = strings.TrimSpace(svc.ControlURL)
					break
				}
			}
			if desc.ControlURL != "" {
				break
			}
		}
	}

	return desc, nil
}

// resolveControlURL makes a relative controlURL absolute-path against the
// description document's URL. Absolute-path and full-URL values pass through
// (full URLs are reduced to their path; the device identity stays ip:port).
func (d *Description) resolveControlURL(location string) {
	if d.ControlURL == "" {
		return
	}
	if strings.HasPrefix(d.ControlURL, "/") {
		return
	}
	if u, err := url.Parse(d.ControlURL); err == nil && u.IsAbs() {
		if u.Path != "" {
			d.ControlURL = u.Path
		} else {
			d.ControlURL = "/"
		}
		return
	}
	base, err := url.Parse(location)
	if err != nil {
		d.ControlURL = "/" + d.ControlURL
		return
	}
	ref, err := url.Parse(d.ControlURL)
	if err != nil {
		d.ControlURL = "/" + d.ControlURL
		return
	}
	d.ControlURL = base.ResolveReference(ref).Path
}

// Apply copies the parsed fields onto a device record and mirrors them into
// metadata so the merge step never loses enrichment.
func (d *Description) Apply(dev *device.Device) {
	if d.FriendlyName != "" {
		dev.FriendlyName = d.FriendlyName
		dev.SetMetadata("xml_friendly_name", d.FriendlyName)
	}
	if d.DeviceType != "" {
		dev.Type = d.DeviceType
		dev.SetMetadata("xml_device_type", d.DeviceType)
	}
	if d.Manufacturer != "" {
		dev.Manufacturer = d.Manufacturer
		dev.SetMetadata("xml_manufacturer", d.Manufacturer)
	}
	if d.ModelName != "" {
		dev.ModelName = d.ModelName
		dev.SetMetadata("xml_model_name", d.ModelName)
	}
	if d.ControlURL != "" {
		dev.ControlURL = d.ControlURL
		dev.SetMetadata("xml_control_url", d.ControlURL)
	}
}
