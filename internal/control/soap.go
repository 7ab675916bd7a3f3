package control

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// AVTransportService is the UPnP service URN for media transport control.
	AVTransportService = "urn:schemas-upnp-org:service:AVTransport:1"

	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncoding   = "http://schemas.xmlsoap.org/soap/encoding/"

	soapResponseMaxBytes = 64 * 1024
)

// SOAPArg is one named argument of a SOAP action. Order is preserved on the
// wire; some renderers reject envelopes with reordered arguments.
type SOAPArg struct {
	Name  string
	Value string
}

// SOAPClient POSTs SOAP 1.1 action envelopes to device control URLs.
type SOAPClient struct {
	httpClient *http.Client
}

// NewSOAPClient creates a SOAP client. timeout bounds each HTTP round trip;
// zero means 10s.
func NewSOAPClient(timeout time.Duration) *SOAPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SOAPClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Call invokes a SOAP action at endpoint and returns the raw response body.
// A SOAP fault is returned as an error carrying the UPnP error code and
// description when the device supplies them.
func (c *SOAPClient) Call(ctx context.Context, endpoint, service, action string, args []SOAPArg) ([]byte, error) {
	body := buildEnvelope(service, action, args)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", service+"#"+action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, soapResponseMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if fault := parseFault(respBody); fault != nil {
			return nil, fault
		}
		return nil, fmt.Errorf("soap error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}

	return respBody, nil
}

// buildEnvelope assembles a SOAP 1.1 action envelope by hand. The document
// is small and fixed-shape; argument values are XML-escaped.
func buildEnvelope(service, action string, args []SOAPArg) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="` + soapEnvelopeNS + `" s:encodingStyle="` + soapEncoding + `">`)
	buf.WriteString(`<s:Body>`)
	buf.WriteString(`<u:` + action + ` xmlns:u="` + service + `">`)
	for _, arg := range args {
		buf.WriteString("<" + arg.Name + ">")
		_ = xml.EscapeText(&buf, []byte(arg.Value))
		buf.WriteString("</" + arg.Name + ">")
	}
	buf.WriteString(`</u:` + action + `>`)
	buf.WriteString(`</s:Body>`)
	buf.WriteString(`</s:Envelope>`)
	return buf.Bytes()
}

// SOAPFault is a parsed UPnP SOAP fault response.
type SOAPFault struct {
	Code        string
	Description string
}

func (f *SOAPFault) Error() string {
	if f.Description != "" {
		return fmt.Sprintf("soap fault %s: %s", f.Code, f.Description)
	}
	return fmt.Sprintf("soap fault %s", f.Code)
}

// faultXML mirrors the standard UPnP fault body shape.
type faultXML struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault struct {
			Detail struct {
				UPnPError struct {
					ErrorCode        string `xml:"errorCode"`
					ErrorDescription string `xml:"errorDescription"`
				} `xml:"UPnPError"`
			} `xml:"detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// parseFault extracts a UPnP error from a fault response body. Returns nil
// when the body isn't a recognizable fault; malformed faults degrade to the
// generic status error rather than failing the pipeline.
func parseFault(body []byte) *SOAPFault {
	var doc faultXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}
	upnpErr := doc.Body.Fault.Detail.UPnPError
	if upnpErr.ErrorCode == "" && upnpErr.ErrorDescription == "" {
		return nil
	}
	return &SOAPFault{
		Code:        upnpErr.ErrorCode,
		Description: upnpErr.ErrorDescription,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
