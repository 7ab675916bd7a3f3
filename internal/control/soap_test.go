package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildEnvelope(t *testing.T) {
	body := string(buildEnvelope(AVTransportService, "SetAVTransportURI", []SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: "http://127.0.0.1:8080/media/current.mp3?a=1&b=2"},
		{Name: "CurrentURIMetaData", Value: ""},
	}))

	for _, want := range []string{
		`<?xml version="1.0" encoding="utf-8"?>`,
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"`,
		`<u:SetAVTransportURI xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">`,
		`<InstanceID>0</InstanceID>`,
		// Argument values must be XML-escaped.
		`<CurrentURI>http://127.0.0.1:8080/media/current.mp3?a=1&amp;b=2</CurrentURI>`,
		`<CurrentURIMetaData></CurrentURIMetaData>`,
		`</s:Body></s:Envelope>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("envelope missing %q\nenvelope: %s", want, body)
		}
	}

	// Argument order must be preserved.
	if strings.Index(body, "<InstanceID>") > strings.Index(body, "<CurrentURI>") {
		t.Error("InstanceID must precede CurrentURI")
	}
}

func TestSOAPClient_Call(t *testing.T) {
	var gotAction, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPACTION")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:PlayResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"/></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	client := NewSOAPClient(2 * time.Second)
	resp, err := client.Call(context.Background(), srv.URL+"/AVTransport/control", AVTransportService, "Play", []SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Speed", Value: "1"},
	})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	if want := `"urn:schemas-upnp-org:service:AVTransport:1#Play"`; gotAction != want {
		t.Errorf("SOAPACTION = %q, want %q", gotAction, want)
	}
	if !strings.HasPrefix(gotContentType, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", gotContentType)
	}
	if !strings.Contains(string(gotBody), "<u:Play") {
		t.Errorf("request body missing action element: %s", gotBody)
	}
	if !strings.Contains(string(resp), "PlayResponse") {
		t.Errorf("response body = %s", resp)
	}
}

func TestSOAPClient_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>716</errorCode>
          <errorDescription>Resource not found</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`))
	}))
	defer srv.Close()

	client := NewSOAPClient(2 * time.Second)
	_, err := client.Call(context.Background(), srv.URL, AVTransportService, "Play", nil)
	if err == nil {
		t.Fatal("expected fault error")
	}

	fault, ok := err.(*SOAPFault)
	if !ok {
		t.Fatalf("error type = %T, want *SOAPFault (%v)", err, err)
	}
	if fault.Code != "716" {
		t.Errorf("Code = %q, want 716", fault.Code)
	}
	if fault.Description != "Resource not found" {
		t.Errorf("Description = %q", fault.Description)
	}
}

func TestSOAPClient_NonFaultErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewSOAPClient(2 * time.Second)
	_, err := client.Call(context.Background(), srv.URL, AVTransportService, "Play", nil)
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if _, ok := err.(*SOAPFault); ok {
		t.Error("plain HTTP error should not parse as SOAP fault")
	}
}
