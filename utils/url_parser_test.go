package utils

import (
	"net/http"
	"testing"
)

func TestParseQueryCaseHandling(t *testing.T) {
	values, err := ParseQuery("COORDS=POINT%28145.1%20-37.8%29&Datetime=2021-01-01T00%3A00%3A00Z&Ensemble=3")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if values.Get("coords") != "POINT(145.1 -37.8)" {
		t.Errorf("reserved keys should be lower-cased: %v", values)
	}
	if values.Get("datetime") != "2021-01-01T00:00:00Z" {
		t.Errorf("reserved keys should be lower-cased: %v", values)
	}
	if values.Get("Ensemble") != "3" {
		t.Errorf("free-form selector keys should keep their case: %v", values)
	}
	if _, ok := values["ensemble"]; ok {
		t.Errorf("free-form selector keys should not be lower-cased: %v", values)
	}
}

func TestParseQueryRepeatedKeys(t *testing.T) {
	values, err := ParseQuery("z=500&z=850")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if len(values["z"]) != 2 || values["z"][0] != "500" {
		t.Errorf("unexpected repeated values: %v", values["z"])
	}
}

func TestParseRemoteAddr(t *testing.T) {
	r, err := http.NewRequest("GET", "/edr", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	r.RemoteAddr = "10.0.0.1:54321"
	if addr := ParseRemoteAddr(r); addr != "10.0.0.1:54321" {
		t.Errorf("unexpected remote address: %v", addr)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if addr := ParseRemoteAddr(r); addr != "203.0.113.9" {
		t.Errorf("expected first forwarded address, got %v", addr)
	}
}
