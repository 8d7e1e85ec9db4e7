package status

import (
	"errors"
	"testing"
	"time"

	"topograph/pkg/models"
)

func TestParseNestedAliases(t *testing.T) {
	data := []byte(`{
		"event": {"id": "e-1", "class": "/Status/Ping", "severity": "critical"},
		"host": {"name": "/Devices/sw1"},
		"@timestamp": "2024-05-01T12:00:00.5Z",
		"fields": {"ifIndex": 3}
	}`)

	ev, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "e-1" || ev.Device != "/Devices/sw1" || ev.EventClass != "/Status/Ping" {
		t.Fatalf("unexpected identity %+v", ev)
	}
	if ev.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %d", ev.Severity)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ev.Timestamp)
	}
	if ev.Field("ifIndex") != "3" {
		t.Fatalf("expected field ifIndex=3, got %q", ev.Field("ifIndex"))
	}
}

func TestParseFlatEventWithUnixMillis(t *testing.T) {
	ev, err := Parse([]byte(`{"device": "/Devices/r1", "eventClass": "/Perf/CPU", "severity": 0, "timestamp": 1714564800000}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.Cleared() {
		t.Fatalf("severity 0 must be a clear")
	}
	if ev.Timestamp.Unix() != 1714564800 {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestParseRequiresDevice(t *testing.T) {
	if _, err := Parse([]byte(`{"event_class": "/Status/Ping"}`)); !errors.Is(err, ErrMissingDevice) {
		t.Fatalf("expected ErrMissingDevice, got %v", err)
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatalf("expected a decode error")
	}
}
