package uplink

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/telemetry"
)

func TestNewMessage(t *testing.T) {
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	frame := telemetry.TelemetryFrame{
		GadgetType:     "PsGadget-IO",
		SerialNumber:   "S123",
		MachineType:    "ESP32",
		CPUTemperature: "45.2",
		BatteryStatus:  "99",
		Payload:        "rgb(12, 34, 56)",
	}
	at := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(NewMessage(mac, frame, at))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	doc := string(data)
	for _, want := range []string{
		`"mac":"aa:bb:cc:dd:ee:ff"`,
		`"cpu_temperature":45.2`,
		`"led":{"r":12,"g":34,"b":56}`,
		`"received_at":"2024-10-01T12:00:00Z"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("message %s missing %s", doc, want)
		}
	}
}

func TestNewMessage_NoCommand(t *testing.T) {
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	m := NewMessage(mac, telemetry.TelemetryFrame{CPUTemperature: "N/A", Payload: "hello"}, time.Now())
	if m.LED != nil {
		t.Errorf("LED should be nil for a plain payload, got %+v", m.LED)
	}
	if m.CPUTemperature != nil {
		t.Errorf("CPUTemperature should be null for non-numeric input, got %v", *m.CPUTemperature)
	}
}

func TestTopic(t *testing.T) {
	mac, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	tests := []struct {
		base, want string
	}{
		{"psgadget/telemetry", "psgadget/telemetry/aabbccddeeff"},
		{"psgadget/telemetry/", "psgadget/telemetry/aabbccddeeff"},
	}
	for _, tt := range tests {
		if got := Topic(tt.base, mac); got != tt.want {
			t.Errorf("Topic(%q): got %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConnect_RequiresBroker(t *testing.T) {
	if _, err := Connect(Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error without a broker")
	}
}
