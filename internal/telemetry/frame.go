// Package telemetry defines the pipe-delimited telemetry frame exchanged
// between transmitters and the receiver.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FieldCount is the number of fields in a telemetry frame.
const FieldCount = 6

// Delimiter separates frame fields on the wire.
const Delimiter = "|"

var (
	// ErrMalformedFrame is wrapped by every decode failure.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFieldDelimiter is returned by Encode when a field would break framing.
	ErrFieldDelimiter = errors.New("field contains a reserved character")
)

// FrameError describes why a received frame was rejected.
type FrameError struct {
	Parts  int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d parts): %s", e.Parts, e.Reason)
}

func (e *FrameError) Unwrap() error { return ErrMalformedFrame }

// TelemetryFrame is one telemetry report from a transmitter. CPUTemperature
// holds the field as sent; use Temperature for the numeric value.
type TelemetryFrame struct {
	GadgetType     string
	SerialNumber   string
	MachineType    string
	CPUTemperature string
	BatteryStatus  string
	Payload        string
}

// Temperature parses CPUTemperature. ok is false when the transmitter sent
// something other than a number.
func (f TelemetryFrame) Temperature() (v float64, ok bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(f.CPUTemperature), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LedCommand returns the LED command embedded in the payload, if any.
func (f TelemetryFrame) LedCommand() (LedCommand, bool) {
	return ParseLedCommand(f.Payload)
}

// Encode joins the frame fields with the delimiter. Fields must not contain
// the delimiter or a newline, the latter being the serial bridge terminator.
func Encode(f TelemetryFrame) ([]byte, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"gadget_type", f.GadgetType},
		{"serial_number", f.SerialNumber},
		{"machine_type", f.MachineType},
		{"cpu_temperature", f.CPUTemperature},
		{"battery_status", f.BatteryStatus},
		{"payload", f.Payload},
	}
	for _, fld := range fields {
		if strings.ContainsAny(fld.value, Delimiter+"\n") {
			return nil, fmt.Errorf("%s %q: %w", fld.name, fld.value, ErrFieldDelimiter)
		}
	}

	parts := []string{
		f.GadgetType,
		f.SerialNumber,
		f.MachineType,
		f.CPUTemperature,
		f.BatteryStatus,
		f.Payload,
	}
	return []byte(strings.Join(parts, Delimiter)), nil
}

// Decode parses a received frame. Anything other than exactly six fields is
// rejected, including frames with extra delimiters. Field contents are not
// interpreted.
func Decode(data []byte) (TelemetryFrame, error) {
	if !utf8.Valid(data) {
		return TelemetryFrame{}, &FrameError{Reason: "invalid UTF-8"}
	}

	parts := strings.Split(string(data), Delimiter)
	if len(parts) != FieldCount {
		return TelemetryFrame{}, &FrameError{
			Parts:  len(parts),
			Reason: fmt.Sprintf("want %d fields", FieldCount),
		}
	}

	return TelemetryFrame{
		GadgetType:     parts[0],
		SerialNumber:   parts[1],
		MachineType:    parts[2],
		CPUTemperature: parts[3],
		BatteryStatus:  parts[4],
		Payload:        parts[5],
	}, nil
}

// FormatTemperature renders a temperature in its shortest exact form.
func FormatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
