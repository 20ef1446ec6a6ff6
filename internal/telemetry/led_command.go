package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// LedCommandPrefix marks a payload as a candidate LED command.
const LedCommandPrefix = "rgb"

// LedCommand is a color request carried in a frame payload as rgb(r,g,b).
type LedCommand struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

// String renders the command in wire form.
func (c LedCommand) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.Red, c.Green, c.Blue)
}

// ParseLedCommand extracts an LED command from a payload. Malformed input
// yields ok=false, never an error. Whitespace around components is accepted.
func ParseLedCommand(payload string) (cmd LedCommand, ok bool) {
	if !strings.HasPrefix(payload, LedCommandPrefix) {
		return LedCommand{}, false
	}
	body := strings.TrimSpace(strings.TrimPrefix(payload, LedCommandPrefix))
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return LedCommand{}, false
	}
	body = body[1 : len(body)-1]

	components := strings.Split(body, ",")
	if len(components) != 3 {
		return LedCommand{}, false
	}

	var rgb [3]uint8
	for i, c := range components {
		v, err := strconv.ParseUint(strings.TrimSpace(c), 10, 8)
		if err != nil {
			return LedCommand{}, false
		}
		rgb[i] = uint8(v)
	}
	return LedCommand{Red: rgb[0], Green: rgb[1], Blue: rgb[2]}, true
}
