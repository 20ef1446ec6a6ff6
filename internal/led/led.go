// Package led drives the node's status LED without blocking the caller.
//
// A Machine is Idle until a Pattern is triggered. It then lights the
// indicator, runs the pattern's on/off cycles on timers and returns to Idle
// with the LED dark. A new trigger pre-empts whatever pattern is running.
package led

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Color is an RGB LED value.
type Color struct {
	R, G, B uint8
}

// Black turns the LED off.
var Black = Color{}

func (c Color) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Pattern is a blink sequence: Count pulses of Color, each lit for On and
// followed by Gap of darkness before the next pulse.
type Pattern struct {
	Name  string
	Color Color
	On    time.Duration
	Gap   time.Duration
	Count int
}

// Named cues.
var (
	MessageReceived = Pattern{Name: "message", Color: Color{0, 0, 20}, On: 500 * time.Millisecond, Count: 1}
	Error           = Pattern{Name: "error", Color: Color{20, 0, 0}, On: 200 * time.Millisecond, Gap: 200 * time.Millisecond, Count: 2}
	Heartbeat       = Pattern{Name: "heartbeat", Color: Color{0, 50, 0}, On: 100 * time.Millisecond, Count: 1}
	NoReceiver      = Pattern{Name: "no-receiver", Color: Color{20, 20, 0}, On: 300 * time.Millisecond, Gap: 300 * time.Millisecond, Count: 3}
)

// Command shows a color requested by a telemetry frame.
func Command(c Color) Pattern {
	return Pattern{Name: "command", Color: c, On: time.Second, Count: 1}
}

// Sent shows the color a transmitter just reported.
func Sent(c Color) Pattern {
	return Pattern{Name: "sent", Color: c, On: 500 * time.Millisecond, Count: 1}
}

// Indicator is the physical (or emulated) LED.
type Indicator interface {
	Set(c Color) error
}

// State of a Machine.
type State int

const (
	Idle State = iota
	Signaling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Signaling:
		return "signaling"
	default:
		return "unknown"
	}
}

// Machine sequences patterns on an Indicator.
type Machine struct {
	ind Indicator
	log zerolog.Logger

	mu      sync.Mutex
	state   State
	current string
	gen     uint64
	timer   *time.Timer
}

// NewMachine returns an idle machine driving ind.
func NewMachine(ind Indicator, log zerolog.Logger) *Machine {
	if ind == nil {
		ind = NopIndicator{}
	}
	return &Machine{ind: ind, log: log}
}

// Trigger starts p, cancelling any running pattern. It returns immediately.
func (m *Machine) Trigger(p Pattern) {
	if p.Count < 1 {
		p.Count = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
	}
	m.state = Signaling
	m.current = p.Name
	m.light(m.gen, p, 1)
}

// Stop cancels any running pattern and turns the LED off.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.set(Black)
	m.state = Idle
	m.current = ""
}

// State returns the current state and the name of the running pattern.
func (m *Machine) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.current
}

// light must be called with mu held.
func (m *Machine) light(gen uint64, p Pattern, pulse int) {
	m.set(p.Color)
	m.timer = time.AfterFunc(p.On, func() { m.dark(gen, p, pulse) })
}

func (m *Machine) dark(gen uint64, p Pattern, pulse int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	m.set(Black)
	if pulse >= p.Count {
		m.state = Idle
		m.current = ""
		m.timer = nil
		return
	}
	m.timer = time.AfterFunc(p.Gap, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen {
			return
		}
		m.light(gen, p, pulse+1)
	})
}

func (m *Machine) set(c Color) {
	if err := m.ind.Set(c); err != nil {
		m.log.Warn().Err(err).Str("color", c.String()).Msg("Failed to set LED")
	}
}
