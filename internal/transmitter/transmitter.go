// Package transmitter runs a telemetry node: bind to a receiver, then report
// sensor readings to it on a fixed interval.
package transmitter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/discovery"
	"psgadget/internal/led"
	"psgadget/internal/radio"
	"psgadget/internal/telemetry"
)

// DefaultGadgetType identifies telemetry nodes in frames.
const DefaultGadgetType = "PsGadget-IO"

// Sensors supplies the readings carried in each frame.
type Sensors interface {
	CPUTemperature() (float64, error)
	BatteryStatus() string
}

// Signaler shows LED patterns.
type Signaler interface {
	Trigger(p led.Pattern)
}

// Config describes the node and its reporting cadence.
type Config struct {
	GadgetType   string
	SerialNumber string
	MachineType  string
	SendInterval time.Duration
	// Payload is sent verbatim when set; otherwise each frame carries a
	// random LED color command.
	Payload string
}

// Transmitter is the node's telemetry loop.
type Transmitter struct {
	radio   radio.Radio
	binder  *discovery.Binder
	sensors Sensors
	led     Signaler
	cfg     Config
	log     zerolog.Logger
	color   func() led.Color

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithColorSource replaces the random color generator.
func WithColorSource(f func() led.Color) Option {
	return func(t *Transmitter) { t.color = f }
}

// New wires a transmitter. sig may be nil.
func New(rad radio.Radio, binder *discovery.Binder, sensors Sensors, sig Signaler, cfg Config, log zerolog.Logger, opts ...Option) *Transmitter {
	if sig == nil {
		sig = led.NewMachine(led.NopIndicator{}, log)
	}
	if cfg.GadgetType == "" {
		cfg.GadgetType = DefaultGadgetType
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 5 * time.Second
	}
	t := &Transmitter{
		radio:   rad,
		binder:  binder,
		sensors: sensors,
		led:     sig,
		cfg:     cfg,
		log:     log,
		color:   randomColor,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func randomColor() led.Color {
	return led.Color{R: uint8(rand.IntN(256)), G: uint8(rand.IntN(256)), B: uint8(rand.IntN(256))}
}

// Run binds to a receiver and then sends a frame immediately and every send
// interval until ctx is done.
func (t *Transmitter) Run(ctx context.Context) error {
	receiver, err := t.binder.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("binding to receiver: %w", err)
	}

	t.log.Info().
		Str("receiver", receiver.String()).
		Dur("interval", t.cfg.SendInterval).
		Msg("Sending telemetry")

	ticker := time.NewTicker(t.cfg.SendInterval)
	defer ticker.Stop()

	t.tick(receiver)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(receiver)
		}
	}
}

func (t *Transmitter) tick(receiver net.HardwareAddr) {
	if _, err := t.SendOnce(receiver); err != nil {
		t.log.Warn().Err(err).Msg("Failed to send telemetry")
	}
}

// SendOnce builds one frame from the sensors and unicasts it to receiver.
func (t *Transmitter) SendOnce(receiver net.HardwareAddr) (telemetry.TelemetryFrame, error) {
	temp, err := t.sensors.CPUTemperature()
	if err != nil {
		t.log.Debug().Err(err).Msg("CPU temperature unavailable, reporting 0")
		temp = 0
	}

	frame := telemetry.TelemetryFrame{
		GadgetType:     t.cfg.GadgetType,
		SerialNumber:   t.cfg.SerialNumber,
		MachineType:    t.cfg.MachineType,
		CPUTemperature: telemetry.FormatTemperature(temp),
		BatteryStatus:  t.sensors.BatteryStatus(),
		Payload:        t.cfg.Payload,
	}
	cue := led.Sent(led.MessageReceived.Color)
	if frame.Payload == "" {
		c := t.color()
		frame.Payload = colorPayload(c)
		cue = led.Sent(c)
	} else if cmd, ok := frame.LedCommand(); ok {
		cue = led.Sent(led.Color{R: cmd.Red, G: cmd.Green, B: cmd.Blue})
	}

	data, err := telemetry.Encode(frame)
	if err != nil {
		t.fail()
		return frame, err
	}
	if err := t.radio.Send(receiver, data); err != nil {
		t.fail()
		return frame, fmt.Errorf("sending to %s: %w", receiver, err)
	}

	t.sent.Add(1)
	t.led.Trigger(cue)
	t.log.Info().Str("frame", string(data)).Msg("Telemetry sent")
	return frame, nil
}

func (t *Transmitter) fail() {
	t.failed.Add(1)
	t.led.Trigger(led.Error)
}

// colorPayload renders c the way transmitters have always sent it, with a
// space after each comma.
func colorPayload(c led.Color) string {
	return fmt.Sprintf("%s(%d, %d, %d)", telemetry.LedCommandPrefix, c.R, c.G, c.B)
}

// Counts returns sent and failed frame totals.
func (t *Transmitter) Counts() (sent, failed uint64) {
	return t.sent.Load(), t.failed.Load()
}
