// Package receiver runs the gateway: it advertises itself, ingests telemetry
// frames from transmitters, records who it has heard from, relays frames to
// the host and signals activity on the LED.
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/beacon"
	"psgadget/internal/led"
	"psgadget/internal/listener"
	"psgadget/internal/radio"
	"psgadget/internal/telemetry"
)

// PeerStore records sightings of transmitters.
type PeerStore interface {
	Touch(mac string, now time.Time) (bool, error)
	Len() int
}

// Forwarder relays raw frames to the host.
type Forwarder interface {
	Forward(frame []byte) error
}

// Publisher receives a copy of every valid frame.
type Publisher interface {
	Publish(src net.HardwareAddr, f telemetry.TelemetryFrame, at time.Time)
}

// Signaler shows LED patterns.
type Signaler interface {
	Trigger(p led.Pattern)
}

// Config holds the receiver's timing and queue settings.
type Config struct {
	NetworkName       string
	AdvertiseInterval time.Duration
	// HeartbeatInterval of zero disables the idle heartbeat cue.
	HeartbeatInterval time.Duration
	QueueSize         int
	RatePerMinute     int
}

// Receiver is the gateway event loop.
type Receiver struct {
	radio      radio.Radio
	advertiser *beacon.Advertiser
	queue      *listener.Queue
	peers      PeerStore
	out        Forwarder
	led        Signaler
	uplink     Publisher
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time

	frames         atomic.Uint64
	malformed      atomic.Uint64
	touchFailures  atomic.Uint64
	serialFailures atomic.Uint64

	mu        sync.Mutex
	started   time.Time
	lastFrame time.Time
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithUplink publishes every valid frame to p.
func WithUplink(p Publisher) Option {
	return func(r *Receiver) { r.uplink = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

// New wires a receiver. sig may be nil.
func New(rad radio.Radio, peers PeerStore, out Forwarder, sig Signaler, cfg Config, log zerolog.Logger, opts ...Option) *Receiver {
	if sig == nil {
		sig = led.NewMachine(led.NopIndicator{}, log)
	}
	if cfg.AdvertiseInterval <= 0 {
		cfg.AdvertiseInterval = 5 * time.Second
	}
	r := &Receiver{
		radio:      rad,
		advertiser: beacon.NewAdvertiser(rad, cfg.NetworkName, cfg.AdvertiseInterval, log),
		queue:      listener.NewQueue(cfg.QueueSize, cfg.RatePerMinute, log),
		peers:      peers,
		out:        out,
		led:        sig,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run advertises, listens and processes frames until ctx is done. It returns
// an error only if the radio listener fails.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	r.started = r.now()
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- r.radio.Listen(ctx, r.queue.Offer)
	}()
	go r.advertiser.Run(ctx)

	var heartbeat <-chan time.Time
	if r.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(r.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	r.log.Info().
		Str("mac", r.radio.LocalMAC().String()).
		Str("network", r.advertiser.Advertisement().NetworkName).
		Msg("Receiver ready")
	r.led.Trigger(led.Heartbeat)

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case err := <-listenErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("radio listener: %w", err)
			}
			return nil
		case d := <-r.queue.C():
			r.Handle(d)
		case <-heartbeat:
			r.led.Trigger(led.Heartbeat)
		}
	}
}

func (r *Receiver) drain() {
	for {
		select {
		case d := <-r.queue.C():
			r.Handle(d)
		default:
			return
		}
	}
}

// Handle processes one datagram: decode, record the sender, relay to the
// host, publish, and signal. A failure in one step does not skip the others.
func (r *Receiver) Handle(d radio.Datagram) error {
	frame, err := telemetry.Decode(d.Payload)
	if err != nil {
		r.malformed.Add(1)
		r.log.Warn().Err(err).Str("src", d.Source.String()).Msg("Dropping malformed frame")
		r.led.Trigger(led.Error)
		return err
	}

	now := d.ReceivedAt
	if now.IsZero() {
		now = r.now()
	}
	r.frames.Add(1)
	r.mu.Lock()
	r.lastFrame = now
	r.mu.Unlock()

	isNew, err := r.peers.Touch(d.Source.String(), now)
	if err != nil {
		r.touchFailures.Add(1)
		r.log.Error().Err(err).Str("mac", d.Source.String()).Msg("Failed to record peer")
	} else if isNew {
		r.log.Info().
			Str("mac", d.Source.String()).
			Str("serial", frame.SerialNumber).
			Str("machine", frame.MachineType).
			Msg("New transmitter")
	}

	if err := r.out.Forward(d.Payload); err != nil {
		r.serialFailures.Add(1)
		r.log.Warn().Err(err).Str("mac", d.Source.String()).Msg("Failed to forward frame to host")
	}

	if r.uplink != nil {
		r.uplink.Publish(d.Source, frame, now)
	}

	r.log.Debug().
		Str("mac", d.Source.String()).
		Str("gadget", frame.GadgetType).
		Str("cpu_temp", frame.CPUTemperature).
		Str("battery", frame.BatteryStatus).
		Str("payload", frame.Payload).
		Msg("Frame received")

	if cmd, ok := frame.LedCommand(); ok {
		r.led.Trigger(led.Command(led.Color{R: cmd.Red, G: cmd.Green, B: cmd.Blue}))
	} else {
		r.led.Trigger(led.MessageReceived)
	}
	return nil
}
