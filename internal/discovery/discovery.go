// Package discovery implements the transmitter's scan-and-bind state machine.
package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/beacon"
	"psgadget/internal/led"
	"psgadget/internal/listener"
	"psgadget/internal/radio"
)

const (
	defaultScanInterval       = time.Second
	defaultNoReceiverInterval = 10 * time.Second
	scanQueueSize             = 32
)

// Phase of a binding.
type Phase int

const (
	Searching Phase = iota
	Bound
)

func (p Phase) String() string {
	if p == Bound {
		return "bound"
	}
	return "searching"
}

// BindingState is Searching, or Bound to Receiver.
type BindingState struct {
	Phase    Phase
	Receiver net.HardwareAddr
}

func (s BindingState) String() string {
	if s.Phase == Bound {
		return "bound(" + s.Receiver.String() + ")"
	}
	return s.Phase.String()
}

// Binder learns the receiver's address from its advertisements. Once bound it
// stays bound for the life of the process.
type Binder struct {
	radio radio.Radio
	match string
	log   zerolog.Logger

	scanInterval       time.Duration
	noReceiverInterval time.Duration
	led                *led.Machine

	mu    sync.Mutex
	state BindingState
}

// Option configures a Binder.
type Option func(*Binder)

// WithScanInterval sets how often pending broadcasts are examined.
func WithScanInterval(d time.Duration) Option {
	return func(b *Binder) {
		if d > 0 {
			b.scanInterval = d
		}
	}
}

// WithNoReceiverInterval sets how long to search before each "no receiver"
// cue. Zero disables the cue.
func WithNoReceiverInterval(d time.Duration) Option {
	return func(b *Binder) { b.noReceiverInterval = d }
}

// WithLED signals search progress on m.
func WithLED(m *led.Machine) Option {
	return func(b *Binder) { b.led = m }
}

// NewBinder returns a Binder in the Searching state that accepts
// advertisements whose network name contains match.
func NewBinder(r radio.Radio, match string, log zerolog.Logger, opts ...Option) *Binder {
	if match == "" {
		match = beacon.DefaultNetworkName
	}
	b := &Binder{
		radio:              r,
		match:              match,
		log:                log,
		scanInterval:       defaultScanInterval,
		noReceiverInterval: defaultNoReceiverInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current binding state.
func (b *Binder) State() BindingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Offer examines one inbound datagram and reports whether it caused the
// transition to Bound. Unparsable or non-matching datagrams are ignored, as is
// everything once bound.
func (b *Binder) Offer(d radio.Datagram) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Phase == Bound {
		return false
	}

	ad, err := beacon.ParseAdvertisement(d.Payload)
	if err != nil {
		b.log.Debug().Str("src", d.Source.String()).Msg("Ignoring non-advertisement broadcast")
		return false
	}
	if !strings.Contains(ad.NetworkName, b.match) {
		b.log.Debug().
			Str("src", d.Source.String()).
			Str("network", ad.NetworkName).
			Msg("Ignoring advertisement for another network")
		return false
	}

	if err := b.radio.AddPeer(ad.MAC); err != nil {
		b.log.Warn().Err(err).Str("receiver", ad.MAC.String()).Msg("Failed to register receiver as peer")
		return false
	}

	b.state = BindingState{Phase: Bound, Receiver: ad.MAC}
	b.log.Info().
		Str("receiver", ad.MAC.String()).
		Str("network", ad.NetworkName).
		Msg("Bound to receiver")
	return true
}

// Run listens for advertisements until bound or ctx is done. Pending
// broadcasts are examined every scan interval. There is no timeout.
func (b *Binder) Run(ctx context.Context) (net.HardwareAddr, error) {
	if s := b.State(); s.Phase == Bound {
		return s.Receiver, nil
	}

	queue := listener.NewQueue(scanQueueSize, 0, b.log)

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go func() {
		if err := b.radio.Listen(listenCtx, queue.Offer); err != nil {
			b.log.Error().Err(err).Msg("Radio listener stopped")
		}
	}()

	b.log.Info().
		Str("match", b.match).
		Dur("scan_interval", b.scanInterval).
		Msg("Scanning for receiver")

	scan := time.NewTicker(b.scanInterval)
	defer scan.Stop()

	var lonely <-chan time.Time
	if b.noReceiverInterval > 0 {
		t := time.NewTicker(b.noReceiverInterval)
		defer t.Stop()
		lonely = t.C
	}
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-scan.C:
			if mac, ok := b.drain(queue); ok {
				return mac, nil
			}
		case <-lonely:
			b.log.Warn().Dur("searching_for", time.Since(started).Round(time.Second)).Msg("No receiver found yet")
			if b.led != nil {
				b.led.Trigger(led.NoReceiver)
			}
		}
	}
}

func (b *Binder) drain(queue *listener.Queue) (net.HardwareAddr, bool) {
	for {
		select {
		case d := <-queue.C():
			if b.Offer(d) {
				return b.State().Receiver, true
			}
		default:
			return nil, false
		}
	}
}
