package beacon

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/radio"
)

// Advertiser broadcasts the receiver's advertisement on a fixed interval.
type Advertiser struct {
	radio    radio.Radio
	ad       Advertisement
	interval time.Duration
	log      zerolog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewAdvertiser advertises r's MAC under networkName. An empty name falls
// back to DefaultNetworkName.
func NewAdvertiser(r radio.Radio, networkName string, interval time.Duration, log zerolog.Logger) *Advertiser {
	if networkName == "" {
		networkName = DefaultNetworkName
	}
	return &Advertiser{
		radio:    r,
		ad:       Advertisement{MAC: r.LocalMAC(), NetworkName: networkName},
		interval: interval,
		log:      log,
	}
}

// Advertisement returns what is being broadcast.
func (a *Advertiser) Advertisement() Advertisement { return a.ad }

// Advertise broadcasts once. There is no acknowledgment.
func (a *Advertiser) Advertise() error {
	payload := a.ad.Encode()
	if err := a.radio.Broadcast(payload); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("broadcasting advertisement: %w", err)
	}
	a.sent.Add(1)
	a.log.Debug().
		Str("advertisement", a.ad.String()).
		Int("bytes", len(payload)).
		Msg("Advertisement broadcast")
	return nil
}

// Run broadcasts immediately and then every interval until ctx is done.
// Failures are logged and the loop continues.
func (a *Advertiser) Run(ctx context.Context) {
	a.log.Info().
		Str("mac", a.ad.MAC.String()).
		Str("network", a.ad.NetworkName).
		Dur("interval", a.interval).
		Msg("Advertiser started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Advertiser) tick() {
	if err := a.Advertise(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to send advertisement")
	}
}

// Counts returns the number of successful and failed broadcasts.
func (a *Advertiser) Counts() (sent, failed uint64) {
	return a.sent.Load(), a.failed.Load()
}
