package receiver

import (
	"fmt"
	"time"

	"psgadget/internal/listener"
)

// Status is a point-in-time summary of the receiver.
type Status struct {
	MAC            string
	NetworkName    string
	Uptime         time.Duration
	Peers          int
	Frames         uint64
	Malformed      uint64
	TouchFailures  uint64
	SerialFailures uint64
	Advertisements uint64
	LastFrame      time.Time
	Queue          listener.Stats
}

// Status reports counters and queue state.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	started, last := r.started, r.lastFrame
	r.mu.Unlock()

	sent, _ := r.advertiser.Counts()
	s := Status{
		MAC:            r.radio.LocalMAC().String(),
		NetworkName:    r.advertiser.Advertisement().NetworkName,
		Peers:          r.peers.Len(),
		Frames:         r.frames.Load(),
		Malformed:      r.malformed.Load(),
		TouchFailures:  r.touchFailures.Load(),
		SerialFailures: r.serialFailures.Load(),
		Advertisements: sent,
		LastFrame:      last,
		Queue:          r.queue.Stats(),
	}
	if !started.IsZero() {
		s.Uptime = r.now().Sub(started).Round(time.Second)
	}
	return s
}

// StatusLine is the one-line reply to the host's "status" command.
func (r *Receiver) StatusLine() string {
	s := r.Status()
	return fmt.Sprintf("PsGadget receiver status: Active peers=%d frames=%d malformed=%d", s.Peers, s.Frames, s.Malformed)
}
