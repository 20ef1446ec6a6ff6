package radio

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Medium is an in-process broadcast domain. Radios joined to the same medium
// hear each other's broadcasts and may unicast to registered peers.
type Medium struct {
	mu     sync.RWMutex
	radios map[string]*MemoryRadio
}

// NewMedium returns an empty medium.
func NewMedium() *Medium {
	return &Medium{radios: make(map[string]*MemoryRadio)}
}

// Join attaches a new radio with the given MAC to the medium.
func (m *Medium) Join(mac net.HardwareAddr) *MemoryRadio {
	r := &MemoryRadio{
		medium: m,
		local:  mac,
		peers:  make(map[string]bool),
	}
	m.mu.Lock()
	m.radios[mac.String()] = r
	m.mu.Unlock()
	return r
}

func (m *Medium) deliver(from net.HardwareAddr, to *MemoryRadio, payload []byte) {
	to.mu.RLock()
	h := to.handler
	to.mu.RUnlock()
	if h == nil {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	h(Datagram{Source: from, Payload: data, ReceivedAt: time.Now()})
}

// MemoryRadio is a Radio attached to a Medium. Delivery happens on the
// sender's goroutine, like an interrupt firing on the receiving node.
type MemoryRadio struct {
	medium *Medium
	local  net.HardwareAddr

	mu      sync.RWMutex
	handler Handler
	peers   map[string]bool
	closed  bool
	failure error
}

func (r *MemoryRadio) LocalMAC() net.HardwareAddr { return r.local }

func (r *MemoryRadio) Broadcast(payload []byte) error {
	if err := r.check(payload); err != nil {
		return err
	}
	r.medium.mu.RLock()
	targets := make([]*MemoryRadio, 0, len(r.medium.radios))
	for _, other := range r.medium.radios {
		if other != r {
			targets = append(targets, other)
		}
	}
	r.medium.mu.RUnlock()

	for _, t := range targets {
		r.medium.deliver(r.local, t, payload)
	}
	return nil
}

func (r *MemoryRadio) AddPeer(mac net.HardwareAddr) error {
	r.medium.mu.RLock()
	_, ok := r.medium.radios[mac.String()]
	r.medium.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", mac, ErrUnknownPeer)
	}
	r.mu.Lock()
	r.peers[mac.String()] = true
	r.mu.Unlock()
	return nil
}

func (r *MemoryRadio) Send(mac net.HardwareAddr, payload []byte) error {
	if err := r.check(payload); err != nil {
		return err
	}
	r.mu.RLock()
	registered := r.peers[mac.String()]
	r.mu.RUnlock()
	if !registered {
		return fmt.Errorf("%s: %w", mac, ErrNotRegistered)
	}

	r.medium.mu.RLock()
	target, ok := r.medium.radios[mac.String()]
	r.medium.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", mac, ErrUnknownPeer)
	}
	r.medium.deliver(r.local, target, payload)
	return nil
}

func (r *MemoryRadio) check(payload []byte) error {
	r.mu.RLock()
	closed, fail := r.closed, r.failure
	r.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case fail != nil:
		return fail
	case len(payload) > MaxPayloadSize:
		return ErrPayloadTooLarge
	}
	return nil
}

// Listen installs h and blocks until ctx is done.
func (r *MemoryRadio) Listen(ctx context.Context, h Handler) error {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	r.handler = nil
	r.mu.Unlock()
	return nil
}

// Listening reports whether a handler is installed.
func (r *MemoryRadio) Listening() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler != nil
}

// SetFailSends toggles fault injection for outbound traffic.
func (r *MemoryRadio) SetFailSends(err error) {
	r.mu.Lock()
	r.failure = err
	r.mu.Unlock()
}

func (r *MemoryRadio) Close() error {
	r.mu.Lock()
	r.closed = true
	r.handler = nil
	r.mu.Unlock()

	r.medium.mu.Lock()
	delete(r.medium.radios, r.local.String())
	r.medium.mu.Unlock()
	return nil
}
