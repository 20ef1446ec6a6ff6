// Package radio abstracts the connectionless peer-to-peer link between nodes.
package radio

import (
	"context"
	"errors"
	"net"
	"time"
)

// MaxPayloadSize mirrors the ESP-NOW per-datagram limit.
const MaxPayloadSize = 250

// BroadcastMAC addresses every reachable node.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

var (
	ErrPayloadTooLarge = errors.New("payload exceeds radio datagram size")
	ErrUnknownPeer     = errors.New("peer address not known")
	ErrNotRegistered   = errors.New("peer not registered")
	ErrClosed          = errors.New("radio closed")
)

// Datagram is one inbound radio message.
type Datagram struct {
	Source     net.HardwareAddr
	Payload    []byte
	ReceivedAt time.Time
}

// Handler is invoked for every inbound datagram. It runs on the radio's
// receive path and must return quickly.
type Handler func(Datagram)

// Radio is the link used by both node roles.
type Radio interface {
	LocalMAC() net.HardwareAddr
	// Broadcast sends to every reachable node, no acknowledgment.
	Broadcast(payload []byte) error
	// AddPeer registers a MAC as a unicast destination.
	AddPeer(mac net.HardwareAddr) error
	// Send unicasts to a registered peer.
	Send(mac net.HardwareAddr, payload []byte) error
	// Listen delivers inbound datagrams to h until ctx is done.
	Listen(ctx context.Context, h Handler) error
	Close() error
}

// SameMAC reports whether two hardware addresses are equal.
func SameMAC(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
