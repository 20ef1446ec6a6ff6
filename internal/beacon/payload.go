// Package beacon implements the receiver's periodic self-advertisement.
package beacon

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

// DefaultNetworkName is advertised when the receiver has no network name of
// its own. Transmitters bind to advertisements containing it.
const DefaultNetworkName = "PsGadget-CT"

// ErrMalformedAdvertisement is returned for payloads that are not
// "<mac>:<networkName>".
var ErrMalformedAdvertisement = errors.New("malformed advertisement")

// Advertisement announces a receiver's MAC and network name.
type Advertisement struct {
	MAC         net.HardwareAddr
	NetworkName string
}

// Encode renders the advertisement as "<mac>:<networkName>".
func (a Advertisement) Encode() []byte {
	return []byte(a.MAC.String() + ":" + a.NetworkName)
}

func (a Advertisement) String() string {
	return string(a.Encode())
}

// ParseAdvertisement splits the first six colon-separated groups off as the
// MAC. Everything after the sixth colon is the network name, which may itself
// contain colons.
func ParseAdvertisement(b []byte) (Advertisement, error) {
	if !utf8.Valid(b) {
		return Advertisement{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedAdvertisement)
	}
	parts := strings.SplitN(string(b), ":", 7)
	if len(parts) != 7 {
		return Advertisement{}, fmt.Errorf("%w: %q", ErrMalformedAdvertisement, b)
	}
	mac, err := net.ParseMAC(strings.Join(parts[:6], ":"))
	if err != nil || len(mac) != 6 {
		return Advertisement{}, fmt.Errorf("%w: bad MAC in %q", ErrMalformedAdvertisement, b)
	}
	return Advertisement{MAC: mac, NetworkName: parts[6]}, nil
}
