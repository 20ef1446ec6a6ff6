package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	macSize       = 6
	maxPacketSize = macSize + MaxPayloadSize
)

// UDP emulates the ESP-NOW link on a LAN segment. Every datagram carries the
// sender MAC in its first six bytes; unicast addresses are learned from
// received traffic.
type UDP struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	local     net.HardwareAddr
	log       zerolog.Logger

	mu      sync.RWMutex
	learned map[string]*net.UDPAddr
	peers   map[string]bool
}

// ListenUDP binds the node socket on port and resolves the broadcast address
// of networkRange.
func ListenUDP(local net.HardwareAddr, networkRange string, port int, log zerolog.Logger) (*UDP, error) {
	if len(local) != macSize {
		return nil, fmt.Errorf("local MAC %q must be 6 bytes", local)
	}

	_, ipNet, err := net.ParseCIDR(networkRange)
	if err != nil {
		return nil, fmt.Errorf("parsing network range: %w", err)
	}
	broadcastIP := BroadcastIP(ipNet)
	if broadcastIP == nil {
		return nil, fmt.Errorf("network range %s is not IPv4", networkRange)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listening on UDP port %d: %w", port, err)
	}

	// Single-hop range: datagrams must not be routed off the segment.
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(1); err != nil {
		log.Warn().Err(err).Msg("Failed to set unicast TTL")
	}
	if err := conn.SetReadBuffer(maxPacketSize * 32); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	return &UDP{
		conn:      conn,
		broadcast: &net.UDPAddr{IP: broadcastIP, Port: port},
		local:     local,
		log:       log,
		learned:   make(map[string]*net.UDPAddr),
		peers:     make(map[string]bool),
	}, nil
}

func (u *UDP) LocalMAC() net.HardwareAddr { return u.local }

func (u *UDP) Broadcast(payload []byte) error {
	return u.write(u.broadcast, payload)
}

// AddPeer registers mac for unicast. The peer must have been heard first so
// its UDP address is known.
func (u *UDP) AddPeer(mac net.HardwareAddr) error {
	key := mac.String()
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.learned[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownPeer)
	}
	u.peers[key] = true
	return nil
}

func (u *UDP) Send(mac net.HardwareAddr, payload []byte) error {
	key := mac.String()
	u.mu.RLock()
	addr, known := u.learned[key]
	registered := u.peers[key]
	u.mu.RUnlock()

	if !registered {
		return fmt.Errorf("%s: %w", key, ErrNotRegistered)
	}
	if !known {
		return fmt.Errorf("%s: %w", key, ErrUnknownPeer)
	}
	return u.write(addr, payload)
}

func (u *UDP) write(addr *net.UDPAddr, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	packet := make([]byte, 0, macSize+len(payload))
	packet = append(packet, u.local...)
	packet = append(packet, payload...)

	if _, err := u.conn.WriteToUDP(packet, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("writing packet to %s: %w", addr, err)
	}
	return nil
}

// Listen reads datagrams until ctx is done or the socket is closed. The
// handler runs on this goroutine.
func (u *UDP) Listen(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = u.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, maxPacketSize+1)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrClosed
			}
			u.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}
		if n <= macSize || n > maxPacketSize {
			u.log.Debug().Str("src", src.String()).Int("bytes", n).Msg("Discarding datagram with bad size")
			continue
		}

		mac := make(net.HardwareAddr, macSize)
		copy(mac, buf[:macSize])
		if SameMAC(mac, u.local) {
			continue
		}

		u.mu.Lock()
		u.learned[mac.String()] = src
		u.mu.Unlock()

		payload := make([]byte, n-macSize)
		copy(payload, buf[macSize:n])
		h(Datagram{Source: mac, Payload: payload, ReceivedAt: time.Now()})
	}
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

// BroadcastIP returns the directed broadcast address of an IPv4 network.
func BroadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	broadcastIP := make(net.IP, len(ip))
	for i := range ip {
		broadcastIP[i] = ip[i] | ^mask[i]
	}
	return broadcastIP
}
