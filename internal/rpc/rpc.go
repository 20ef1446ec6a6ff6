// Package rpc provides Unix socket IPC between a running receiver and the
// peers CLI.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/receiver"
	"psgadget/internal/store"
)

// PeerLister is the registry view served to clients.
type PeerLister interface {
	Peers(now time.Time, threshold time.Duration) []store.PeerStatus
}

// StatusSource reports receiver counters.
type StatusSource interface {
	Status() receiver.Status
}

// Service is the RPC service exposed by the receiver.
type Service struct {
	peers     PeerLister
	status    StatusSource
	threshold time.Duration
	log       zerolog.Logger
}

// NewService serves peers and status. Peers seen within threshold are
// reported as active.
func NewService(peers PeerLister, status StatusSource, threshold time.Duration, log zerolog.Logger) *Service {
	return &Service{peers: peers, status: status, threshold: threshold, log: log}
}

// ListPeersArgs is the request for ListPeers.
type ListPeersArgs struct{}

// ListPeersReply is the response for ListPeers.
type ListPeersReply struct {
	Peers []store.PeerStatus
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	Status receiver.Status
}

// ListPeers returns every known peer with its active flag.
func (s *Service) ListPeers(args *ListPeersArgs, reply *ListPeersReply) error {
	reply.Peers = s.peers.Peers(time.Now(), s.threshold)
	return nil
}

// Status returns the receiver's counters.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	if s.status == nil {
		return errors.New("status not available")
	}
	reply.Status = s.status.Status()
	return nil
}

// StartServer listens on socketPath and serves svc until ctx is done, then
// closes the listener and removes the socket.
func StartServer(ctx context.Context, socketPath string, svc *Service, log zerolog.Logger) error {
	server := netrpc.NewServer()
	if err := server.RegisterName("Service", svc); err != nil {
		return fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove a stale socket left by a previous run.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(socketPath)
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return nil
}

// Client is a client for the receiver RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListPeers fetches all known peers from the receiver.
func (c *Client) ListPeers() ([]store.PeerStatus, error) {
	reply := &ListPeersReply{}
	if err := c.client.Call("Service.ListPeers", &ListPeersArgs{}, reply); err != nil {
		return nil, err
	}
	return reply.Peers, nil
}

// Status fetches the receiver's counters.
func (c *Client) Status() (receiver.Status, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{}, reply); err != nil {
		return receiver.Status{}, err
	}
	return reply.Status, nil
}
