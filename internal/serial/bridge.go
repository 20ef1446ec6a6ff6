// Package serial relays telemetry frames to the host over a serial link.
package serial

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Terminator ends every frame written to the host.
const Terminator = '\n'

const defaultQueueSize = 128

// ErrQueueFull is returned by Forward when the writer has fallen behind.
var ErrQueueFull = errors.New("serial queue full")

// Bridge queues frames and writes them to the host from a single goroutine.
// Write failures are logged and counted; they never reach the caller.
type Bridge struct {
	w     io.Writer
	queue chan []byte
	log   zerolog.Logger

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithQueueSize bounds the number of frames waiting to be written.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan []byte, n)
		}
	}
}

// NewBridge returns a bridge writing to w. Run must be started for frames to
// reach w.
func NewBridge(w io.Writer, log zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		w:     w,
		queue: make(chan []byte, defaultQueueSize),
		log:   log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Forward enqueues frame followed by the terminator. It never blocks.
func (b *Bridge) Forward(frame []byte) error {
	line := make([]byte, len(frame), len(frame)+1)
	copy(line, frame)
	return b.enqueue(append(line, Terminator))
}

func (b *Bridge) enqueue(line []byte) error {
	select {
	case b.queue <- line:
		return nil
	default:
		b.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run writes queued frames until ctx is done, then writes whatever is still
// queued and returns.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case line := <-b.queue:
			b.write(line)
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case line := <-b.queue:
			b.write(line)
		default:
			return
		}
	}
}

func (b *Bridge) write(line []byte) {
	if _, err := b.w.Write(line); err != nil {
		b.failed.Add(1)
		b.log.Warn().Err(err).Int("bytes", len(line)).Msg("Serial write failed, frame discarded")
		return
	}
	b.forwarded.Add(1)
}

// Stats counts frames by outcome.
type Stats struct {
	Forwarded uint64
	Dropped   uint64
	Failed    uint64
	Pending   int
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded: b.forwarded.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
		Pending:   len(b.queue),
	}
}

// maxCommandLength bounds a host command line. Longer lines are discarded.
const maxCommandLength = 256

// ServeCommands reads newline-terminated commands from the host. "status" is
// answered with status() on the outbound queue; anything else is logged and
// ignored. It returns when r is exhausted or ctx is done; a blocked read only
// notices ctx once the next line arrives or r is closed.
func (b *Bridge) ServeCommands(ctx context.Context, r io.Reader, status func() string) error {
	br := bufio.NewReader(r)
	for {
		line, truncated, err := readLine(br, maxCommandLength)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		cmd := strings.TrimSpace(line)
		switch {
		case truncated:
			b.log.Warn().Int("limit", maxCommandLength).Msg("Discarding over-long host command")
		case cmd == "":
		case cmd == "status":
			if err := b.enqueue([]byte(status() + string(Terminator))); err != nil {
				b.log.Warn().Err(err).Msg("Dropping status reply")
			}
		default:
			b.log.Debug().Str("command", cmd).Msg("Ignoring unknown host command")
		}

		if err != nil {
			return nil
		}
	}
}

// readLine returns the next line without its terminator, keeping at most
// limit bytes. The rest of a longer line is consumed and reported as
// truncated. err is io.EOF once r is exhausted.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	truncated := false
	for {
		chunk, err := r.ReadSlice(Terminator)
		chunk = bytes.TrimSuffix(chunk, []byte{Terminator})
		if len(buf)+len(chunk) > limit {
			truncated = true
			chunk = chunk[:limit-len(buf)]
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), truncated, err
	}
}
