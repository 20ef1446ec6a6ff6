// Package listener implements the receive side of a node: the radio callback
// hands datagrams to a bounded queue that the main loop drains.
package listener

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/radio"
)

const defaultQueueSize = 64

// rateTracker tracks per-source packet counts for rate limiting.
type rateTracker struct {
	counts    map[string]int
	resetTime time.Time
	limit     int
}

// allow counts one packet from src and reports whether it is within the
// per-minute limit. A zero limit disables limiting.
func (t *rateTracker) allow(src string, now time.Time) bool {
	if t.limit <= 0 {
		return true
	}
	if now.After(t.resetTime) {
		t.counts = make(map[string]int)
		t.resetTime = now.Add(time.Minute)
	}
	t.counts[src]++
	return t.counts[src] <= t.limit
}

// Queue is a bounded hand-off between the radio receive path and the main
// loop. Offer never blocks.
type Queue struct {
	ch  chan radio.Datagram
	log zerolog.Logger

	mu      sync.Mutex
	tracker rateTracker

	dropped  atomic.Uint64
	limited  atomic.Uint64
	accepted atomic.Uint64
}

// NewQueue creates a queue holding up to size datagrams. ratePerMinute caps
// datagrams accepted per source MAC; zero disables the cap.
func NewQueue(size, ratePerMinute int, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		ch:  make(chan radio.Datagram, size),
		log: log,
		tracker: rateTracker{
			counts:    make(map[string]int),
			resetTime: time.Now().Add(time.Minute),
			limit:     ratePerMinute,
		},
	}
}

// Offer is a radio.Handler. It drops the datagram when the source exceeded
// its rate or the queue is full.
func (q *Queue) Offer(d radio.Datagram) {
	src := d.Source.String()

	q.mu.Lock()
	ok := q.tracker.allow(src, d.ReceivedAt)
	q.mu.Unlock()
	if !ok {
		q.limited.Add(1)
		q.log.Warn().Str("src_mac", src).Msg("Rate limit exceeded, dropping datagram")
		return
	}

	select {
	case q.ch <- d:
		q.accepted.Add(1)
	default:
		q.dropped.Add(1)
		q.log.Warn().Str("src_mac", src).Msg("Receive queue full, dropping datagram")
	}
}

// C returns the channel the main loop consumes.
func (q *Queue) C() <-chan radio.Datagram { return q.ch }

// Stats is a snapshot of queue counters.
type Stats struct {
	Accepted    uint64
	Dropped     uint64
	RateLimited uint64
	Pending     int
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Accepted:    q.accepted.Load(),
		Dropped:     q.dropped.Load(),
		RateLimited: q.limited.Load(),
		Pending:     len(q.ch),
	}
}
