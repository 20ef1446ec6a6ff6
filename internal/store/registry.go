// Package store provides the receiver's persistent registry of known peers.
package store

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimestampLayout is the on-disk last-seen format, YYMMDDTHHMMSS.
const TimestampLayout = "060102T150405"

// PeerRecord is one known transmitter.
type PeerRecord struct {
	MAC      string    `msgpack:"mac"`
	LastSeen time.Time `msgpack:"last_seen"`
}

// PeerStatus is a PeerRecord annotated for listing.
type PeerStatus struct {
	PeerRecord
	Active bool
}

// Snapshot is the result of loading a backend.
type Snapshot struct {
	Records map[string]PeerRecord
	Skipped []*MalformedRecordError
}

// Backend persists the registry table.
type Backend interface {
	Load() (Snapshot, error)
	// Save rewrites the whole table.
	Save(records map[string]PeerRecord) error
	Close() error
}

// MalformedRecordError reports a persisted record that could not be read.
type MalformedRecordError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed registry record at line %d (%q): %s", e.Line, e.Text, e.Reason)
}

// NormalizeMAC returns the canonical lowercase colon form of a MAC address.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", err
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("MAC %q is not 6 bytes", mac)
	}
	return hw.String(), nil
}

// Registry is the in-memory view of known peers backed by a Backend. The
// receiver is its only writer.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]PeerRecord
	backend Backend
	log     zerolog.Logger

	// snapshotting defers persistence to Flush.
	snapshotting bool
	dirty        bool
}

// Open loads the backend into a new registry. Malformed records are logged
// and skipped.
func Open(backend Backend, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		peers:   make(map[string]PeerRecord),
		backend: backend,
		log:     log,
	}
	if _, err := r.LoadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// Close flushes pending changes and closes the backend.
func (r *Registry) Close() error {
	if err := r.Flush(); err != nil {
		r.log.Error().Err(err).Msg("Final registry flush failed")
	}
	return r.backend.Close()
}

// Lookup returns the record for mac, if known.
func (r *Registry) Lookup(mac string) (PeerRecord, bool) {
	key, err := NormalizeMAC(mac)
	if err != nil {
		return PeerRecord{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[key]
	return rec, ok
}

// Touch records a sighting of mac at now and reports whether the MAC was
// previously unknown. The table is persisted immediately unless periodic
// snapshotting is enabled.
func (r *Registry) Touch(mac string, now time.Time) (bool, error) {
	key, err := NormalizeMAC(mac)
	if err != nil {
		return false, fmt.Errorf("touching peer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.peers[key]
	r.peers[key] = PeerRecord{MAC: key, LastSeen: now.Truncate(time.Second)}

	if known {
		r.log.Debug().Str("mac", key).Msg("Peer updated")
	} else {
		r.log.Info().Str("mac", key).Msg("New peer discovered")
	}

	if r.snapshotting {
		r.dirty = true
		return !known, nil
	}
	if err := r.backend.Save(r.copyLocked()); err != nil {
		return !known, fmt.Errorf("persisting registry: %w", err)
	}
	return !known, nil
}

// LoadAll replaces the in-memory view with the backend contents.
func (r *Registry) LoadAll() (map[string]PeerRecord, error) {
	snap, err := r.backend.Load()
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	for _, skipped := range snap.Skipped {
		r.log.Warn().
			Int("line", skipped.Line).
			Str("record", skipped.Text).
			Str("reason", skipped.Reason).
			Msg("Skipping malformed registry record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = snap.Records
	if r.peers == nil {
		r.peers = make(map[string]PeerRecord)
	}
	r.dirty = false
	return r.copyLocked(), nil
}

// Persist replaces the registry with records and rewrites the backend. Keys
// are normalized; records with an unparseable MAC are dropped.
func (r *Registry) Persist(records map[string]PeerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make(map[string]PeerRecord, len(records))
	for k, v := range records {
		mac, err := NormalizeMAC(k)
		if err != nil {
			r.log.Warn().Err(err).Str("mac", k).Msg("Dropping record with invalid MAC")
			continue
		}
		v.MAC = mac
		peers[mac] = v
	}
	if err := r.backend.Save(peers); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}
	r.peers = peers
	r.dirty = false
	return nil
}

// Flush writes pending changes when snapshotting.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	if err := r.backend.Save(r.copyLocked()); err != nil {
		return fmt.Errorf("flushing registry: %w", err)
	}
	r.dirty = false
	return nil
}

// RunFlusher switches the registry to periodic snapshotting and flushes
// every interval until ctx is done, then flushes once more.
func (r *Registry) RunFlusher(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	r.snapshotting = true
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				r.log.Error().Err(err).Msg("Registry flush failed")
			}
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.log.Error().Err(err).Msg("Registry flush failed")
			}
		}
	}
}

// Peers lists all records sorted by MAC, marking those seen within
// threshold of now as active.
func (r *Registry) Peers(now time.Time, threshold time.Duration) []PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := now.Add(-threshold)
	out := make([]PeerStatus, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, PeerStatus{PeerRecord: rec, Active: !rec.LastSeen.Before(cutoff)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) copyLocked() map[string]PeerRecord {
	out := make(map[string]PeerRecord, len(r.peers))
	for k, v := range r.peers {
		out[k] = v
	}
	return out
}
