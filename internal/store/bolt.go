package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var peersBucket = []byte("peers")

// BoltBackend stores peer records in a BoltDB bucket keyed by MAC address,
// values encoded with MessagePack.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens or creates a BoltDB file at the given path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// Ensure the peers bucket exists
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating peers bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Close closes the underlying BoltDB.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// Load reads every record. Entries that fail to decode are skipped.
func (b *BoltBackend) Load() (Snapshot, error) {
	snap := Snapshot{Records: make(map[string]PeerRecord)}
	line := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(peersBucket)
		return bucket.ForEach(func(k, v []byte) error {
			line++
			var rec PeerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				snap.Skipped = append(snap.Skipped, &MalformedRecordError{Line: line, Text: string(k), Reason: err.Error()})
				return nil
			}
			mac, err := NormalizeMAC(string(k))
			if err != nil {
				snap.Skipped = append(snap.Skipped, &MalformedRecordError{Line: line, Text: string(k), Reason: err.Error()})
				return nil
			}
			rec.MAC = mac
			snap.Records[mac] = rec
			return nil
		})
	})
	if err != nil {
		return snap, fmt.Errorf("reading peers bucket: %w", err)
	}
	return snap, nil
}

// Save replaces the bucket contents with records in a single transaction.
func (b *BoltBackend) Save(records map[string]PeerRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(peersBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("clearing peers bucket: %w", err)
		}
		bucket, err := tx.CreateBucket(peersBucket)
		if err != nil {
			return fmt.Errorf("creating peers bucket: %w", err)
		}

		for mac, rec := range records {
			data, err := msgpack.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshaling peer record %s: %w", mac, err)
			}
			if err := bucket.Put([]byte(mac), data); err != nil {
				return err
			}
		}
		return nil
	})
}
