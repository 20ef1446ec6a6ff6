package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testBolt(t *testing.T) (*BoltBackend, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	b, err := NewBoltBackend(dbPath)
	if err != nil {
		t.Fatalf("failed to create bolt backend: %v", err)
	}
	return b, func() {
		b.Close()
		os.Remove(dbPath)
	}
}

func TestBolt_SaveAndLoad(t *testing.T) {
	b, cleanup := testBolt(t)
	defer cleanup()

	seen := time.Date(2024, 10, 1, 12, 30, 0, 0, time.UTC)
	records := map[string]PeerRecord{
		"aa:bb:cc:dd:ee:01": {MAC: "aa:bb:cc:dd:ee:01", LastSeen: seen},
		"aa:bb:cc:dd:ee:02": {MAC: "aa:bb:cc:dd:ee:02", LastSeen: seen.Add(time.Minute)},
	}
	if err := b.Save(records); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	snap, err := b.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap.Records))
	}
	if !snap.Records["aa:bb:cc:dd:ee:02"].LastSeen.Equal(seen.Add(time.Minute)) {
		t.Errorf("LastSeen: got %v", snap.Records["aa:bb:cc:dd:ee:02"].LastSeen)
	}
	if len(snap.Skipped) != 0 {
		t.Errorf("expected no skipped records, got %d", len(snap.Skipped))
	}
}

func TestBolt_SaveIsFullRewrite(t *testing.T) {
	b, cleanup := testBolt(t)
	defer cleanup()

	now := time.Now()
	b.Save(map[string]PeerRecord{
		"aa:bb:cc:dd:ee:01": {MAC: "aa:bb:cc:dd:ee:01", LastSeen: now},
		"aa:bb:cc:dd:ee:02": {MAC: "aa:bb:cc:dd:ee:02", LastSeen: now},
	})
	b.Save(map[string]PeerRecord{
		"aa:bb:cc:dd:ee:03": {MAC: "aa:bb:cc:dd:ee:03", LastSeen: now},
	})

	snap, err := b.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("expected 1 record after rewrite, got %d", len(snap.Records))
	}
	if _, ok := snap.Records["aa:bb:cc:dd:ee:03"]; !ok {
		t.Error("expected aa:bb:cc:dd:ee:03 to survive the rewrite")
	}
}

func TestBolt_RegistryReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "peers.db")

	b, err := NewBoltBackend(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	reg, err := Open(b, testLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if _, err := reg.Touch("AA:BB:CC:DD:EE:FF", time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	reg.Close()

	b2, err := NewBoltBackend(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reg2, err := Open(b2, testLogger())
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	defer reg2.Close()

	if _, ok := reg2.Lookup("aa:bb:cc:dd:ee:ff"); !ok {
		t.Error("expected peer to persist across reopen")
	}
}
