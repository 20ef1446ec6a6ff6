package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileBackend stores the registry as a line table of "mac|YYMMDDTHHMMSS".
// Every save rewrites the whole file.
type FileBackend struct {
	path string
	loc  *time.Location
}

// NewFileBackend returns a backend for the table at path. Timestamps carry no
// zone and are read and written in loc (time.Local when nil).
func NewFileBackend(path string, loc *time.Location) *FileBackend {
	if loc == nil {
		loc = time.Local
	}
	return &FileBackend{path: path, loc: loc}
}

// Load reads the table. A missing file is an empty registry.
func (f *FileBackend) Load() (Snapshot, error) {
	snap := Snapshot{Records: make(map[string]PeerRecord)}

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, nil
		}
		return snap, fmt.Errorf("opening %s: %w", f.path, err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for lineNo := 1; ; lineNo++ {
		line, truncated, err := readLine(r, maxLineLength)
		if err != nil && !errors.Is(err, io.EOF) {
			return snap, fmt.Errorf("reading %s: %w", f.path, err)
		}

		text := strings.TrimSpace(line)
		switch {
		case truncated:
			snap.Skipped = append(snap.Skipped, &MalformedRecordError{
				Line:   lineNo,
				Text:   text,
				Reason: fmt.Sprintf("line longer than %d bytes", maxLineLength),
			})
		case text != "":
			rec, reason := f.parseLine(text)
			if reason != "" {
				snap.Skipped = append(snap.Skipped, &MalformedRecordError{Line: lineNo, Text: text, Reason: reason})
			} else {
				snap.Records[rec.MAC] = rec
			}
		}

		if err != nil {
			return snap, nil
		}
	}
}

// maxLineLength bounds a registry line; a record is well under 64 bytes.
const maxLineLength = 256

// readLine returns the next line without its terminator. Bytes past limit are
// discarded and the line is reported as truncated; the reader is left at the
// start of the following line. err is io.EOF on the last line.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	truncated := false
	for {
		chunk, err := r.ReadSlice('\n')
		chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		if len(buf)+len(chunk) > limit {
			truncated = true
			chunk = chunk[:limit-len(buf)]
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimSuffix(string(buf), "\r"), truncated, err
	}
}

func (f *FileBackend) parseLine(text string) (PeerRecord, string) {
	parts := strings.Split(text, "|")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return PeerRecord{}, fmt.Sprintf("want 2 non-empty fields, got %d", len(parts))
	}

	mac, err := NormalizeMAC(parts[0])
	if err != nil {
		return PeerRecord{}, fmt.Sprintf("bad MAC: %v", err)
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(parts[1]), f.loc)
	if err != nil {
		return PeerRecord{}, fmt.Sprintf("bad timestamp: %v", err)
	}
	return PeerRecord{MAC: mac, LastSeen: ts}, ""
}

// Save rewrites the table atomically: a temp file in the same directory is
// renamed over the old one.
func (f *FileBackend) Save(records map[string]PeerRecord) error {
	macs := make([]string, 0, len(records))
	for mac := range records {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	var buf bytes.Buffer
	for _, mac := range macs {
		fmt.Fprintf(&buf, "%s|%s\n", mac, records[mac].LastSeen.In(f.loc).Format(TimestampLayout))
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
