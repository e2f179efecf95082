package segment

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

// HintEntry is one (key, value location, timestamp) tuple recorded for a
// live key in a segment's .cpct hint file.
type HintEntry struct {
	Key       []byte
	Offset    int64
	Length    int64
	Timestamp uint64
}

// WriteHint writes entries to a new hint file at path, prefixed with an
// xxh3 checksum covering the entry bytes. The hint is advisory: a reader
// that fails to validate it falls back to a full segment scan.
func WriteHint(path string, entries []HintEntry) error {
	var body []byte
	for _, e := range entries {
		rec := make([]byte, 4+len(e.Key)+8+4+8)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(len(e.Key)))
		copy(rec[4:4+len(e.Key)], e.Key)
		o := 4 + len(e.Key)
		binary.LittleEndian.PutUint64(rec[o:o+8], uint64(e.Offset))
		binary.LittleEndian.PutUint32(rec[o+8:o+12], uint32(e.Length))
		binary.LittleEndian.PutUint64(rec[o+12:o+20], e.Timestamp)
		body = append(body, rec...)
	}

	checksum := xxh3.Hash(body)
	out := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(out[:8], checksum)
	copy(out[8:], body)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("hint: create %q: %w: %v", path, kverrors.ErrIO, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("hint: write %q: %w: %v", path, kverrors.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("hint: sync %q: %w: %v", path, kverrors.ErrIO, err)
	}
	return nil
}

// ReadHint reads and validates a hint file written by WriteHint. A checksum
// mismatch or structural corruption returns ErrCorruptRecord; callers treat
// this as "no hint available" and fall back to scanning the segment.
func ReadHint(path string) ([]HintEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hint: read %q: %w: %v", path, kverrors.ErrIO, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("hint: %q shorter than checksum: %w", path, kverrors.ErrCorruptRecord)
	}

	checksum := binary.LittleEndian.Uint64(data[:8])
	body := data[8:]
	if computed := xxh3.Hash(body); computed != checksum {
		return nil, fmt.Errorf("hint: %q checksum mismatch: %w", path, kverrors.ErrCorruptRecord)
	}

	var entries []HintEntry
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("hint: %q truncated entry: %w", path, kverrors.ErrCorruptRecord)
		}
		keyLen := int(binary.LittleEndian.Uint32(body[0:4]))
		need := 4 + keyLen + 8 + 4 + 8
		if len(body) < need {
			return nil, fmt.Errorf("hint: %q truncated entry: %w", path, kverrors.ErrCorruptRecord)
		}

		key := make([]byte, keyLen)
		copy(key, body[4:4+keyLen])
		o := 4 + keyLen
		offset := int64(binary.LittleEndian.Uint64(body[o : o+8]))
		length := int64(binary.LittleEndian.Uint32(body[o+8 : o+12]))
		timestamp := binary.LittleEndian.Uint64(body[o+12 : o+20])

		entries = append(entries, HintEntry{Key: key, Offset: offset, Length: length, Timestamp: timestamp})
		body = body[need:]
	}

	return entries, nil
}
