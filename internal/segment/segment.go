// Package segment wraps a single append-only on-disk segment file: the
// fundamental storage unit the engine appends records to, reads values from,
// and eventually compacts away.
package segment

import (
	"fmt"
	"os"

	"github.com/epokhe/kvengine/internal/record"
	"github.com/epokhe/kvengine/pkg/kverrors"
)

// Segment is a single append-only file identified by a monotonically
// increasing id. It tracks its own logical length so Size never needs to
// re-stat the file on the hot path.
type Segment struct {
	ID   uint64
	file *os.File
	size int64
}

// Create creates a brand-new, empty segment file at path for id. The caller
// owns closing it.
func Create(path string, id uint64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: create %q: %w: %v", path, kverrors.ErrIO, err)
	}
	return &Segment{ID: id, file: f}, nil
}

// Open opens an existing segment file at path for id, sizing it from the
// filesystem. Callers that plan to trust this size (rather than rescanning
// for corruption) should only do so for segments already known-clean.
func Open(path string, id uint64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open %q: %w: %v", path, kverrors.ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("segment: stat %q: %w: %v", path, kverrors.ErrIO, err)
	}

	return &Segment{ID: id, file: f, size: info.Size()}, nil
}

// Append writes buf contiguously at the end of the segment and returns the
// offset at which it began.
func (s *Segment) Append(buf []byte) (int64, error) {
	off := s.size

	n, err := s.file.WriteAt(buf, off)
	if err != nil {
		return 0, fmt.Errorf("segment %d: append: %w: %v", s.ID, kverrors.ErrIO, err)
	}

	s.size += int64(n)
	return off, nil
}

// ReadAt reads exactly length bytes starting at offset.
func (s *Segment) ReadAt(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > s.size {
		return nil, fmt.Errorf("segment %d: read [%d,%d) past size %d: %w", s.ID, offset, offset+length, s.size, kverrors.ErrOutOfRange)
	}

	buf := make([]byte, length)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("segment %d: read at %d: %w: %v", s.ID, offset, kverrors.ErrIO, err)
	}
	return buf, nil
}

// ReadRecordAt reads and decodes the full record (header included) whose
// value begins at valueOffset, given the key length stashed in the index
// entry. Used only by the VerifyReads hot-path exception and by compaction,
// which needs the full record to rewrite it.
func (s *Segment) ReadRecordAt(valueOffset int64, keyLen, valueLen uint32, verify bool) (record.Record, error) {
	recordStart := valueOffset - int64(record.HeaderLen) - int64(keyLen)
	total := int64(record.HeaderLen) + int64(keyLen) + int64(valueLen)

	buf, err := s.ReadAt(recordStart, total)
	if err != nil {
		return record.Record{}, err
	}
	return record.Decode(buf, verify)
}

// Sync flushes the segment's data to durable storage.
func (s *Segment) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("segment %d: sync: %w: %v", s.ID, kverrors.ErrIO, err)
	}
	return nil
}

// Size returns the segment's current logical length.
func (s *Segment) Size() int64 { return s.size }

// Truncate shrinks the segment to the given length, used during recovery to
// discard a truncated tail record from the highest-id segment.
func (s *Segment) Truncate(length int64) error {
	if err := s.file.Truncate(length); err != nil {
		return fmt.Errorf("segment %d: truncate to %d: %w: %v", s.ID, length, kverrors.ErrIO, err)
	}
	s.size = length
	return nil
}

// Rename atomically renames the underlying file to newPath. The Segment
// keeps using the same open file descriptor; only the directory entry moves.
func (s *Segment) Rename(newPath string) error {
	if err := os.Rename(s.file.Name(), newPath); err != nil {
		return fmt.Errorf("segment %d: rename to %q: %w: %v", s.ID, newPath, kverrors.ErrIO, err)
	}
	return nil
}

// Remove closes the segment's file and unlinks the path reported by Path.
func (s *Segment) Remove() error {
	path := s.file.Name()
	_ = s.file.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("segment %d: remove %q: %w: %v", s.ID, path, kverrors.ErrIO, err)
	}
	return nil
}

// Close closes the segment's file descriptor without removing it.
func (s *Segment) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("segment %d: close: %w: %v", s.ID, kverrors.ErrIO, err)
	}
	return nil
}

// Path returns the path the segment's file was created or opened at. Rename
// does not update it: after a Rename, Path and Remove still use the old name.
func (s *Segment) Path() string { return s.file.Name() }
