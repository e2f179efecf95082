package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

// ScannedRecord is a Record plus the offset it starts at within the
// underlying reader, which the recovery path needs to build index entries.
type ScannedRecord struct {
	Record
	Offset int64
}

// Scanner is a buffered, forward-only reader of records from offset 0 of an
// io.ReaderAt. It never touches the caller's file position.
type Scanner struct {
	r       *bufio.Reader
	verify  bool
	end     int64
	current ScannedRecord
	err     error
}

// NewScanner wraps r for sequential record scanning starting at offset 0.
func NewScanner(r io.ReaderAt, verify bool) *Scanner {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(r, 0, maxInt64)
	return &Scanner{r: bufio.NewReader(sr), verify: verify}
}

// Scan advances to the next record, returning false at a clean EOF or on
// error. Callers must check Err after Scan returns false to distinguish a
// clean end-of-segment from ErrTruncatedTail or ErrCorruptRecord.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}

	isEOF := func(err error) bool {
		return err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
	}

	hdr := make([]byte, HeaderLen)
	if _, err := io.ReadFull(s.r, hdr); err != nil {
		switch {
		case err == io.EOF:
			// A clean EOF here is the happy path: every prior record was whole.
		case errors.Is(err, io.ErrUnexpectedEOF):
			// Only part of a header was written before the process died.
			s.err = fmt.Errorf("record: partial header at offset %d: %w", s.end, kverrors.ErrTruncatedTail)
		default:
			s.err = fmt.Errorf("record: read header: %w", err)
		}
		return false
	}

	h := parseHeader(hdr)
	total := HeaderLen + int(h.keyLen) + int(h.valLen)

	buf := make([]byte, total)
	copy(buf, hdr)

	if _, err := io.ReadFull(s.r, buf[HeaderLen:]); err != nil {
		if isEOF(err) {
			// A header was read but the key/value payload was cut short:
			// the process died mid-append. Recoverable by truncation if
			// this is the highest-id segment.
			s.err = fmt.Errorf("record: partial key/value at offset %d: %w", s.end, kverrors.ErrTruncatedTail)
		} else {
			s.err = fmt.Errorf("record: read key/value: %w", err)
		}
		return false
	}

	if s.verify {
		if computed := xxh3.Hash(buf[checksumLen:]); computed != h.checksum {
			s.err = fmt.Errorf("record: checksum mismatch at offset %d: %w", s.end, kverrors.ErrCorruptRecord)
			return false
		}
	}

	key := make([]byte, h.keyLen)
	copy(key, buf[HeaderLen:HeaderLen+int(h.keyLen)])
	value := make([]byte, h.valLen)
	copy(value, buf[HeaderLen+int(h.keyLen):])

	s.current = ScannedRecord{
		Record: Record{Timestamp: h.timestamp, Kind: h.kind, Key: key, Value: value},
		Offset: s.end,
	}
	s.end += int64(total)

	return true
}

// Record returns the record produced by the most recent successful Scan.
func (s *Scanner) Record() ScannedRecord { return s.current }

// Err returns the error that stopped scanning, or nil on a clean EOF.
func (s *Scanner) Err() error { return s.err }

// End returns the offset immediately after the last cleanly-scanned record,
// i.e. the last known-good boundary in the underlying data.
func (s *Scanner) End() int64 { return s.end }
