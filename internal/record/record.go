// Package record implements the on-disk record codec: the atomic unit
// appended to a segment file.
//
// A record is laid out, all fields little-endian:
//
//	[8-byte checksum][8-byte timestamp][4-byte keyLen][4-byte valLen][1-byte kind][1-byte reserved][key][value]
//
// The checksum (xxh3, 64-bit) covers every byte following it.
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

// Kind distinguishes a live value from a tombstone. It is independent of
// ValueLen so an explicit empty-value Set is representable and distinct
// from a Remove.
type Kind uint8

const (
	KindTombstone Kind = 0
	KindValue     Kind = 1
)

// HeaderLen is the fixed size, in bytes, of every record's header.
const HeaderLen = 26

const checksumLen = 8

// Record is a single decoded on-disk entry.
type Record struct {
	Timestamp uint64
	Kind      Kind
	Key       []byte
	Value     []byte
}

// checkFieldLen reports whether n exceeds the representable uint32 length
// for a key or value field, wrapping sentinel if so. It takes a plain
// length rather than a slice so the boundary is testable without actually
// allocating a multi-gigabyte buffer.
func checkFieldLen(field string, n int, sentinel error) error {
	if n > math.MaxUint32 {
		return fmt.Errorf("record: %s length %d: %w", field, n, sentinel)
	}
	return nil
}

// Encode serializes key, value into a complete record buffer, stamping it
// with timestamp and kind. It fails only if key or value exceeds the
// representable uint32 length.
func Encode(key, value []byte, timestamp uint64, kind Kind) ([]byte, error) {
	if err := checkFieldLen("key", len(key), kverrors.ErrKeyTooLarge); err != nil {
		return nil, err
	}
	if err := checkFieldLen("value", len(value), kverrors.ErrValueTooLarge); err != nil {
		return nil, err
	}

	total := HeaderLen + len(key) + len(value)
	buf := make([]byte, total)

	sb := buf[checksumLen:] // shrinking buffer; checksum filled in last

	binary.LittleEndian.PutUint64(sb, timestamp)
	sb = sb[8:]

	binary.LittleEndian.PutUint32(sb, uint32(len(key)))
	sb = sb[4:]

	binary.LittleEndian.PutUint32(sb, uint32(len(value)))
	sb = sb[4:]

	sb[0] = byte(kind)
	sb = sb[1:]

	sb[0] = 0 // reserved, keeps the header length even
	sb = sb[1:]

	copy(sb, key)
	sb = sb[len(key):]

	copy(sb, value)

	checksum := xxh3.Hash(buf[checksumLen:])
	binary.LittleEndian.PutUint64(buf[:checksumLen], checksum)

	return buf, nil
}

// header is the parsed fixed-size prefix of a record.
type header struct {
	checksum  uint64
	timestamp uint64
	keyLen    uint32
	valLen    uint32
	kind      Kind
}

func parseHeader(hdr []byte) header {
	_ = hdr[HeaderLen-1] // bounds check hint
	return header{
		checksum:  binary.LittleEndian.Uint64(hdr[0:8]),
		timestamp: binary.LittleEndian.Uint64(hdr[8:16]),
		keyLen:    binary.LittleEndian.Uint32(hdr[16:20]),
		valLen:    binary.LittleEndian.Uint32(hdr[20:24]),
		kind:      Kind(hdr[24]),
	}
}

// Decode parses buf as a single record. If verify is set, the checksum is
// recomputed and mismatches return ErrCorruptRecord.
func Decode(buf []byte, verify bool) (Record, error) {
	if len(buf) < HeaderLen {
		return Record{}, fmt.Errorf("record: buffer shorter than header: %w", kverrors.ErrCorruptRecord)
	}

	hdr := parseHeader(buf)
	total := HeaderLen + int(hdr.keyLen) + int(hdr.valLen)
	if total > len(buf) {
		return Record{}, fmt.Errorf("record: declared length %d exceeds buffer %d: %w", total, len(buf), kverrors.ErrCorruptRecord)
	}

	if verify {
		if computed := xxh3.Hash(buf[checksumLen:total]); computed != hdr.checksum {
			return Record{}, fmt.Errorf("record: checksum mismatch: expected %x got %x: %w", hdr.checksum, computed, kverrors.ErrCorruptRecord)
		}
	}

	key := make([]byte, hdr.keyLen)
	copy(key, buf[HeaderLen:HeaderLen+int(hdr.keyLen)])

	value := make([]byte, hdr.valLen)
	copy(value, buf[HeaderLen+int(hdr.keyLen):total])

	return Record{Timestamp: hdr.timestamp, Kind: hdr.kind, Key: key, Value: value}, nil
}
