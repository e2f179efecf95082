package record

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		key   []byte
		value []byte
		kind  Kind
		ts    uint64
	}{
		{"simple value", []byte("foo"), []byte("bar"), KindValue, 1},
		{"empty value set", []byte("foo"), []byte{}, KindValue, 2},
		{"tombstone", []byte("foo"), nil, KindTombstone, 3},
		{"empty key", []byte{}, []byte("v"), KindValue, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.key, tc.value, tc.ts, tc.kind)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			rec, err := Decode(buf, true)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(rec.Key, tc.key) && !(len(rec.Key) == 0 && len(tc.key) == 0) {
				t.Errorf("key mismatch: got %q want %q", rec.Key, tc.key)
			}
			if !bytes.Equal(rec.Value, tc.value) && !(len(rec.Value) == 0 && len(tc.value) == 0) {
				t.Errorf("value mismatch: got %q want %q", rec.Value, tc.value)
			}
			if rec.Timestamp != tc.ts {
				t.Errorf("timestamp mismatch: got %d want %d", rec.Timestamp, tc.ts)
			}
			if rec.Kind != tc.kind {
				t.Errorf("kind mismatch: got %d want %d", rec.Kind, tc.kind)
			}
		})
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	buf, err := Encode([]byte("k"), []byte("v"), 1, KindValue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF // corrupt the value's last byte

	if _, err := Decode(buf, true); !errors.Is(err, kverrors.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestDecodeSkipsVerification(t *testing.T) {
	buf, err := Encode([]byte("k"), []byte("v"), 1, KindValue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF

	if _, err := Decode(buf, false); err != nil {
		t.Fatalf("expected no error with verify=false, got %v", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode([]byte("short"), true); !errors.Is(err, kverrors.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for undersized buffer, got %v", err)
	}
}

func TestDecodeDeclaredLengthExceedsBuffer(t *testing.T) {
	buf, err := Encode([]byte("k"), []byte("v"), 1, KindValue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(buf[:len(buf)-1], true); !errors.Is(err, kverrors.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for truncated buffer, got %v", err)
	}
}

func TestCheckFieldLenRejectsOverflow(t *testing.T) {
	// checkFieldLen takes a plain int rather than a slice, so the
	// MaxUint32 boundary is testable without allocating a multi-gigabyte
	// buffer just to get its len() past the limit.
	if err := checkFieldLen("key", math.MaxUint32, kverrors.ErrKeyTooLarge); err != nil {
		t.Fatalf("checkFieldLen at the boundary: %v, want nil", err)
	}
	if err := checkFieldLen("key", math.MaxUint32+1, kverrors.ErrKeyTooLarge); !errors.Is(err, kverrors.ErrKeyTooLarge) {
		t.Fatalf("checkFieldLen one past the boundary = %v, want ErrKeyTooLarge", err)
	}
	if err := checkFieldLen("value", math.MaxUint32+1, kverrors.ErrValueTooLarge); !errors.Is(err, kverrors.ErrValueTooLarge) {
		t.Fatalf("checkFieldLen one past the boundary = %v, want ErrValueTooLarge", err)
	}
}
