package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

func TestWriteReadHintRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.cpct")

	entries := []HintEntry{
		{Key: []byte("a"), Offset: 10, Length: 3, Timestamp: 1},
		{Key: []byte("bb"), Offset: 20, Length: 0, Timestamp: 2},
	}

	if err := WriteHint(path, entries); err != nil {
		t.Fatalf("WriteHint: %v", err)
	}

	got, err := ReadHint(path)
	if err != nil {
		t.Fatalf("ReadHint: %v", err)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("ReadHint mismatch (-want +got):\n%s", diff)
	}
}

func TestReadHintCorrupted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.cpct")

	if err := WriteHint(path, []HintEntry{{Key: []byte("a"), Offset: 1, Length: 1, Timestamp: 1}}); err != nil {
		t.Fatalf("WriteHint: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hint file: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite hint file: %v", err)
	}

	if _, err := ReadHint(path); !errors.Is(err, kverrors.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestReadHintEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.cpct")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if _, err := ReadHint(path); !errors.Is(err, kverrors.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for a too-short file, got %v", err)
	}
}
