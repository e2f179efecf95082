package segment

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/epokhe/kvengine/internal/record"
)

func TestCreateAppendReadAt(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(filepath.Join(dir, "1.log"), 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	buf, err := record.Encode([]byte("k"), []byte("value"), 1, record.KindValue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	off, err := seg.Append(buf)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected first append at offset 0, got %d", off)
	}
	if seg.Size() != int64(len(buf)) {
		t.Fatalf("Size() = %d, want %d", seg.Size(), len(buf))
	}

	valueOff := off + int64(record.HeaderLen) + 1
	got, err := seg.ReadAt(valueOff, int64(len("value")))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("ReadAt = %q, want %q", got, "value")
	}
}

func TestReadAtOutOfRange(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(filepath.Join(dir, "1.log"), 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	if _, err := seg.ReadAt(0, 10); err == nil {
		t.Fatal("expected error reading past an empty segment")
	}
}

func TestReadRecordAt(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(filepath.Join(dir, "1.log"), 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	buf, err := record.Encode([]byte("key"), []byte("val"), 42, record.KindValue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	off, err := seg.Append(buf)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	valueOff := off + int64(record.HeaderLen) + 3

	rec, err := seg.ReadRecordAt(valueOff, 3, 3, true)
	if err != nil {
		t.Fatalf("ReadRecordAt: %v", err)
	}
	if string(rec.Key) != "key" || string(rec.Value) != "val" || rec.Timestamp != 42 {
		t.Fatalf("ReadRecordAt = %+v, unexpected", rec)
	}
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(filepath.Join(dir, "1.log"), 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	buf, _ := record.Encode([]byte("k"), []byte("v"), 1, record.KindValue)
	if _, err := seg.Append(buf); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := seg.Append([]byte("garbage-tail")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := seg.Truncate(int64(len(buf))); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if seg.Size() != int64(len(buf)) {
		t.Fatalf("Size() after truncate = %d, want %d", seg.Size(), len(buf))
	}
}

func TestRenameAndReopen(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "1.log.tmp")
	newPath := filepath.Join(dir, "1.log")

	seg, err := Create(oldPath, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	buf, _ := record.Encode([]byte("k"), []byte("v"), 1, record.KindValue)
	if _, err := seg.Append(buf); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := seg.Rename(newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(newPath, 1)
	if err != nil {
		t.Fatalf("Open after rename: %v", err)
	}
	defer reopened.Close()
	if reopened.Size() != int64(len(buf)) {
		t.Fatalf("reopened Size() = %d, want %d", reopened.Size(), len(buf))
	}
}

func TestRemoveUnlinksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.log")
	seg, err := Create(path, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := seg.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Open(path, 1); err == nil {
		t.Fatal("expected Open to fail after Remove")
	}
}
