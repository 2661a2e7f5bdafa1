package source

import (
	"bytes"
	"os"
	"testing"
)

func TestMemoryReadAt(t *testing.T) {
	data := []byte("0123456789")
	m := NewMemory(data)

	buf := make([]byte, 4)
	if err := m.ReadAt(3, buf); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, []byte("3456")) {
		t.Errorf("got %q, want %q", buf, "3456")
	}
}

func TestMemoryReadAtShort(t *testing.T) {
	m := NewMemory([]byte("short"))
	buf := make([]byte, 10)
	if err := m.ReadAt(0, buf); err == nil {
		t.Fatal("expected error on short read, got nil")
	}
}

func TestFileReadAt(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "source-*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write([]byte("abcdefghij")); err != nil {
		t.Fatal(err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}

	h, err := OpenFile(tmp.Name())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer h.Close()

	buf := make([]byte, 3)
	if err := h.ReadAt(2, buf); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, []byte("cde")) {
		t.Errorf("got %q, want %q", buf, "cde")
	}

	if err := h.ReadAt(8, make([]byte, 10)); err == nil {
		t.Fatal("expected short read error past EOF")
	}
}
