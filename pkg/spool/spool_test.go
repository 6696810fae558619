package spool

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteOpenRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	path, err := s.Write("rec1_canvas.webm", []byte("payload"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	f, size, err := s.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if size != int64(len("payload")) {
		t.Fatalf("size = %d", size)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("data = %q", data)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file survived remove")
	}
	// Missing files are fine on a second remove.
	if err := s.Remove(path); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestWriteStripsDirectoryComponents(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	path, err := s.Write("../escape.webm", []byte("x"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("path %s escaped the spool dir", path)
	}
}

func TestOpenRejectsPathsOutsideSpool(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "spool"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	outside := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, _, err := s.Open(outside); err == nil {
		t.Fatal("opened a file outside the spool dir")
	}
	if err := s.Remove(outside); err == nil {
		t.Fatal("removed a file outside the spool dir")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("outside file was deleted")
	}
}
