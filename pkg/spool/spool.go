// Package spool stages payloads on local disk between HTTP ingest and the
// background worker that moves them to S3.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Spool is a flat staging directory.
type Spool struct {
	dir string
}

// New creates the spool directory if needed.
func New(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Write stages a payload under the given name and returns its full path.
func (s *Spool) Write(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("spool write %s: %w", name, err)
	}
	return path, nil
}

// Open returns a reader for a staged payload. The path must live inside the
// spool directory.
func (s *Spool) Open(path string) (*os.File, int64, error) {
	if err := s.check(path); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("spool open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("spool stat: %w", err)
	}
	return f, info.Size(), nil
}

// Remove deletes a staged payload. Missing files are not an error.
func (s *Spool) Remove(path string) error {
	if err := s.check(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool remove: %w", err)
	}
	return nil
}

func (s *Spool) check(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs, dir+string(filepath.Separator)) {
		return fmt.Errorf("path %s outside spool dir", path)
	}
	return nil
}
