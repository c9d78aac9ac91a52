// Package storage is the durable sink the server writes uploads into.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives the payloads of one upload in order. Close is called exactly
// once by the owner.
type Sink interface {
	io.WriteCloser
}

type Storage interface {
	// Create opens a fresh, empty sink for name, truncating any previous
	// content.
	Create(name string) (Sink, error)
}

// FileStorage stores every upload as a file below Root. The name is used as
// given; callers are responsible for any validation.
type FileStorage struct {
	Root string
}

func NewFileStorage(root string) (*FileStorage, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root dir not usable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root dir %q is not a directory", root)
	}
	return &FileStorage{Root: root}, nil
}

func (fs *FileStorage) Create(name string) (Sink, error) {
	f, err := os.OpenFile(filepath.Join(fs.Root, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error while opening file: %w", err)
	}
	return f, nil
}

var ErrClosed = errors.New("sink already closed")

// Memory keeps uploads in memory. Handy for tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	files map[string]*memSink

	// FailCreate makes Create return an error for the given names.
	FailCreate map[string]bool
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]*memSink), FailCreate: make(map[string]bool)}
}

type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	closes int
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return 0, ErrClosed
	}
	s.writes++
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes > 1 {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Create(name string) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate[name] {
		return nil, fmt.Errorf("cannot create %q", name)
	}
	s := &memSink{}
	m.files[name] = s
	return s, nil
}

// Content returns what was written to name and whether it exists.
func (m *Memory) Content(name string) ([]byte, bool) {
	m.mu.Lock()
	s, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes()), true
}

// Writes returns the number of Write calls seen by name.
func (m *Memory) Writes(name string) int {
	m.mu.Lock()
	s, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Closes returns the number of Close calls seen by name.
func (m *Memory) Closes(name string) int {
	m.mu.Lock()
	s, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
