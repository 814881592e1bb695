package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/xraph/batch"
)

// Checkpoint document names.
const (
	MetadataFile = "metadata.json"
	SessionFile  = "session.json"
	JobsFile     = "jobs.json"
	ProgressFile = "progress.json"
)

// Documents lists every checkpoint document.
var Documents = []string{MetadataFile, SessionFile, JobsFile, ProgressFile}

// ErrNotFound is returned by Store.Read for a missing document.
var ErrNotFound = fmt.Errorf("recovery: document not found: %w", fs.ErrNotExist)

// Store holds checkpoint documents. Write must be atomic: a concurrent
// Read sees either the previous or the new content.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, names ...string) error
}

// Locker is implemented by stores that can guarantee a single writer.
// Lock returns batch.ErrSessionLocked when another owner holds the lock.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// ──────────────────────────────────────────────────
// File store
// ──────────────────────────────────────────────────

// Compile-time interface checks.
var (
	_ Store  = (*FileStore)(nil)
	_ Locker = (*FileStore)(nil)
)

// FileStore keeps documents as files in one directory.
type FileStore struct {
	dir  string
	lock *flock.Flock

	mu     sync.Mutex
	locked bool
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("recovery: empty state directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recovery: create state directory: %w", err)
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file path of a document.
func (s *FileStore) Path(name string) string { return filepath.Join(s.dir, name) }

// Write replaces a document through a temp file and rename.
func (s *FileStore) Write(_ context.Context, name string, data []byte) error {
	if err := atomic.WriteFile(s.Path(name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("recovery: write %s: %w", name, err)
	}
	return nil
}

// Read returns a document, or ErrNotFound.
func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: read %s: %w", name, err)
	}
	return data, nil
}

// Delete removes documents; missing ones are ignored.
func (s *FileStore) Delete(_ context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("recovery: delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Lock takes the directory's advisory lock without blocking. Locking an
// already held lock is a no-op.
func (s *FileStore) Lock(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("recovery: lock %s: %w", s.dir, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrSessionLocked, s.dir)
	}
	s.locked = true
	return nil
}

// Unlock releases the directory lock.
func (s *FileStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return nil
	}
	s.locked = false
	return s.lock.Unlock()
}
