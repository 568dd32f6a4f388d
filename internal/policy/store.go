package policy

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// FileStore implements domain.PolicyStore on a single file.
// It remembers the digest of its last write so that a file watcher can
// ignore changes made by the store itself.
type FileStore struct {
	path   string
	format Format

	mu          sync.Mutex
	lastWritten [sha256.Size]byte
	hasWritten  bool
}

// NewFileStore creates a store for path; the format follows the extension.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		format: FormatForPath(path),
	}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists checks if the document exists.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and validates the document.
func (s *FileStore) Load() (domain.Policy, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("cannot read config file at %s: %w", s.path, err)
	}
	p, err := Decode(data, s.format)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("cannot read config file at %s: %w", s.path, err)
	}
	return p, nil
}

// Save writes the document atomically (write + rename).
func (s *FileStore) Save(p domain.Policy) error {
	data, err := Encode(p, s.format)
	if err != nil {
		return fmt.Errorf("cannot write config file to %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cannot write config file to %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Temp file unique per process, in the same directory for an atomic rename.
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config file to %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cannot write config file to %s: %w", s.path, err)
	}

	s.lastWritten = sha256.Sum256(data)
	s.hasWritten = true
	return nil
}

// EnsureExists writes the default policy if the document is missing.
// Returns true if a new document was created.
func (s *FileStore) EnsureExists() (bool, error) {
	if s.Exists() {
		return false, nil
	}
	if err := s.Save(domain.DefaultPolicy()); err != nil {
		return false, err
	}
	return true, nil
}

// WroteContent reports whether data is exactly what the store last wrote.
func (s *FileStore) WroteContent(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasWritten && sha256.Sum256(data) == s.lastWritten
}

// Ensure FileStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*FileStore)(nil)
