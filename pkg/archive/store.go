package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is content-addressed blob storage for archived snapshots.
type Store interface {
	// Store persists data and returns its content hash ("sha256:...").
	// Storing bytes that already exist is a no-op.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a snapshot exists by content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes a snapshot by content hash. Deleting a missing
	// snapshot is not an error, so retention pruning can retry.
	Delete(ctx context.Context, hash string) error
}

// parseHash strips and validates the "sha256:" prefix, returning the
// raw hex digest used as the object key.
func parseHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok {
		return "", fmt.Errorf("archive: invalid hash format: %s", hash)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("archive: invalid hash hex: %w", err)
	}
	return raw, nil
}

func contentHash(data []byte) (prefixed, raw string) {
	sum := sha256.Sum256(data)
	raw = hex.EncodeToString(sum[:])
	return "sha256:" + raw, raw
}

// FileStore is a filesystem-backed archive, for air-gapped deployments
// and local retention tiers.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates a content-addressed archive directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: failed to ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Store implements Store. Writes go to a temp file first so a crash
// never leaves a half-written snapshot under its final name.
func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefixed, raw := contentHash(data)
	path := filepath.Join(s.baseDir, raw+".snap")

	if _, err := os.Stat(path); err == nil {
		return prefixed, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: failed to commit snapshot: %w", err)
	}
	return prefixed, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseHash(hash)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, raw+".snap"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: snapshot not found: %s", hash)
		}
		return nil, fmt.Errorf("archive: failed to read snapshot: %w", err)
	}
	return data, nil
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseHash(hash)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filepath.Join(s.baseDir, raw+".snap"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("archive: failed to stat snapshot: %w", err)
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseHash(hash)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.baseDir, raw+".snap")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: failed to delete snapshot: %w", err)
	}
	return nil
}
