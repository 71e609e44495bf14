package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileStore persists the chain as newline-delimited JSON, one entry
// per line, append-only. The full chain is mirrored in memory for
// queries; the file is the durable side.
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	mem  *MemoryStore
}

// NewFileStore opens or creates a JSONL chain file and loads any
// existing entries.
func NewFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	fs := &FileStore{path: path, file: file, mem: NewMemoryStore()}
	if err := fs.load(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	dec := json.NewDecoder(f.file)
	for {
		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("corrupt ledger file %s: %w", f.path, err)
		}
		if err := f.mem.Append(context.Background(), entry); err != nil {
			return fmt.Errorf("corrupt ledger file %s: %w", f.path, err)
		}
	}
	// Subsequent writes go to the end.
	if _, err := f.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Append implements Store. The line hits the file before the memory
// view, so a write failure leaves memory and disk agreeing and the
// append retryable.
func (f *FileStore) Append(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := uint64(1)
	if head, err := f.mem.Head(ctx); err == nil {
		want = head.Sequence + 1
	}
	if e.Sequence != want {
		return fmt.Errorf("%w: got sequence %d, want %d", ErrOutOfOrder, e.Sequence, want)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.file.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}
	return f.mem.Append(ctx, e)
}

// Head implements Store.
func (f *FileStore) Head(ctx context.Context) (*Entry, error) {
	return f.mem.Head(ctx)
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	return f.mem.Get(ctx, seq)
}

// ByAgent implements Store.
func (f *FileStore) ByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	return f.mem.ByAgent(ctx, agentID)
}

// BySession implements Store.
func (f *FileStore) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return f.mem.BySession(ctx, sessionID)
}

// All implements Store.
func (f *FileStore) All(ctx context.Context) ([]Entry, error) {
	return f.mem.All(ctx)
}

// Close releases the file handle.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
