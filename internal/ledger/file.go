package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the ledger as a flat JSON document keyed by symbol,
// matching the cache layout {"SYM": {"last_alert_time": <unix seconds>}}.
type FileStore struct {
	path string
}

// NewFileStore constructs a file-backed ledger store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the ledger from disk. A missing file means no prior state and
// yields an empty ledger without error.
func (f *FileStore) Load(ctx context.Context) (Ledger, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Ledger{}, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode ledger file: %w", err)
	}
	if l == nil {
		l = Ledger{}
	}
	return l, nil
}

// Save writes the full ledger back to disk, creating the parent directory
// when needed.
func (f *FileStore) Save(ctx context.Context, l Ledger) error {
	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
