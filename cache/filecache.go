package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore implements the Store interface using filesystem storage: one
// JSON document per entry.
type FileStore struct {
	dir  string
	opts options

	// serialises Delete against Put so Delete reports accurately
	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// fileRecord is the on-disk form of an Entry. The payload is kept as a
// string so the upstream bytes come back exactly as they were written.
type fileRecord struct {
	Domain    string    `json:"domain"`
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// NewFileStore creates a file-based store rooted at dir.
// If dir is empty, uses ~/.homeboard_cache
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, unavailable("resolve home dir", err)
		}
		dir = filepath.Join(home, ".homeboard_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, unavailable("create cache dir", err)
	}

	return &FileStore{dir: dir, opts: newOptions(opts)}, nil
}

// Get implements Reader.
func (fs *FileStore) Get(_ context.Context, domain, key string) (*Entry, bool, error) {
	e, err := fs.read(fs.path(domain, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("read entry", err)
	}

	if fs.opts.expired(e.WrittenAt) {
		return nil, false, nil
	}
	return e, true, nil
}

// Put implements Writer.
func (fs *FileStore) Put(_ context.Context, domain, key string, payload json.RawMessage) (*Entry, error) {
	e := &Entry{
		Domain:    domain,
		Key:       key,
		Payload:   payload,
		WrittenAt: fs.opts.now(),
	}

	data, err := json.MarshalIndent(fileRecord{
		Domain:    domain,
		Key:       key,
		Payload:   string(payload),
		WrittenAt: e.WrittenAt,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Write to temporary file first, then rename (atomic operation)
	path := fs.path(domain, key)
	tmpPath := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return nil, unavailable("write entry", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, unavailable("commit entry", err)
	}
	return e, nil
}

// Delete implements Writer.
func (fs *FileStore) Delete(_ context.Context, domain, key string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path(domain, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("delete entry", err)
	}
	return true, nil
}

// Purge implements Purger. Unreadable files are removed as well.
func (fs *FileStore) Purge(ctx context.Context) (int64, error) {
	names, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, unavailable("list entries", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n int64
	for _, de := range names {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(fs.dir, de.Name())
		e, err := fs.read(path)
		if err == nil && !fs.opts.expired(e.WrittenAt) {
			continue
		}
		if err := os.Remove(path); err == nil {
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &Entry{
		Domain:    rec.Domain,
		Key:       rec.Key,
		Payload:   json.RawMessage(rec.Payload),
		WrittenAt: rec.WrittenAt,
	}, nil
}

// path generates the full filesystem path for a cache key
func (fs *FileStore) path(domain, key string) string {
	return filepath.Join(fs.dir, fileName(domain, key))
}
