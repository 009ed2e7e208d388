// Package file implements storage.Store on the local filesystem.
//
// Structure:
//
//	{Dir}/
//	  {hash[0:2]}/
//	    {hash}.json  (uri, parent, permanent, content type, stored_at)
//	    {hash}.blob  (content)
//
// where hash is the hex SHA-256 of the entry URI.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/fetchkit/internal/infra/storage"
)

const (
	metadataExt = ".json"
	blobExt     = ".blob"
)

// Store keeps entries under Dir. Writes are atomic per file; the blob is written
// before its metadata so a crash leaves a miss, not a corrupt entry.
type Store struct {
	Dir string

	mu sync.RWMutex
}

// New creates the cache directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) Get(ctx context.Context, uri string) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := s.basePath(uri)
	meta, err := readMetadata(base + metadataExt)
	if err != nil || meta == nil {
		return nil, err
	}
	if meta.URI != uri {
		// hash collision; treat as a miss
		return nil, nil
	}

	data, err := os.ReadFile(base + blobExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache blob: %w", err)
	}
	meta.Data = data
	return meta, nil
}

func (s *Store) Put(ctx context.Context, e *storage.Entry) error {
	if e == nil || e.URI == "" {
		return storage.ErrEmptyURI
	}
	meta := *e
	meta.Data = nil
	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now()
	}
	raw, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.basePath(e.URI)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	// Metadata only appears after the blob succeeds.
	if err := writeFileAtomic(base+blobExt, e.Data, 0o644); err != nil {
		return fmt.Errorf("writing cache blob: %w", err)
	}
	if err := writeFileAtomic(base+metadataExt, raw, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.basePath(uri)
	meta, err := readMetadata(base + metadataExt)
	if err != nil {
		return false, err
	}
	if meta == nil || meta.URI != uri {
		return false, nil
	}
	return true, removeEntry(base)
}

func (s *Store) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	return s.removeWhere(ctx, func(e *storage.Entry) bool {
		return parentID != "" && e.ParentID == parentID
	})
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	return s.removeWhere(ctx, func(e *storage.Entry) bool {
		return !e.Permanent && e.StoredAt.Before(before)
	})
}

func (s *Store) Close() error { return nil }

func (s *Store) removeWhere(ctx context.Context, match func(*storage.Entry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	var errs []error
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(path, metadataExt) {
			return nil
		}
		meta, err := readMetadata(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if meta == nil || !match(meta) {
			return nil
		}
		if err := removeEntry(strings.TrimSuffix(path, metadataExt)); err != nil {
			errs = append(errs, err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

// basePath returns the entry path without extension.
// Uses the first 2 characters of the hash as a prefix directory to avoid
// having too many entries in a single directory.
func (s *Store) basePath(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.Dir, h[:2], h)
}

func readMetadata(path string) (*storage.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}
	var e storage.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("parsing cache metadata %s: %w", path, err)
	}
	return &e, nil
}

func removeEntry(base string) error {
	// Metadata first: without it the blob is unreachable.
	if err := os.Remove(base + metadataExt); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache metadata: %w", err)
	}
	if err := os.Remove(base + blobExt); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache blob: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
