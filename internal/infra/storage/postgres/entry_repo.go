package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/fetchkit/internal/infra/storage"
)

const (
	selectEntry = `SELECT uri, parent_id, permanent, content_type, data, stored_at
		FROM cache_entries WHERE uri = $1`

	upsertEntry = `INSERT INTO cache_entries (uri, parent_id, permanent, content_type, data, stored_at)
		VALUES (:uri, :parent_id, :permanent, :content_type, :data, :stored_at)
		ON CONFLICT (uri) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			permanent = EXCLUDED.permanent,
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			stored_at = EXCLUDED.stored_at`

	deleteEntry         = `DELETE FROM cache_entries WHERE uri = $1`
	deleteEntryByParent = `DELETE FROM cache_entries WHERE parent_id = $1`
	pruneEntries        = `DELETE FROM cache_entries WHERE NOT permanent AND stored_at < $1`
)

// EntryRepo implements storage.Store using PostgreSQL.
type EntryRepo struct {
	db *DB
}

// NewEntryRepo creates a new PostgreSQL entry repository.
func NewEntryRepo(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

func (r *EntryRepo) Get(ctx context.Context, uri string) (*storage.Entry, error) {
	var e storage.Entry
	err := r.db.GetContext(ctx, &e, selectEntry, uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &e, nil
}

func (r *EntryRepo) Put(ctx context.Context, e *storage.Entry) error {
	if e == nil || e.URI == "" {
		return storage.ErrEmptyURI
	}
	row := *e
	if row.StoredAt.IsZero() {
		row.StoredAt = time.Now()
	}
	if row.Data == nil {
		row.Data = []byte{}
	}
	if _, err := r.db.NamedExecContext(ctx, upsertEntry, &row); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (r *EntryRepo) Delete(ctx context.Context, uri string) (bool, error) {
	n, err := r.exec(ctx, deleteEntry, uri)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return n > 0, nil
}

func (r *EntryRepo) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	if parentID == "" {
		return 0, nil
	}
	n, err := r.exec(ctx, deleteEntryByParent, parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries by parent: %w", err)
	}
	return n, nil
}

func (r *EntryRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	n, err := r.exec(ctx, pruneEntries, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache entries: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (r *EntryRepo) Close() error {
	return r.db.Close()
}

func (r *EntryRepo) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
