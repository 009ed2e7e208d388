package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/fetchkit/internal/infra/storage"
)

// Hash fields of an entry.
const (
	fieldParent      = "parent_id"
	fieldPermanent   = "permanent"
	fieldContentType = "content_type"
	fieldStoredAt    = "stored_at"
	fieldData        = "data"
)

// Store implements storage.Store using Redis.
//
// Each entry is a hash. Parents are tracked in sets and non-permanent entries in a
// sorted set scored by store time, so Prune can range over it. With a TTL, non-permanent
// entries also expire natively.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a Redis-backed store. ttl <= 0 disables native expiry.
func NewStore(client *Client, ttl time.Duration) *Store {
	return &Store{rdb: client.rdb, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, uri string) (*storage.Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, entryKey(uri)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	e := &storage.Entry{
		URI:         uri,
		ParentID:    fields[fieldParent],
		Permanent:   fields[fieldPermanent] == "1",
		ContentType: fields[fieldContentType],
		Data:        []byte(fields[fieldData]),
	}
	if ms, err := strconv.ParseInt(fields[fieldStoredAt], 10, 64); err == nil {
		e.StoredAt = time.UnixMilli(ms)
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, e *storage.Entry) error {
	if e == nil || e.URI == "" {
		return storage.ErrEmptyURI
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	// Drop the previous parent link if the entry moves between parents.
	prevParent, err := s.rdb.HGet(ctx, entryKey(e.URI), fieldParent).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("hget failed: %w", err)
	}

	permanent := "0"
	if e.Permanent {
		permanent = "1"
	}

	key := entryKey(e.URI)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldParent, e.ParentID,
			fieldPermanent, permanent,
			fieldContentType, e.ContentType,
			fieldStoredAt, strconv.FormatInt(storedAt.UnixMilli(), 10),
			fieldData, e.Data,
		)
		if prevParent != "" && prevParent != e.ParentID {
			pipe.SRem(ctx, parentKey(prevParent), e.URI)
		}
		if e.ParentID != "" {
			pipe.SAdd(ctx, parentKey(e.ParentID), e.URI)
		}
		if e.Permanent {
			pipe.ZRem(ctx, expiryIndexKey(), e.URI)
		} else {
			pipe.ZAdd(ctx, expiryIndexKey(), redis.Z{Score: float64(storedAt.UnixMilli()), Member: e.URI})
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, uri string) (bool, error) {
	parent, err := s.rdb.HGet(ctx, entryKey(uri), fieldParent).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("hget failed: %w", err)
	}

	var del *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, entryKey(uri))
		pipe.ZRem(ctx, expiryIndexKey(), uri)
		if parent != "" {
			pipe.SRem(ctx, parentKey(parent), uri)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *Store) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	if parentID == "" {
		return 0, nil
	}
	uris, err := s.rdb.SMembers(ctx, parentKey(parentID)).Result()
	if err != nil {
		return 0, fmt.Errorf("smembers failed: %w", err)
	}
	if len(uris) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, 0, len(uris))
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uri := range uris {
			dels = append(dels, pipe.Del(ctx, entryKey(uri)))
			pipe.ZRem(ctx, expiryIndexKey(), uri)
		}
		pipe.Del(ctx, parentKey(parentID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries by parent: %w", err)
	}

	removed := 0
	for _, d := range dels {
		removed += int(d.Val())
	}
	return removed, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	uris, err := s.rdb.ZRangeByScore(ctx, expiryIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	removed := 0
	for _, uri := range uris {
		ok, err := s.Delete(ctx, uri)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op; the shared Client owns the connection.
func (s *Store) Close() error { return nil }
