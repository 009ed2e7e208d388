package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/fetchkit/internal/core/config"
	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/infra/storage"
)

func newOrigin(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("body of " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func runFetchInvalidateCycle(t *testing.T, cfg config.AppConfig) {
	t.Helper()
	origin, hits := newOrigin(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := NewApp(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer func() {
		if err := app.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	uri := origin.URL + "/photos/1.jpg"
	opts := domain.FetchOptions{ParentID: "album-" + t.Name()}

	res, err := app.Fetcher.GetBytes(ctx, uri, opts)
	if err != nil || res.Origin != domain.OriginNetwork || string(res.Data) != "body of /photos/1.jpg" {
		t.Fatalf("first fetch = %+v, %v", res, err)
	}
	res, err = app.Fetcher.GetBytes(ctx, uri, opts)
	if err != nil || res.Origin != domain.OriginDisk || res.ContentType != "text/plain" {
		t.Fatalf("second fetch = %+v, %v", res, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 origin hit, got %d", hits.Load())
	}

	var received []domain.CacheInvalidated
	sub := app.Bus.Subscribe(func(_ context.Context, m domain.CacheInvalidated) { received = append(received, m) })
	defer sub.Close()

	n, err := app.Invalidation.InvalidateByParentID(ctx, opts.ParentID, "photos")
	if err != nil || n != 1 {
		t.Fatalf("InvalidateByParentID() = %d, %v", n, err)
	}
	if len(received) != 1 || received[0].ParentID == nil || *received[0].ParentID != opts.ParentID {
		t.Fatalf("unexpected messages: %+v", received)
	}

	res, err = app.Fetcher.GetBytes(ctx, uri, opts)
	if err != nil || res.Origin != domain.OriginNetwork || hits.Load() != 2 {
		t.Fatalf("fetch after invalidation = %+v, %v, hits=%d", res, err, hits.Load())
	}
}

func TestApp_FileBackend(t *testing.T) {
	cfg := config.AppConfig{Cache: config.CacheConfig{Backend: storage.BackendFile, Dir: t.TempDir()}}
	cfg.ApplyDefaults()
	runFetchInvalidateCycle(t, cfg)
}

func TestApp_PostgresBackend(t *testing.T) {
	url := os.Getenv("FETCHKIT_DATABASE_URL")
	if url == "" {
		t.Skip("FETCHKIT_DATABASE_URL not set")
	}
	cfg := config.AppConfig{Cache: config.CacheConfig{Backend: storage.BackendPostgres}}
	cfg.Database.URL = url
	cfg.ApplyDefaults()
	runFetchInvalidateCycle(t, cfg)
}

func TestApp_RedisBackend(t *testing.T) {
	url := os.Getenv("FETCHKIT_REDIS_URL")
	if url == "" {
		t.Skip("FETCHKIT_REDIS_URL not set")
	}
	cfg := config.AppConfig{Cache: config.CacheConfig{Backend: storage.BackendRedis, TTL: time.Hour}}
	cfg.Redis.URL = url
	cfg.ApplyDefaults()
	runFetchInvalidateCycle(t, cfg)
}
