package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/fetchkit/internal/core/config"
	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/core/worker"
	"github.com/vietddude/fetchkit/internal/dispatch"
	"github.com/vietddude/fetchkit/internal/fetch"
	"github.com/vietddude/fetchkit/internal/infra/bus"
	"github.com/vietddude/fetchkit/internal/infra/cache"
	"github.com/vietddude/fetchkit/internal/infra/httpfetch"
	redisclient "github.com/vietddude/fetchkit/internal/infra/redis"
	"github.com/vietddude/fetchkit/internal/infra/storage"
	"github.com/vietddude/fetchkit/internal/infra/storage/file"
	"github.com/vietddude/fetchkit/internal/infra/storage/memory"
	"github.com/vietddude/fetchkit/internal/infra/storage/postgres"
	"github.com/vietddude/fetchkit/internal/invalidation"
	"github.com/vietddude/fetchkit/internal/server"
	"github.com/vietddude/fetchkit/internal/task"
	"github.com/vietddude/fetchkit/internal/telemetry"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	Downloader cache.Downloader
	Logger     *slog.Logger
}

// App is the main application struct that wires and runs every component.
type App struct {
	cfg   config.AppConfig
	log   *slog.Logger
	store storage.Store
	db    *postgres.DB
	redis *redisclient.Client
	relay *redisclient.Relay
	http  *httpfetch.Client

	Cache        *cache.Cache
	Fetcher      *fetch.Fetcher
	Invalidation *invalidation.Service
	Bus          *bus.Bus[domain.CacheInvalidated]
	Board        *StatusBoard

	loop      *dispatch.Loop
	telemetry telemetry.Sink
	pruner    *worker.Pruner
	server    *server.Server

	mu       sync.Mutex
	tasks    map[string]*task.Task
	prefetch map[string]config.PrefetchConfig
	sub      *bus.Subscription
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg config.AppConfig, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		log:      logger,
		Board:    NewStatusBoard(),
		tasks:    make(map[string]*task.Task),
		prefetch: make(map[string]config.PrefetchConfig),
		runCtx:   ctx,
	}

	// 1. Redis is shared by the redis store and the invalidation relay.
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			if cfg.Cache.Backend == storage.BackendRedis {
				return nil, fmt.Errorf("failed to init redis: %w", err)
			}
			logger.Warn("Failed to connect to Redis, relay disabled", "error", err)
		} else {
			a.redis = client
			a.relay = redisclient.NewRelay(client, cfg.Redis.Channel, logger)
		}
	}

	// 2. Storage
	store, err := a.openStore(ctx)
	if err != nil {
		a.closeClients()
		return nil, err
	}
	a.store = store

	// 3. Cache and fetcher
	downloader := opts.Downloader
	if downloader == nil {
		a.http = httpfetch.New(httpfetch.Config{
			UserAgent:    cfg.Fetch.UserAgent,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		})
		downloader = a.http
	}
	a.Cache = cache.New(store, downloader, cfg.Cache.Backend, logger, cache.WithDownloadTimeout(cfg.Fetch.Timeout))
	a.Fetcher = fetch.New(a.Cache, fetch.Config{Timeout: cfg.Fetch.Timeout, Retry: cfg.Fetch.Retry}, logger)

	// 4. Invalidation: local bus, plus other instances through the relay.
	a.Bus = bus.New[domain.CacheInvalidated](logger)
	publishers := invalidation.Fanout{invalidation.Local(a.Bus)}
	if a.relay != nil {
		publishers = append(publishers, a.relay)
	}
	a.Invalidation = invalidation.NewService(a.Cache, publishers, logger)

	// 5. Task plumbing
	a.loop = dispatch.NewLoop(64, logger)
	a.telemetry = telemetry.Multi{telemetry.LogSink{Logger: logger}, telemetry.PrometheusSink{}}
	if cfg.Cache.TTL > 0 {
		a.pruner = worker.NewPruner(cfg.Cache, a.Cache, logger)
	}

	// 6. HTTP server
	checks := map[string]server.Check{}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.db != nil {
		checks["postgres"] = a.db.Health
	}
	a.server = server.NewServer(server.Deps{
		Fetcher:     a.Fetcher,
		Invalidator: a.Invalidation,
		Tasks:       a.Board,
		Checks:      checks,
		Logger:      logger,
	}, cfg.Server.Port)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Cache.Backend {
	case storage.BackendFile:
		s, err := file.New(a.cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to init file store: %w", err)
		}
		a.log.Info("Using file storage", "dir", a.cfg.Cache.Dir)
		return s, nil

	case storage.BackendRedis:
		if a.redis == nil {
			return nil, errors.New("redis backend requires a redis connection")
		}
		a.log.Info("Using Redis storage")
		return redisclient.NewStore(a.redis, a.cfg.Cache.TTL), nil

	case storage.BackendPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		a.db = db
		a.log.Info("Using PostgreSQL storage")
		return postgres.NewEntryRepo(db), nil

	default:
		a.log.Info("Using Memory storage")
		return memory.NewMemoryStorage(), nil
	}
}

// Start starts every background component and the prefetch tasks. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.runCtx = ctx
	a.cancel = cancel
	a.mu.Unlock()

	a.goRun(func() { a.loop.Run(ctx) })

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	if a.pruner != nil {
		a.log.Info("Starting pruner", "ttl", a.cfg.Cache.TTL, "interval", a.pruner.Interval())
		a.goRun(func() { a.pruner.Start(ctx) })
	}

	if a.relay != nil {
		a.goRun(func() {
			// Remote messages go to the local bus only, never back to the relay.
			err := a.relay.Run(ctx, func(ctx context.Context, msg domain.CacheInvalidated) {
				a.Bus.Send(ctx, msg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("Invalidation relay failed", "error", err)
			}
		})
	}

	a.sub = a.Bus.Subscribe(a.onInvalidated)

	for _, p := range a.cfg.Prefetch {
		if _, err := a.AddPrefetch(ctx, p); err != nil {
			return fmt.Errorf("prefetch %q: %w", p.Name, err)
		}
	}
	return nil
}

// AddPrefetch builds and auto-starts a background task that keeps p warm in the cache.
func (a *App) AddPrefetch(ctx context.Context, p config.PrefetchConfig) (*task.Task, error) {
	opts := domain.FetchOptions{ParentID: p.ParentID, Permanent: p.Permanent}

	t, err := task.NewBuilder().
		Named(p.Name).
		AutoStart().
		UseBackgroundExecution().
		WithTelemetry(a.telemetry).
		WithDispatcher(a.loop).
		WithLogger(a.log).
		Run(func(ctx context.Context, rc *task.RunContext) error {
			rc.ReportProgress(0.1)
			res, err := a.Fetcher.GetBytes(ctx, p.URI, opts)
			if err != nil {
				return err
			}
			a.log.Debug("Prefetched resource", "task", p.Name, "uri", p.URI,
				"origin", res.Origin, "bytes", len(res.Data), "refresh", rc.IsRefreshing)
			return nil
		}).
		Build(ctx, a.Board.Notifier(p.Name))
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if prev, ok := a.tasks[p.Name]; ok {
		_ = prev.Close()
	}
	a.tasks[p.Name] = t
	a.prefetch[p.Name] = p
	a.mu.Unlock()

	a.Board.Track(t, p.URI)
	return t, nil
}

// Task returns the prefetch task with the given name.
func (a *App) Task(name string) (*task.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[name]
	return t, ok
}

// onInvalidated refreshes prefetch tasks whose resource was invalidated. A task that is
// still running drops the refresh.
func (a *App) onInvalidated(_ context.Context, msg domain.CacheInvalidated) {
	a.mu.Lock()
	ctx := a.runCtx
	var affected []*task.Task
	for name, p := range a.prefetch {
		if msg.Affects(p.URI, p.ParentID) {
			affected = append(affected, a.tasks[name])
		}
	}
	a.mu.Unlock()

	for _, t := range affected {
		if !t.StartRefresh(ctx) {
			a.log.Debug("Refresh skipped, task busy", "task", t.Name(), "scope", msg.Scope)
		}
	}
}

// Stop stops the app and releases its resources.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping fetchkit...")

	if a.sub != nil {
		_ = a.sub.Close()
	}

	a.mu.Lock()
	tasks := make([]*task.Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		tasks = append(tasks, t)
	}
	a.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range tasks {
		_ = t.Wait(ctx)
	}

	// Stop HTTP server
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.loop.Close()
	waitDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if a.http != nil {
		a.http.Close()
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	a.closeClients()

	return errors.Join(errs...)
}

func (a *App) closeClients() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}
