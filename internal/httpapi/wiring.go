package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gas_oracle/internal/auth"
	"gas_oracle/internal/billing"
	"gas_oracle/internal/captcha"
	"gas_oracle/internal/config"
	"gas_oracle/internal/explorer"
	"gas_oracle/internal/history"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/oracle"
	"gas_oracle/internal/queue"
	"gas_oracle/internal/ratelimit"
	"gas_oracle/internal/reconcile"
	"gas_oracle/internal/scheduler"
	"gas_oracle/internal/session"
	"gas_oracle/internal/storage"
	"gas_oracle/internal/storage/memstore"
)

const (
	// sessionMaxAge bounds a session token regardless of activity.
	sessionMaxAge = 24 * time.Hour

	jobTimeout = 5 * time.Minute
)

type keyStore interface {
	auth.KeyRepository
	billing.CreditLedger
	reconcile.KeyStore
}

type requestStore interface {
	billing.RequestLog
	RequestLogs
}

type rechargeStore interface {
	reconcile.Ledger
	Recharges
}

type repositories struct {
	keys      keyStore
	requests  requestStore
	recharges rechargeStore
	history   history.Repository
}

// App is the assembled server: the HTTP handler plus its background jobs.
type App struct {
	Handler http.Handler
	Deps    *Dependencies

	db        *storage.DB
	redis     *storage.RedisClient
	queue     queue.Queue
	dlq       queue.DeadLetterQueue
	worker    *reconcile.Worker
	scheduler *scheduler.Scheduler
	recorder  *history.Recorder
	started   bool
	logger    *logging.Logger
}

// Build wires every dependency from cfg. Nothing runs until Start.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{logger: logging.NewLogger("server")}
	prom := metrics.NewPrometheus()

	repos, err := app.openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled() {
		app.redis, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   3,

			ConnectAttempts: 5,
			ConnectDelay:    2 * time.Second,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	keyBytes, err := cfg.EncryptionKeyBytes()
	if err != nil {
		app.Close()
		return nil, err
	}
	encryption, err := storage.NewEncryption(keyBytes)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	directory := auth.NewDirectory(repos.keys, encryption, auth.NewEthereumWallet, cfg.Usage.BcryptCost, logging.NewLogger("keys"))

	// Gas prices: the sidecar behind a short-lived shared cache
	var readingCache oracle.ReadingCache = oracle.NewMemoryCache()
	if app.redis != nil {
		readingCache = oracle.NewRedisCache(app.redis.Client(), logging.NewLogger("oracle"))
	}
	gasSource := oracle.NewCachedSource(oracle.NewClient(cfg.Oracle.URL, cfg.Oracle.Timeout, prom), readingCache, cfg.Cache.GasReadingTTL)

	// Sessions
	var sessionStore session.Store = session.NewMemoryStore(cfg.Cache.SessionCapacity, cfg.Session.IdleTTL)
	if app.redis != nil {
		sessionStore = session.NewRedisStore(app.redis.Client(), cfg.Session.IdleTTL)
	}
	sessions := session.NewManager(sessionStore, cfg.JWTSecret, sessionMaxAge, logging.NewLogger("session"))

	var verifier captcha.Verifier = captcha.NoopVerifier{}
	if cfg.Session.RecaptchaSecret != "" {
		verifier = captcha.NewRecaptcha(cfg.Session.RecaptchaURL, cfg.Session.RecaptchaSecret, cfg.Session.RecaptchaScore, 10*time.Second)
	} else {
		app.logger.Warn("RECAPTCHA_SECRET is not set, sessions are issued without a captcha check")
	}

	authorizer := billing.NewAuthorizer(directory, repos.requests, repos.keys, sessions, prom, logging.NewLogger("billing"), billing.Config{
		Limit:          cfg.Usage.Limit,
		RequestCost:    cfg.Usage.RequestCost,
		Window:         cfg.Usage.Window,
		RequireSession: cfg.Session.Required,
	})

	// Deposits
	reconciler, err := reconcile.New(repos.keys, repos.recharges,
		explorer.NewClient(cfg.Explorer.URL, cfg.Explorer.APIKey, cfg.Explorer.Timeout),
		cfg.Reconcile.WeiPerCredit, prom, logging.NewLogger("reconcile"))
	if err != nil {
		app.Close()
		return nil, err
	}

	queueCfg := queue.DefaultConfig("gasoracle:reconcile")
	queueCfg.BatchSize = cfg.Reconcile.BatchSize
	queueCfg.BatchTimeout = cfg.Reconcile.BatchTimeout
	queueCfg.MaxRetries = cfg.Reconcile.MaxRetries
	queueCfg.RetryBackoff = cfg.Reconcile.RetryBackoff

	if app.redis != nil {
		rq, err := queue.NewRedisQueue(app.redis.Client(), queueCfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create reconcile queue: %w", err)
		}
		app.queue = rq
		rdlq, err := queue.NewRedisDeadLetterQueue(app.redis.Client(), queueCfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create reconcile DLQ: %w", err)
		}
		app.dlq = rdlq
	} else {
		app.queue = queue.NewMemoryQueue(queueCfg)
		app.dlq = queue.NewMemoryDeadLetterQueue()
	}
	app.worker = reconcile.NewWorker(app.queue, app.dlq, reconciler, queueCfg, logging.NewLogger("reconcile-worker"))

	// Background jobs
	app.scheduler = scheduler.New(jobTimeout, logging.NewLogger("scheduler"))
	if cfg.SaveHistory {
		app.recorder = history.NewRecorder(gasSource, repos.history, prom, logging.NewLogger("history"))
		if err := app.scheduler.Every("history", cfg.History.Interval, app.recorder.Record); err != nil {
			app.Close()
			return nil, err
		}
	}
	if err := app.scheduler.Every("reconcile", cfg.Reconcile.Interval, func(ctx context.Context) error {
		return app.worker.EnqueueAll(ctx, repos.keys)
	}); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.scheduler.Every("session-sweep", cfg.Session.SweepInterval, sessions.Sweep); err != nil {
		app.Close()
		return nil, err
	}

	var throttle ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if app.redis != nil {
		throttle = ratelimit.NewFixedLimiter(ratelimit.NewRateLimiter(app.redis.Client()), "throttle",
			cfg.Throttle.PerMinute, logging.NewLogger("throttle"))
	}

	deps := &Dependencies{
		Keys:           directory,
		Meter:          authorizer,
		Oracle:         gasSource,
		History:        repos.history,
		Requests:       repos.requests,
		Recharges:      repos.recharges,
		Reconciler:     reconciler,
		Sessions:       sessions,
		Captcha:        verifier,
		Throttle:       throttle,
		Metrics:        prom,
		MetricsHandler: prom.Handler(),
		Logger:         logging.NewLogger("http"),
	}
	if app.db != nil {
		deps.Health = append(deps.Health, HealthCheck{Name: "database", Check: app.db.Health})
	}
	if app.redis != nil {
		deps.Health = append(deps.Health, HealthCheck{Name: "redis", Check: app.redis.Health})
	}

	app.Deps = deps
	app.Handler = NewRouter(deps)
	return app, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Database.InMemory() {
		a.logger.Warn("DATABASE_URL=memory, nothing will survive a restart")
		mem := memstore.New()
		return &repositories{keys: mem, requests: mem, recharges: mem, history: mem}, nil
	}

	db, err := storage.NewDB(ctx, storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RetryAttempts:   cfg.Database.RetryAttempts,
		RetryDelay:      cfg.Database.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db

	return &repositories{
		keys:      storage.NewAPIKeyRepository(db),
		requests:  storage.NewRequestRepository(db),
		recharges: storage.NewRechargeRepository(db),
		history:   storage.NewHistoryRepository(db),
	}, nil
}

// Start launches the reconcile worker and the scheduler. A first history sample is
// taken right away.
func (a *App) Start(ctx context.Context) {
	a.worker.Start(ctx)
	a.scheduler.Start()
	if a.recorder != nil {
		go a.scheduler.RunNow("history", a.recorder.Record)
	}
	a.started = true
}

// Shutdown stops background jobs and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.started {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		if err := a.worker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("reconcile worker: %w", err))
		}
		a.started = false
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases connections without waiting for background jobs.
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.dlq != nil {
		errs = append(errs, a.dlq.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
