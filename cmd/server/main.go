package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"intake/internal/application/handler"
	"intake/internal/application/lock"
	"intake/internal/application/store"
	"intake/internal/audit/outbox"
	"intake/internal/auth"
	"intake/internal/duplicate"
	dupmetrics "intake/internal/duplicate/metrics"
	jwttoken "intake/internal/jwt_token"
	"intake/internal/lifecycle"
	lcmetrics "intake/internal/lifecycle/metrics"
	"intake/internal/platform/config"
	"intake/internal/platform/httpserver"
	"intake/internal/platform/kafka"
	"intake/internal/platform/logger"
	"intake/internal/platform/metrics"
	"intake/internal/platform/postgres"
	redisclient "intake/internal/platform/redis"
	"intake/internal/resolution"
	resmetrics "intake/internal/resolution/metrics"
	"intake/pkg/platform/httputil"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/platform/middleware/metadata"
	"intake/pkg/platform/middleware/requesttime"
)

// recordStore is what the services and the outbox relay need from a backend.
type recordStore interface {
	store.TxStore
	store.Outbox
}

// main wires the services, exposes the HTTP router and runs the background
// jobs until SIGINT or SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}

	records, closeStore, err := openStore(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer closeStore()

	redis, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		locker       lock.Locker       = lock.NewSharded()
		lockoutStore auth.LockoutStore = auth.NewMemoryLockoutStore()
	)
	if redis != nil {
		defer redis.Close()
		locker = lock.NewRedis(redis.Client, lock.WithTTL(cfg.Redis.LockTTL))
		lockoutStore = auth.NewRedisLockoutStore(redis.Client)
		log.Info("using redis for record locks and login lockout")
	}

	dupMetrics := dupmetrics.New()
	detectorOpts := []duplicate.Option{duplicate.WithLogger(log), duplicate.WithMetrics(dupMetrics)}
	comparators := duplicate.DefaultComparators()
	if settings.FuzzyMatching.Enabled {
		detectorOpts = append(detectorOpts, duplicate.WithFuzzyNames(settings.FuzzyMatching.MinConfidence))
		comparators = append(comparators, duplicate.FuzzyNameComparator{MinConfidence: settings.FuzzyMatching.MinConfidence})
	}
	detector := duplicate.New(records, detectorOpts...)

	lc := lifecycle.New(records, lifecycle.WithLogger(log), lifecycle.WithMetrics(lcmetrics.New()))
	intake := resolution.New(records, lc, detector,
		resolution.WithLogger(log),
		resolution.WithMetrics(resmetrics.New()),
		resolution.WithThreshold(settings.DuplicateThreshold),
		resolution.WithLocker(locker),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey)
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redis != nil {
			if err := redis.Health(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	lockout := auth.NewLockout(lockoutStore,
		auth.WithLockoutPolicy(cfg.Identity.MaxFailedLogins, cfg.Identity.LoginLockout),
		auth.WithLockoutLogger(log),
	)
	if cfg.Identity.URL != "" {
		authService := auth.NewService(auth.NewClient(cfg.Identity), jwtService, lockout,
			auth.WithLogger(log),
			auth.WithTokenTTL(cfg.Identity.TokenTTL),
		)
		auth.NewHandler(authService, log).Register(r)
	} else {
		log.Warn("IDENTITY_URL not set, login endpoint disabled")
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log))
		handler.New(lc, intake, detector, log).Register(r)
		auth.NewAdminHandler(lockout, log).Register(r)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			return err
		}
		relay := outbox.New(records, producer,
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
			outbox.WithInterval(cfg.Kafka.PollInterval),
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics()),
		)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("outbox relay failed", "error", err)
			}
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set, audit outbox relay disabled")
	}

	if cfg.DuplicateReportSchedule != "" {
		reporter := duplicate.NewReporter(records, comparators,
			duplicate.WithReportLogger(log),
			duplicate.WithReportMetrics(dupMetrics),
		)
		c, err := reporter.Schedule(ctx, cfg.DuplicateReportSchedule)
		if err != nil {
			return err
		}
		defer stopCron(c)
	}

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting intake server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, url string, log *slog.Logger) (recordStore, func(), error) {
	if url == "" {
		log.Info("DATABASE_URL not set, using in-memory record store")
		return store.NewInMemory(), func() {}, nil
	}
	db, err := postgres.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db, store.Schema); err != nil {
		closeDB(db, log)
		return nil, nil, err
	}
	log.Info("using postgres record store")
	return store.NewPostgres(db), func() { closeDB(db, log) }, nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("closing database", "error", err)
	}
}

func stopCron(c *cron.Cron) {
	<-c.Stop().Done()
}
