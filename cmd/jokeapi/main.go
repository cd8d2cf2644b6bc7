package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jokeapi/internal/bot"
	"jokeapi/internal/cache"
	"jokeapi/internal/catalog"
	"jokeapi/internal/config"
	"jokeapi/internal/corpus"
	"jokeapi/internal/database"
	"jokeapi/internal/filter"
	"jokeapi/internal/httpapi"
	"jokeapi/internal/metrics"
	"jokeapi/internal/queue"
	"jokeapi/internal/search"
	"jokeapi/internal/service"
	"jokeapi/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrEmptyBotToken) {
			fmt.Fprintln(os.Stderr, "Error: BOT_TOKEN environment variable is required when the bot is enabled")
		} else if errors.Is(err, config.ErrEmptyDBPassword) {
			fmt.Fprintln(os.Stderr, "Error: DB_PASSWORD environment variable is required for the postgres cache backend")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}
		os.Exit(1)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.LogFormat, nil)
	logger.Info("Starting jokeapi",
		logger.String("app", cfg.App.Name),
		logger.String("environment", cfg.App.Environment),
	)

	if err := run(cfg); err != nil {
		logger.Error("jokeapi stopped with error", logger.Err(err))
		os.Exit(1)
	}

	logger.Info("jokeapi stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.Jokes.CatalogPath != "" {
		var err error
		if cat, err = catalog.Load(cfg.Jokes.CatalogPath); err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
	}

	jokes, err := corpus.Load(cfg.Jokes.DataDir, cat)
	if err != nil {
		return fmt.Errorf("failed to load jokes: %w", err)
	}
	holder := corpus.NewHolder(jokes)
	logger.Info("Jokes loaded",
		logger.Int("total", jokes.Stats().TotalCount),
		logger.Strings("languages", jokes.Languages()),
	)

	var (
		m            metrics.Metrics = metrics.Noop()
		metricsRoute http.Handler
	)
	if cfg.Metrics.Enabled {
		provider, err := metrics.New()
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		m, metricsRoute = provider, provider.Handler()
	}

	expiry := cache.ExpiryFromHours(cfg.Cache.ExpiryHours)
	var (
		store cache.Store
		ready func(context.Context) error
	)
	switch cfg.Cache.Backend {
	case config.CacheBackendPostgres:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			var dbErr *database.ConnectionError
			if errors.As(err, &dbErr) {
				logger.Error("Failed to connect to database",
					logger.Err(dbErr),
					logger.String("host", cfg.Database.Host),
					logger.Int("port", cfg.Database.Port),
				)
			}
			return err
		}
		defer db.Close()
		logger.Info("Connected to database")

		store = database.NewCacheRepository(db, expiry, cat.IsLanguage)
		ready = db.Ping
	default:
		store = cache.NewMemoryStore(expiry, cache.WithLanguageValidator(cat.IsLanguage))
	}

	g, ctx := errgroup.WithContext(ctx)

	var recorder service.Recorder
	if cfg.NATS.Enabled {
		q, err := queue.New(cfg.NATS)
		if err != nil {
			return err
		}
		defer q.Close()
		logger.Info("Connected to NATS", logger.String("url", cfg.NATS.URL))

		recorder = service.NewQueueRecorder(q)
		storeRecorder := service.NewStoreRecorder(store)
		g.Go(func() error {
			logger.Info("Starting served-joke consumer...")
			return ignoreCanceled(q.ConsumeServed(ctx, storeRecorder.HandleServed))
		})
	}

	svc := service.New(holder, cat, store, recorder, m, filter.Settings{
		MaxAmount:    cfg.Jokes.MaxAmount,
		CacheTimeout: cfg.Cache.ReadTimeout,
		Search: search.Options{
			RepetitionLimit: cfg.Search.RepetitionLimit,
			MatchTimeout:    cfg.Search.MatchTimeout,
		},
	})

	if cfg.Jokes.Watch {
		watcher := corpus.NewWatcher(cfg.Jokes.DataDir, cat, holder)
		g.Go(func() error {
			return ignoreCanceled(watcher.Run(ctx))
		})
	}

	sweeper := cache.NewSweeper(store, cfg.Cache.SweepInterval)
	g.Go(func() error {
		return ignoreCanceled(sweeper.Run(ctx))
	})

	if cfg.Bot.Enabled {
		telegramBot, err := bot.New(cfg.Bot, svc)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ignoreCanceled(telegramBot.Run(ctx))
		})
	}

	api := httpapi.New(svc, httpapi.Options{
		HealthEndpoint:  cfg.Health.Endpoint,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		Metrics:         metricsRoute,
		TrustProxy:      cfg.HTTP.TrustProxy,
		Ready:           ready,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g.Go(func() error {
		logger.Info("HTTP server starting", logger.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 10 * time.Second
}
