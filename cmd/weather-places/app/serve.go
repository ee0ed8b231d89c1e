package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/i474232898/weather-places/internal/api/http"
	"github.com/i474232898/weather-places/internal/config"
	"github.com/i474232898/weather-places/internal/notify"
	"github.com/i474232898/weather-places/internal/observability"
	"github.com/i474232898/weather-places/internal/repository"
	"github.com/i474232898/weather-places/internal/scheduler"
	"github.com/i474232898/weather-places/internal/store"
	"github.com/i474232898/weather-places/internal/weather"
	"github.com/i474232898/weather-places/internal/weather/providers"
)

const reachabilityTimeout = 2 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the refresh scheduler and the change export",
		RunE:  runServe,
	}
	cmd.Flags().Bool("migrate", false, "Apply the database schema before starting")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	migrate, err := cmd.Flags().GetBool("migrate")
	if err != nil {
		return fmt.Errorf("failed to get migrate flag: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	st, closeStore, err := openStore(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := buildPipeline(cfg, metrics, logger)
	if err != nil {
		return err
	}

	repo, err := repository.New(ctx, st, pipeline,
		repository.WithLogger(logger),
		repository.WithMetrics(metrics),
		repository.WithWorkers(cfg.WorkerCount, cfg.WorkerQueueSize),
		repository.WithPoolMetrics(prometheus.DefaultRegisterer),
		repository.WithFetchTimeout(cfg.FetchTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to start repository: %w", err)
	}

	sched := scheduler.New(repo, cfg.Locations, cfg.RefreshInterval,
		scheduler.WithLogger(logger),
		scheduler.WithMaxTries(cfg.RefreshMaxTries),
	)
	app := httpapi.NewApp(repo, repo, httpapi.AppConfig{
		CommandTimeout: cfg.CommandTimeout,
		RequestLogging: true,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		sink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		events := repo.Events(gctx)
		g.Go(func() error {
			defer func() {
				if err := sink.Close(); err != nil {
					logger.Error("kafka: close failed", "error", err)
				}
			}()
			if err := sink.Run(gctx, events); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		logger.Info("exporting changes to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("error during http shutdown", "error", err)
		}
		return repo.Shutdown(cfg.ShutdownTimeout)
	})

	if err := sched.Start(); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return g.Wait()
}

// openStore returns the PostgreSQL store when DATABASE_URL is set and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.AppConfig, migrate bool, logger *slog.Logger) (weather.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	st, err := store.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	logger.Info("using postgres store")
	return st, st.Close, nil
}

func buildPipeline(cfg *config.AppConfig, metrics *observability.Metrics, logger *slog.Logger) (*weather.Pipeline, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	openMeteo := providers.NewOpenMeteoProvider(client)
	openWeather := providers.NewOpenWeatherProvider(client, cfg.OpenWeatherAPIKey)

	var (
		wp weather.WeatherProvider    = openMeteo
		ap weather.AirQualityProvider = openMeteo
	)
	if cfg.Provider == config.ProviderOpenWeather {
		wp, ap = openWeather, openWeather
	}

	var resolver weather.Resolver
	switch cfg.Geocoder {
	case config.GeocoderGoogle:
		resolver = providers.NewGoogleResolver(cfg.GoogleGeocoderAPIKey)
	case config.ProviderOpenWeather:
		resolver = openWeather
	default:
		resolver = openMeteo
	}
	cached, err := providers.NewCachedResolver(resolver, cfg.GeocoderCacheSize, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}

	logger.Info("providers configured", "weather", wp.Name(), "air_quality", ap.Name(), "geocoder", cfg.Geocoder)
	return weather.NewPipeline(cached, wp, ap,
		providers.NewDialReachability(cfg.ReachabilityAddr, reachabilityTimeout),
		weather.WithPipelineLogger(logger),
		weather.WithPipelineMetrics(metrics),
	), nil
}
