// exportd runs recurring report export schedules.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/api"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/config"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/dispatcher"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/executor"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/logging"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/metrics"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/schedules"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/tracing"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults plus EXPORTD_* variables when empty)")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the configuration")
	once := flag.Bool("once", false, "Run a single dispatch cycle, wait for its results and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("exportd %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("node_id", cfg.Node.ID).
		Msg("Starting exportd")

	if err := run(cfg, logger, *once); err != nil {
		logger.Error().Err(err).Msg("exportd failed")
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("exportd stopped")
}

func run(cfg *config.Config, logger zerolog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(ctx, cfg.Tracing, Version, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer shutdownWithTimeout(logger, "tracing", tp.Shutdown)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	civil, err := clock.NewCivil(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	clk := clock.New()
	calc := recurrence.NewCalculator(civil, cfg.MonthOverflow())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	exec, closeSource, err := buildExecutor(ctx, cfg, civil, clk, logger, m)
	if err != nil {
		return err
	}
	defer closeSource()

	disp := dispatcher.New(store, exec, calc, clk, logger, m, cfg.DispatcherConfig())
	if once {
		return disp.RunOnce(ctx)
	}

	svc := schedules.NewService(store, calc, clk, logger)

	routerCfg := cfg.RouterConfig()
	routerCfg.Metrics = m
	router := api.NewRouter(api.NewHandler(svc, logger), logger, routerCfg)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
	}

	if err := disp.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("address", cfg.Server.Address).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		disp.Stop()
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("Using in-memory storage, schedules are lost on restart")
		return storage.NewMemoryStore(), nil
	case config.BackendMongo:
		store, err := storage.NewMongoStore(ctx, cfg.MongoOptions())
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		logger.Info().Str("database", cfg.Storage.Mongo.Database).Msg("Using MongoDB storage")
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := storage.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info().Str("data_dir", cfg.Storage.DataDir).Msg("Using Badger storage")
		return store, nil
	}
}

// buildExecutor assembles source, mailer and optional circuit breaker. The
// returned func releases the source connection.
func buildExecutor(ctx context.Context, cfg *config.Config, civil *clock.CivilClock, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics) (executor.Executor, func(), error) {
	if err := executor.SetExcelLicense(cfg.Executor.ExcelLicenseKey); err != nil {
		return nil, nil, err
	}

	var (
		source  executor.DataSource = executor.SampleSource()
		release                     = func() {}
	)
	if cfg.Executor.Source.Type == config.SourceMongo {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Executor.Source.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect report source: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ping report source: %w", err)
		}
		db := client.Database(cfg.Executor.Source.Database)
		source = executor.NewMongoSource(db, cfg.Executor.Source.Collections, cfg.Executor.Source.MaxRows)
		release = func() { _ = client.Disconnect(context.Background()) }
	}

	var mailer executor.Mailer
	if cfg.Executor.DryRun {
		logger.Warn().Msg("Dry run enabled, reports are logged instead of emailed")
		mailer = executor.NewLogMailer(logger)
	} else {
		mailer = executor.NewSMTPMailer(cfg.Executor.SMTP)
	}

	var exec executor.Executor = executor.NewReportExecutor(source, mailer, civil, clk, cfg.Executor.Timeout.Duration(), logger)
	if bc := cfg.BreakerConfig(); bc.Enabled {
		exec = executor.NewBreakerExecutor("report", exec, bc, clk, logger, m)
	}
	return exec, release, nil
}

func shutdownWithTimeout(logger zerolog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Str("component", name).Msg("Shutdown failed")
	}
}
