package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"lendfarm/config"
	"lendfarm/core"
	"lendfarm/core/genesis"
	"lendfarm/gateway/middleware"
	"lendfarm/gateway/routes"
	"lendfarm/observability/logging"
	"lendfarm/observability/metrics"
	telemetry "lendfarm/observability/otel"
	"lendfarm/storage"
	"lendfarm/storage/eventlog"
)

func main() {
	var cfgPath string
	var seedPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.StringVar(&seedPath, "seed", "", "optional YAML seed applied to a fresh store")
	flag.Parse()

	if err := run(cfgPath, seedPath); err != nil {
		fmt.Fprintf(os.Stderr, "flywheeld: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, seedPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Node.Environment
	if override := strings.TrimSpace(os.Getenv("LENDFARM_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup(cfg.Telemetry.ServiceName, env, cfg.Logging.Level, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	identities, err := cfg.Flywheel.Identities()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Node)
	if err != nil {
		return err
	}
	defer db.Close()

	exec, err := core.NewExecutor(db, identities)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	defer exec.Close()
	exec.SetLogger(logger)
	exec.SetMetrics(metrics.Flywheel())
	pauses := cfg.Flywheel.PauseSet()
	exec.SetPauses(pauses)

	var history *eventlog.Store
	if cfg.Events.Enabled {
		if cfg.Events.Driver == eventlog.DriverSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.Events.DSN), 0o755); err != nil {
				return fmt.Errorf("create events dir: %w", err)
			}
		}
		history, err = eventlog.Open(cfg.Events.Driver, cfg.Events.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = history.Close() }()
		history.SetLogger(logger)
		exec.AddSink(history)
	}

	if err := bootstrap(exec, cfg.Flywheel, seedPath, logger); err != nil {
		return err
	}

	routeCfg := buildRoutes(cfg, exec, history, logger)
	routeCfg.Pauses = pauses
	if cfg.Auth.AllowHeaderCaller {
		logger.Warn("trusting X-Caller header on loopback listener", slog.String("addr", cfg.Node.ListenAddress))
	}
	handler, err := routes.New(routeCfg)
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, cfg.Telemetry.ServiceName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.Node.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	listener = netutil.LimitListener(listener, cfg.Node.MaxConnections)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go produceBlocks(ctx, exec, cfg.Node.BlockInterval, logger)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("stopped", slog.Uint64("height", exec.Height()))
	return nil
}

func openDatabase(node config.Node) (storage.Database, error) {
	switch node.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	default:
		path := filepath.Join(node.DataDir, "state")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", path, err)
		}
		return db, nil
	}
}

// bootstrap applies the seed file to a fresh store, or the configured
// initial speed when no seed is given and no speed was ever set.
func bootstrap(exec *core.Executor, fw config.Flywheel, seedPath string, logger *slog.Logger) error {
	if strings.TrimSpace(seedPath) != "" {
		spec, err := genesis.LoadSpec(seedPath)
		if err != nil {
			return err
		}
		var seeded bool
		err = exec.Apply(context.Background(), "seed", func(e *core.Engines) error {
			var err error
			seeded, err = genesis.Apply(spec, e.Flywheel, e.Ledger, e.State)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("seed processed", slog.String("path", seedPath), slog.Bool("applied", seeded))
		return nil
	}

	speed, err := fw.InitialSpeedAmount()
	if err != nil || speed == nil || speed.Sign() == 0 {
		return err
	}
	return exec.Apply(context.Background(), "initial-speed", func(e *core.Engines) error {
		current, err := e.Flywheel.NativeSpeed()
		if err != nil {
			return err
		}
		if current != nil && current.Sign() != 0 {
			return nil
		}
		logger.Info("setting initial native speed", slog.String("speed", speed.String()))
		return e.Flywheel.SetNativeSpeed(exec.Config().Admin, speed)
	})
}

func buildRoutes(cfg *config.Config, exec *core.Executor, history *eventlog.Store, logger *slog.Logger) routes.Config {
	limit := middleware.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}
	out := routes.Config{
		Executor: exec,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:           cfg.Auth.Enabled,
			AllowHeaderCaller: cfg.Auth.AllowHeaderCaller,
			HMACSecret:        cfg.Auth.HMACSecret,
			Issuer:            cfg.Auth.Issuer,
			Audience:          cfg.Auth.Audience,
			ClockSkew:         cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"flywheel": limit,
			"lending":  limit,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			LogRequests: true,
			Enabled:     true,
		}, logger),
		Logger: logger,
	}
	// A nil *eventlog.Store must not become a non-nil interface.
	if history != nil {
		out.Events = history
	}
	return out
}

// produceBlocks advances the clock by one block per interval.
func produceBlocks(ctx context.Context, exec *core.Executor, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := exec.AdvanceBlock(1)
			if err != nil {
				if errors.Is(err, core.ErrExecutorClosed) {
					return
				}
				logger.Error("advance block failed", slog.Any("error", err))
				continue
			}
			logger.Debug("block", slog.Uint64("height", height))
		}
	}
}
